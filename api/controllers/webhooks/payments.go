package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/internal/webhooks/payments"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const (
	signatureHeader = "Stripe-Signature"
	maxPayloadBytes = 512 << 10
)

// PaymentIngester verifies, dedupes and routes one delivery.
type PaymentIngester interface {
	Ingest(ctx context.Context, payload []byte, sigHeader string) (*payments.Event, string, error)
}

// PaymentsWebhook accepts gateway deliveries. Processing is detached from
// the request so a gateway that hangs up mid-shipment does not abort the
// booking; timeout bounds it instead.
func PaymentsWebhook(svc PaymentIngester, timeout time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		if len(payload) > maxPayloadBytes {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payload too large"))
			return
		}

		work := context.WithoutCancel(ctx)
		if timeout > 0 {
			var cancel context.CancelFunc
			work, cancel = context.WithTimeout(work, timeout)
			defer cancel()
		}

		event, outcome, err := svc.Ingest(work, payload, r.Header.Get(signatureHeader))
		if err != nil {
			if pkgerrors.As(err) == nil && errors.Is(err, context.DeadlineExceeded) {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook processing timed out")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil && event != nil {
			logg.Debug(logg.WithFields(ctx, map[string]any{
				"event_id": event.ID,
				"outcome":  outcome,
			}), "payment webhook acknowledged")
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
