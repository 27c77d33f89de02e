package payments

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
)

// Webhook outcomes recorded per delivery.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// EventHandler routes a verified event. Implemented by the orchestrator.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

type ServiceParams struct {
	Verifier *Verifier
	Guard    *IdempotencyGuard
	Handler  EventHandler
	Metrics  *metrics.FulfillmentMetrics
	Logger   *logger.Logger
}

// Service is the webhook ingestion pipeline: verify, dedupe, route.
type Service struct {
	verifier *Verifier
	guard    *IdempotencyGuard
	handler  EventHandler
	metrics  *metrics.FulfillmentMetrics
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Verifier == nil {
		return nil, fmt.Errorf("verifier required")
	}
	if params.Handler == nil {
		return nil, fmt.Errorf("event handler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		verifier: params.Verifier,
		guard:    params.Guard,
		handler:  params.Handler,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Ingest returns the verified event together with the outcome. Routed
// no-ops and duplicates succeed; only verification and handler failures
// return an error.
func (s *Service) Ingest(ctx context.Context, payload []byte, sigHeader string) (*Event, string, error) {
	event, err := s.verifier.Verify(ctx, payload, sigHeader)
	if err != nil {
		s.metrics.IncWebhookEvent("unknown", OutcomeRejected)
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "payment webhook rejected")
		return nil, OutcomeRejected, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":      event.ID,
		"event_type":    event.GatewayType,
		"verified_with": string(event.VerifiedWith),
	})
	if event.HasOrder() {
		ctx = s.logg.WithOrderID(ctx, event.OrderID.String())
	}
	kind := string(event.Type)

	if event.Type == enums.PaymentEventIgnored {
		s.metrics.IncWebhookEvent(kind, OutcomeIgnored)
		s.logg.Debug(ctx, "payment webhook ignored")
		return event, OutcomeIgnored, nil
	}

	claimed := false
	if s.guard != nil {
		dup, err := s.guard.CheckAndMark(ctx, event.ID)
		switch {
		case err != nil:
			// Every downstream write is state-gated, so running without the
			// guard is safe.
			s.logg.Error(ctx, "webhook idempotency check failed", err)
		case dup:
			s.metrics.IncWebhookEvent(kind, OutcomeDuplicate)
			s.logg.Info(ctx, "payment webhook duplicate skipped")
			return event, OutcomeDuplicate, nil
		default:
			claimed = true
		}
	}

	if err := s.handler.HandleEvent(ctx, event); err != nil {
		if claimed {
			if delErr := s.guard.Delete(ctx, event.ID); delErr != nil {
				s.logg.Error(ctx, "release webhook idempotency key", delErr)
			}
		}
		s.metrics.IncWebhookEvent(kind, OutcomeFailed)
		s.logg.Error(ctx, "payment webhook handling failed", err)
		return event, OutcomeFailed, err
	}

	s.metrics.IncWebhookEvent(kind, OutcomeProcessed)
	s.logg.Info(ctx, "payment webhook processed")
	return event, OutcomeProcessed, nil
}
