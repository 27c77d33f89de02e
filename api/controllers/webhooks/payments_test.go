package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/internal/webhooks/payments"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type fakeIngester struct {
	calls   int
	sig     string
	payload string
	outcome string
	err     error
	sawDone bool
}

func (f *fakeIngester) Ingest(ctx context.Context, payload []byte, sigHeader string) (*payments.Event, string, error) {
	f.calls++
	f.sig = sigHeader
	f.payload = string(payload)
	_, f.sawDone = ctx.Deadline()
	if f.err != nil {
		return nil, payments.OutcomeFailed, f.err
	}
	return &payments.Event{ID: "evt_1"}, f.outcome, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestPaymentsWebhookAcknowledges(t *testing.T) {
	for _, outcome := range []string{payments.OutcomeProcessed, payments.OutcomeDuplicate, payments.OutcomeIgnored} {
		t.Run(outcome, func(t *testing.T) {
			svc := &fakeIngester{outcome: outcome}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			rec := httptest.NewRecorder()

			PaymentsWebhook(svc, 5*time.Second, testLogger())(rec, req)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, 1, svc.calls)
			assert.Equal(t, "t=1,v1=abc", svc.sig)
			assert.Equal(t, `{"id":"evt_1"}`, svc.payload)
			assert.True(t, svc.sawDone, "processing context should carry the timeout")

			var envelope struct {
				Data map[string]bool `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
			assert.True(t, envelope.Data["received"])
		})
	}
}

func TestPaymentsWebhookErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"bad signature", pkgerrors.Wrap(pkgerrors.CodeValidation, payments.ErrInvalidSignature, "signature mismatch"), http.StatusBadRequest},
		{"missing secret", pkgerrors.Wrap(pkgerrors.CodeInternal, payments.ErrNoSecretConfigured, "no secret"), http.StatusInternalServerError},
		{"dependency", pkgerrors.New(pkgerrors.CodeDependency, "database unavailable"), http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeIngester{err: tc.err}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()
			PaymentsWebhook(svc, 0, testLogger())(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestPaymentsWebhookSurvivesClientDisconnect(t *testing.T) {
	svc := &fakeIngester{outcome: payments.OutcomeProcessed}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(`{}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	PaymentsWebhook(svc, time.Second, testLogger())(rec, req)

	assert.Equal(t, 1, svc.calls)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentsWebhookRejectsOversizedPayload(t *testing.T) {
	svc := &fakeIngester{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(strings.Repeat("x", maxPayloadBytes+10)))
	rec := httptest.NewRecorder()
	PaymentsWebhook(svc, 0, testLogger())(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.calls)
}
