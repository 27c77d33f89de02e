package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccessStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccessStatus(rec, http.StatusAccepted, map[string]bool{"received": true})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"received":true}}`, rec.Body.String())
}

func TestWriteErrorClientFacingCodes(t *testing.T) {
	ctx := context.WithValue(context.Background(), chimw.RequestIDKey, "req-7")
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "weight_grams must be positive").
		WithDetails(map[string]string{"field": "weight_grams"})
	WriteError(ctx, nil, rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, string(pkgerrors.CodeValidation), body.Code)
	assert.Equal(t, "weight_grams must be positive", body.Message)
	assert.Equal(t, map[string]any{"field": "weight_grams"}, body.Details)
	assert.Equal(t, "req-7", body.RequestID)
	assert.False(t, body.Retryable)
}

func TestWriteErrorHidesInternalText(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "responses-test", Output: buf})
	rec := httptest.NewRecorder()
	WriteError(context.Background(), logg, rec, errors.New("dial tcp 10.0.0.3:5432: refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, string(pkgerrors.CodeInternal), body.Code)
	assert.Equal(t, "internal server error", body.Message)
	assert.Nil(t, body.Details)
	assert.True(t, body.Retryable)
	assert.Contains(t, buf.String(), "10.0.0.3")
}

func TestWriteErrorDependencyUsesPublicMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeDependency, "shiprocket token endpoint returned 502"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "dependency unavailable", body.Message)
	assert.True(t, body.Retryable)
}

func TestWriteErrorRateLimitSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeRateLimit, "too many tracking lookups").
		WithDetails(map[string]any{"retry_after_seconds": 60})
	WriteError(context.Background(), nil, rec, err)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "too many tracking lookups", decodeError(t, rec).Message)
}

func TestWriteErrorNil(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
