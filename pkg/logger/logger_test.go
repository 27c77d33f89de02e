package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithOrderID(ctx, "order-9")
	log.Error(ctx, "boom", errors.New("carrier timeout"))

	entry := decode(t, buf)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "order-9", entry["order_id"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "carrier timeout", entry["error"])
	assert.Contains(t, entry, "stack")
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: buf, WarnStack: true}).Warn(context.Background(), "warny")
	assert.Contains(t, buf.String(), `"stack"`)

	buf.Reset()
	New(Options{ServiceName: "test", Output: buf}).Warn(context.Background(), "warny")
	assert.NotContains(t, buf.String(), `"stack"`)
}

func TestWithFieldsDoesNotLeakIntoParentContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	parent := log.WithStoreID(context.Background(), "store-1")
	_ = log.WithFields(parent, map[string]any{"provider": "shippo"})

	log.Info(parent, "parent")
	assert.NotContains(t, buf.String(), "shippo")
	assert.Contains(t, buf.String(), "store-1")
}

func TestSensitiveFieldsAreRedacted(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{
		"webhook_secret": "whsec_live",
		"Api_Key":        "shippo_live_abc",
		"carrier":        "delhivery",
	})
	log.Info(ctx, "configured")

	entry := decode(t, buf)
	assert.Equal(t, redacted, entry["webhook_secret"])
	assert.Equal(t, redacted, entry["Api_Key"])
	assert.Equal(t, "delhivery", entry["carrier"])
	assert.NotContains(t, buf.String(), "whsec_live")
}

func TestLevelFiltersDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: buf}).Debug(context.Background(), "hidden")
	assert.Empty(t, buf.String())
}

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
}
