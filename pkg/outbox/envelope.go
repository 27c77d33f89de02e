package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is written on every new event. Consumers accept anything
// up to it.
const EnvelopeVersion = 1

var ErrEmptyPayload = errors.New("envelope has no data")

// ActorRef names the store and flow that caused an event.
type ActorRef struct {
	StoreID *uuid.UUID `json:"storeId,omitempty"`
	// Source is the producing flow, e.g. "payments_webhook" or "cron-worker".
	Source string `json:"source,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(occurredAt time.Time, actor *ActorRef, data any) (PayloadEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode event data: %w", err)
	}
	return PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt,
		Actor:      actor,
		Data:       raw,
	}, nil
}

// DecodeEnvelope parses a stored or published envelope and rejects ones whose
// data is missing or from a newer producer.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version > EnvelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("envelope version %d not supported", env.Version)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, ErrEmptyPayload
	}
	return env, nil
}

// EventUUID parses EventID; consumers key idempotency on it.
func (e PayloadEnvelope) EventUUID() (uuid.UUID, error) {
	return uuid.Parse(e.EventID)
}
