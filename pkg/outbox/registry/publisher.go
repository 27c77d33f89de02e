// Package registry maps outbox event types to their pub/sub topic and typed
// payload so the publisher can validate a row before sending it.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never publish; the dispatcher moves
// it to the DLQ instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// route says which topic an event goes to. Merchant alerts feed the
// notification consumer; lifecycle facts go to the orders topic.
type route struct {
	eventType enums.OutboxEventType
	alert     bool
	payload   func() any
}

var routes = []route{
	{enums.EventOrderConfirmed, true, func() any { return &payloads.OrderConfirmedEvent{} }},
	{enums.EventShipmentFailed, true, func() any { return &payloads.ShipmentFailedEvent{} }},
	{enums.EventRefundProcessed, true, func() any { return &payloads.RefundProcessedEvent{} }},
	{enums.EventShipmentCreated, false, func() any { return &payloads.ShipmentCreatedEvent{} }},
	{enums.EventShipmentCancelled, false, func() any { return &payloads.ShipmentCancelledEvent{} }},
	{enums.EventOrderCancelled, false, func() any { return &payloads.OrderCancelledEvent{} }},
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.OrdersTopic == "":
		return nil, errors.New("orders topic is required")
	case cfg.NotificationTopic == "":
		return nil, errors.New("notification topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(routes))}
	for _, rt := range routes {
		topic := cfg.OrdersTopic
		if rt.alert {
			topic = cfg.NotificationTopic
		}
		reg.entries[rt.eventType] = EventDescriptor{
			EventType:      rt.eventType,
			AggregateType:  enums.AggregateOrder,
			Topic:          topic,
			PayloadFactory: rt.payload,
		}
	}
	return reg, nil
}

// Topics lists every topic the registry routes to, for startup checks.
func (r *EventRegistry) Topics() []string {
	seen := map[string]bool{}
	var topics []string
	for _, rt := range routes {
		topic := r.entries[rt.eventType].Topic
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	return topics
}

// Resolve checks the row against its descriptor and decodes the typed
// payload. Every failure here is permanent for that row.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, nonRetryable("%s: %w", event.EventType, err)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
