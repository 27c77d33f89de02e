package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
)

const orderNotificationConsumer = "order-notifications"

// Consumer turns order lifecycle events from the notification topic into
// dashboard alerts. Shipment failures are written synchronously by the
// notifier and are skipped here.
type Consumer struct {
	svc         Service
	idempotency *idempotency.Manager
	logg        *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(svc Service, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		svc:         svc,
		idempotency: manager,
		logg:        logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context, subscription *pubsub.Subscriber) error {
	if subscription == nil {
		return fmt.Errorf("notification subscription required")
	}
	return subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes["event_type"], msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID, eventType string, data []byte) processResult {
	fields := map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	switch enums.OutboxEventType(eventType) {
	case enums.EventOrderConfirmed, enums.EventRefundProcessed:
	default:
		c.logg.Debug(logCtx, "skipping event without dashboard alert")
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := envelope.EventUUID()
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	input, err := alertFor(enums.OutboxEventType(eventType), envelope.Data)
	if err != nil {
		// A payload that cannot decode will not decode on redelivery either.
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithStoreID(logCtx, input.StoreID.String())

	if _, err := c.svc.Create(ctx, input); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			c.logg.Error(logCtx, "dropping invalid notification", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, orderNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "store notified")
	return processResult{ack: true}
}

func alertFor(eventType enums.OutboxEventType, data json.RawMessage) (CreateInput, error) {
	switch eventType {
	case enums.EventOrderConfirmed:
		var p payloads.OrderConfirmedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return CreateInput{}, err
		}
		return CreateInput{
			StoreID: p.StoreID,
			Type:    enums.NotificationTypeOrderConfirmed,
			Title:   "New paid order",
			Message: fmt.Sprintf("Order %s from %s was paid (%s %s).", p.OrderNumber, p.CustomerName, formatCents(p.TotalCents), p.Currency),
			Link:    OrderLink(p.OrderID),
		}, nil
	case enums.EventRefundProcessed:
		var p payloads.RefundProcessedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return CreateInput{}, err
		}
		message := fmt.Sprintf("A partial refund of %s was recorded for order %s.", formatCents(p.AmountCents), p.OrderNumber)
		if p.IsFull {
			message = fmt.Sprintf("Order %s was fully refunded.", p.OrderNumber)
		}
		return CreateInput{
			StoreID: p.StoreID,
			Type:    enums.NotificationTypeRefundProcessed,
			Title:   "Refund processed",
			Message: message,
			Link:    OrderLink(p.OrderID),
		}, nil
	default:
		return CreateInput{}, fmt.Errorf("no alert for %s", eventType)
	}
}

// OrderLink is the dashboard path of an order.
func OrderLink(orderID uuid.UUID) string {
	return fmt.Sprintf("/orders/%s", orderID)
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
