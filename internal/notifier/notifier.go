// Package notifier fans order lifecycle facts out through the transactional
// outbox. Calls happen after the state change committed and may fail on
// their own; callers log and move on.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
)

// Notifier is what the orchestrator needs from the notification side.
type Notifier interface {
	NotifyOrderConfirmed(ctx context.Context, order *models.Order) error
	NotifyShipmentFailed(ctx context.Context, order *models.Order, failure ShipmentFailure) error
	NotifyRefundProcessed(ctx context.Context, order *models.Order, amountCents int64, isFull bool) error
	NotifyShipmentCreated(ctx context.Context, order *models.Order) error
	NotifyShipmentCancelled(ctx context.Context, order *models.Order, provider enums.ShippingProvider, trackingID string) error
	NotifyOrderCancelled(ctx context.Context, order *models.Order) error
}

// ShipmentFailure summarizes an exhausted shipment for the merchant.
type ShipmentFailure struct {
	Provider  enums.ShippingProvider
	Attempts  int
	LastError string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	TxRunner      txRunner
	Outbox        emitter
	Notifications notifications.Repository
	Source        string
}

type outboxNotifier struct {
	tx            txRunner
	outbox        emitter
	notifications notifications.Repository
	source        string
}

func New(params ServiceParams) (Notifier, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	source := params.Source
	if source == "" {
		source = "fulfillment"
	}
	return &outboxNotifier{
		tx:            params.TxRunner,
		outbox:        params.Outbox,
		notifications: params.Notifications,
		source:        source,
	}, nil
}

func (n *outboxNotifier) actor(storeID uuid.UUID) *outbox.ActorRef {
	id := storeID
	return &outbox.ActorRef{StoreID: &id, Source: n.source}
}

func (n *outboxNotifier) emit(ctx context.Context, order *models.Order, eventType enums.OutboxEventType, data any) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	return n.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return n.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         n.actor(order.StoreID),
			Data:          data,
		})
	})
}

func (n *outboxNotifier) NotifyOrderConfirmed(ctx context.Context, order *models.Order) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	paidAt := time.Now().UTC()
	if order.PaidAt != nil {
		paidAt = order.PaidAt.UTC()
	}
	return n.emit(ctx, order, enums.EventOrderConfirmed, payloads.OrderConfirmedEvent{
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		TotalCents:    order.TotalCents,
		Currency:      order.Currency,
		PaidAt:        paidAt,
	})
}

// NotifyShipmentFailed writes the dashboard alert in the same transaction
// as the outbox row so the merchant sees it without waiting on the bus.
func (n *outboxNotifier) NotifyShipmentFailed(ctx context.Context, order *models.Order, failure ShipmentFailure) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	alert, err := notifications.CreateInput{
		StoreID: order.StoreID,
		Type:    enums.NotificationTypeShipmentFailed,
		Title:   "Shipment needs attention",
		Message: shipmentFailedMessage(order, failure),
		Link:    notifications.OrderLink(order.ID),
	}.Build()
	if err != nil {
		return err
	}

	return n.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := n.notifications.WithTx(tx).Create(ctx, alert); err != nil {
			return err
		}
		return n.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventShipmentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         n.actor(order.StoreID),
			Data: payloads.ShipmentFailedEvent{
				OrderID:     order.ID,
				StoreID:     order.StoreID,
				OrderNumber: order.OrderNumber,
				Provider:    failure.Provider,
				Attempts:    failure.Attempts,
				LastError:   failure.LastError,
			},
		})
	})
}

func shipmentFailedMessage(order *models.Order, failure ShipmentFailure) string {
	if failure.Attempts == 0 {
		return fmt.Sprintf("No courier could be booked for order %s: %s. Please ship it manually.",
			order.OrderNumber, failure.LastError)
	}
	return fmt.Sprintf("Automatic shipping for order %s failed after %d attempt(s) with %s: %s. Please ship it manually.",
		order.OrderNumber, failure.Attempts, failure.Provider, failure.LastError)
}

func (n *outboxNotifier) NotifyRefundProcessed(ctx context.Context, order *models.Order, amountCents int64, isFull bool) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	return n.emit(ctx, order, enums.EventRefundProcessed, payloads.RefundProcessedEvent{
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		AmountCents:   amountCents,
		IsFull:        isFull,
	})
}

func (n *outboxNotifier) NotifyShipmentCreated(ctx context.Context, order *models.Order) error {
	if order == nil || !order.HasShipment() {
		return fmt.Errorf("order with shipment required")
	}
	event := payloads.ShipmentCreatedEvent{
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		TrackingID:    *order.AWBCode,
	}
	if order.ShippingProvider != nil {
		event.Provider = *order.ShippingProvider
	}
	if order.CourierName != nil {
		event.CourierName = *order.CourierName
	}
	return n.emit(ctx, order, enums.EventShipmentCreated, event)
}

func (n *outboxNotifier) NotifyShipmentCancelled(ctx context.Context, order *models.Order, provider enums.ShippingProvider, trackingID string) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	return n.emit(ctx, order, enums.EventShipmentCancelled, payloads.ShipmentCancelledEvent{
		OrderID:     order.ID,
		StoreID:     order.StoreID,
		OrderNumber: order.OrderNumber,
		Provider:    provider,
		TrackingID:  trackingID,
	})
}

func (n *outboxNotifier) NotifyOrderCancelled(ctx context.Context, order *models.Order) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	cancelledAt := time.Now().UTC()
	if order.CancelledAt != nil {
		cancelledAt = order.CancelledAt.UTC()
	}
	return n.emit(ctx, order, enums.EventOrderCancelled, payloads.OrderCancelledEvent{
		OrderID:     order.ID,
		StoreID:     order.StoreID,
		OrderNumber: order.OrderNumber,
		CancelledAt: cancelledAt,
	})
}
