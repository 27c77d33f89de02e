package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
)

func newTestNotifier(t *testing.T) (Notifier, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "notifier-test", Output: io.Discard})
	n, err := New(ServiceParams{
		TxRunner:      db.NewFromConn(conn),
		Outbox:        outbox.NewService(outbox.NewRepository(conn), logg),
		Notifications: notifications.NewRepository(conn),
	})
	require.NoError(t, err)
	return n, conn
}

func testOrder() *models.Order {
	awb := "AWB123"
	courier := "Bluedart"
	provider := enums.ShippingProviderShiprocket
	return &models.Order{
		ID:               uuid.New(),
		StoreID:          uuid.New(),
		OrderNumber:      "ORD-42",
		CustomerName:     "Ravi",
		CustomerEmail:    "ravi@example.com",
		TotalCents:       9900,
		Currency:         "INR",
		AWBCode:          &awb,
		CourierName:      &courier,
		ShippingProvider: &provider,
	}
}

func outboxRows(t *testing.T, conn *gorm.DB) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, conn.Order("created_at ASC").Find(&rows).Error)
	return rows
}

func TestNotifyOrderConfirmedQueuesOutboxRow(t *testing.T) {
	n, conn := newTestNotifier(t)
	order := testOrder()

	require.NoError(t, n.NotifyOrderConfirmed(context.Background(), order))

	rows := outboxRows(t, conn)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventOrderConfirmed, rows[0].EventType)
	assert.Equal(t, order.ID, rows[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var payload payloads.OrderConfirmedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, "ORD-42", payload.OrderNumber)
	assert.Equal(t, int64(9900), payload.TotalCents)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "fulfillment", envelope.Actor.Source)
}

func TestNotifyShipmentFailedWritesAlertAndEvent(t *testing.T) {
	n, conn := newTestNotifier(t)
	order := testOrder()

	err := n.NotifyShipmentFailed(context.Background(), order, ShipmentFailure{
		Provider:  enums.ShippingProviderDelhivery,
		Attempts:  3,
		LastError: "status 502",
	})
	require.NoError(t, err)

	rows := outboxRows(t, conn)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventShipmentFailed, rows[0].EventType)

	var alerts []models.Notification
	require.NoError(t, conn.Where("store_id = ?", order.StoreID).Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, enums.NotificationTypeShipmentFailed, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "3 attempt(s)")
	assert.Contains(t, alerts[0].Message, "ORD-42")
}

func TestNotifyShipmentFailedWithoutAttempts(t *testing.T) {
	msg := shipmentFailedMessage(testOrder(), ShipmentFailure{LastError: "no serviceable courier"})
	assert.Equal(t, "No courier could be booked for order ORD-42: no serviceable courier. Please ship it manually.", msg)
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox unavailable")
}

func TestNotifyShipmentFailedRollsBackAlertWhenEmitFails(t *testing.T) {
	conn := dbtest.Open(t)
	n, err := New(ServiceParams{
		TxRunner:      db.NewFromConn(conn),
		Outbox:        failingEmitter{},
		Notifications: notifications.NewRepository(conn),
	})
	require.NoError(t, err)

	require.Error(t, n.NotifyShipmentFailed(context.Background(), testOrder(), ShipmentFailure{Attempts: 1, LastError: "x"}))

	var count int64
	require.NoError(t, conn.Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestNotifyShipmentLifecycleEvents(t *testing.T) {
	n, conn := newTestNotifier(t)
	order := testOrder()
	ctx := context.Background()

	require.NoError(t, n.NotifyShipmentCreated(ctx, order))
	require.NoError(t, n.NotifyShipmentCancelled(ctx, order, enums.ShippingProviderShiprocket, "AWB123"))
	require.NoError(t, n.NotifyRefundProcessed(ctx, order, 500, false))
	require.NoError(t, n.NotifyOrderCancelled(ctx, order))

	types := map[enums.OutboxEventType]bool{}
	for _, row := range outboxRows(t, conn) {
		types[row.EventType] = true
	}
	assert.Equal(t, map[enums.OutboxEventType]bool{
		enums.EventShipmentCreated:   true,
		enums.EventShipmentCancelled: true,
		enums.EventRefundProcessed:   true,
		enums.EventOrderCancelled:    true,
	}, types)

	order.AWBCode = nil
	assert.Error(t, n.NotifyShipmentCreated(ctx, order))
}
