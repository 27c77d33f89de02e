package notifications

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
)

type memoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotencyStore) Get(context.Context, string) (string, error) { return "", nil }

func (m *memoryIdempotencyStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryIdempotencyStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (m *memoryIdempotencyStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

func newTestConsumer(t *testing.T) (*Consumer, Repository) {
	t.Helper()
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo)
	require.NoError(t, err)
	manager, err := idempotency.NewManager(&memoryIdempotencyStore{keys: map[string]bool{}}, time.Hour)
	require.NoError(t, err)
	consumer, err := NewConsumer(svc, manager, logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard}))
	require.NoError(t, err)
	return consumer, repo
}

func envelope(t *testing.T, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), OccurredAt: time.Now().UTC(), Data: raw})
	require.NoError(t, err)
	return out
}

func listAll(t *testing.T, repo Repository, storeID uuid.UUID) []models.Notification {
	t.Helper()
	rows, _, err := repo.List(context.Background(), listNotificationsParams{StoreID: storeID, Limit: 50})
	require.NoError(t, err)
	return rows
}

func TestConsumerCreatesOrderConfirmedAlertOnce(t *testing.T) {
	consumer, repo := newTestConsumer(t)
	storeID := uuid.New()
	msg := envelope(t, payloads.OrderConfirmedEvent{
		OrderID:      uuid.New(),
		StoreID:      storeID,
		OrderNumber:  "ORD-7",
		CustomerName: "Asha",
		TotalCents:   12345,
		Currency:     "INR",
	})

	res := consumer.process(context.Background(), "m1", string(enums.EventOrderConfirmed), msg)
	assert.True(t, res.ack)
	res = consumer.process(context.Background(), "m2", string(enums.EventOrderConfirmed), msg)
	assert.True(t, res.ack)

	rows := listAll(t, repo, storeID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.NotificationTypeOrderConfirmed, rows[0].Type)
	assert.Contains(t, rows[0].Message, "ORD-7")
	assert.Contains(t, rows[0].Message, "123.45")
}

func TestConsumerRefundAlert(t *testing.T) {
	consumer, repo := newTestConsumer(t)
	storeID := uuid.New()
	msg := envelope(t, payloads.RefundProcessedEvent{OrderID: uuid.New(), StoreID: storeID, OrderNumber: "ORD-9", IsFull: true})

	res := consumer.process(context.Background(), "m1", string(enums.EventRefundProcessed), msg)
	assert.True(t, res.ack)

	rows := listAll(t, repo, storeID)
	require.Len(t, rows, 1)
	assert.Equal(t, "Order ORD-9 was fully refunded.", rows[0].Message)
}

func TestConsumerSkipsOtherEvents(t *testing.T) {
	consumer, repo := newTestConsumer(t)
	storeID := uuid.New()
	msg := envelope(t, payloads.ShipmentFailedEvent{OrderID: uuid.New(), StoreID: storeID})

	res := consumer.process(context.Background(), "m1", string(enums.EventShipmentFailed), msg)
	assert.True(t, res.ack)
	assert.Empty(t, listAll(t, repo, storeID))
}

func TestConsumerDropsAlertWithoutStore(t *testing.T) {
	consumer, repo := newTestConsumer(t)
	msg := envelope(t, payloads.OrderConfirmedEvent{OrderID: uuid.New(), OrderNumber: "ORD-1"})

	res := consumer.process(context.Background(), "m1", string(enums.EventOrderConfirmed), msg)
	assert.True(t, res.ack)
	assert.False(t, res.nack)
	assert.Empty(t, listAll(t, repo, uuid.Nil))
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.05", formatCents(5))
	assert.Equal(t, "10.00", formatCents(1000))
	assert.Equal(t, "-1.50", formatCents(-150))
}
