package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/registry"
)

func TestProcessBatchRetriesFailureAndPublishesRest(t *testing.T) {
	first := orderEvent(t, enums.EventOrderConfirmed, 0)
	second := orderEvent(t, enums.EventOrderConfirmed, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	svc := newTestService(t, repo, pub, resolvingRegistry("fulfillment-notification-events"), &fakeDLQRepo{}, 5)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, repo.published)
	assert.Empty(t, repo.terminal)
}

func TestProcessBatchEmptyReportsIdle(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, resolvingRegistry("t"), &fakeDLQRepo{}, 5)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessBatchKeysMessagesByOrder(t *testing.T) {
	storeID := uuid.New()
	event := orderEvent(t, enums.EventShipmentFailed, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	reg := resolvingRegistry("fulfillment-notification-events")
	reg.actor = &outbox.ActorRef{StoreID: &storeID, Source: "payments_webhook"}
	recorder := &fakeMetrics{}

	svc := newTestService(t, repo, pub, reg, &fakeDLQRepo{}, 5)
	svc.metrics = recorder
	fixed := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, event.AggregateID.String(), msg.OrderingKey)
	assert.Equal(t, string(enums.EventShipmentFailed), msg.Attributes["event_type"])
	assert.Equal(t, event.AggregateID.String(), msg.Attributes["aggregate_id"])
	assert.Equal(t, event.ID.String(), msg.Attributes["event_id"])
	assert.Equal(t, storeID.String(), msg.Attributes["store_id"])
	assert.Equal(t, "payments_webhook", msg.Attributes["source"])

	require.Len(t, repo.publishedAt, 1)
	assert.True(t, repo.publishedAt[0].Equal(fixed))
	assert.Equal(t, 1, recorder.outcomes["published"])
}

func TestProcessBatchDeadLettersUnresolvableRow(t *testing.T) {
	event := orderEvent(t, enums.EventOrderConfirmed, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlq := &fakeDLQRepo{}
	pub := &fakePublisher{}

	svc := newTestService(t, repo, pub, reg, dlq, 5)
	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Empty(t, pub.messages)

	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.JSONEq(t, string(event.Payload), string(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "invalid payload")
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestProcessBatchDeadLettersAfterMaxAttempts(t *testing.T) {
	event := orderEvent(t, enums.EventOrderConfirmed, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	dlq := &fakeDLQRepo{}
	recorder := &fakeMetrics{}

	svc := newTestService(t, repo, pub, resolvingRegistry("fulfillment-order-events"), dlq, 2)
	svc.metrics = recorder
	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	assert.Empty(t, repo.failed)
	assert.Equal(t, 1, recorder.outcomes["dead_lettered"])
}

func TestProcessBatchMissingPublisherIsTerminal(t *testing.T) {
	event := orderEvent(t, enums.EventShipmentCreated, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}

	svc := newTestService(t, repo, nil, resolvingRegistry("unknown-topic"), dlq, 5)
	svc.publishers = func(string) publisher { return nil }
	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
}

func TestNewServiceAppliesDefaults(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Config:        &config.Config{},
		Logger:        testLogger(),
		DB:            &fakeDB{},
		PubSub:        &fakePubSubClient{},
		Repository:    &fakeRepo{},
		Registry:      &fakeRegistry{},
		DLQRepository: &fakeDLQRepo{},
	})
	require.NoError(t, err)
	assert.Equal(t, defaultBatchSize, svc.batchSize)
	assert.Equal(t, defaultMaxAttempts, svc.maxAttempts)
	assert.Equal(t, defaultPollInterval, svc.interval)

	_, err = NewService(ServiceParams{Config: &config.Config{}, Logger: testLogger()})
	assert.Error(t, err)
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, reg registryResolver, dlq dlqRepository, maxAttempts int) *Service {
	t.Helper()
	cfg := &config.Config{Outbox: config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    maxAttempts,
	}}
	svc, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           testLogger(),
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         reg,
		PublisherFactory: func(string) publisher { return pub },
		DLQRepository:    dlq,
	})
	require.NoError(t, err)
	return svc
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
}

func orderEvent(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeRepo struct {
	events      []models.OutboxEvent
	published   []uuid.UUID
	publishedAt []time.Time
	failed      []uuid.UUID
	terminal    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID, at time.Time) error {
	f.published = append(f.published, id)
	f.publishedAt = append(f.publishedAt, at)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ time.Time) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (*fakeDB) Ping(context.Context) error { return nil }

func (*fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct{}

func (*fakePubSubClient) Ping(context.Context) error { return nil }

func (*fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "msg-1", f.err
}

// fakeRegistry resolves every row onto one topic, echoing the row id as the
// envelope event id.
type fakeRegistry struct {
	topic string
	actor *outbox.ActorRef
	err   error
}

func resolvingRegistry(topic string) *fakeRegistry {
	return &fakeRegistry{topic: topic}
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			Topic:         f.topic,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    event.ID.String(),
			OccurredAt: time.Now(),
			Actor:      f.actor,
		},
		Payload: &payloads.OrderConfirmedEvent{},
	}, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeMetrics struct {
	outcomes map[string]int
}

func (f *fakeMetrics) IncOutboxPublish(_ string, outcome string) {
	if f.outcomes == nil {
		f.outcomes = map[string]int{}
	}
	f.outcomes[outcome]++
}
