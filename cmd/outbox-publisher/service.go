package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID, at time.Time) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, at time.Time) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// publishMetrics records one outcome per processed row.
type publishMetrics interface {
	IncOutboxPublish(eventType, outcome string)
}

type noopPublishMetrics struct{}

func (noopPublishMetrics) IncOutboxPublish(string, string) {}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          publishMetrics
	Clock            func() time.Time
}

// Service drains outbox_events onto pub/sub. Events of one order share an
// ordering key so consumers see confirmation before shipment facts.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	pubsub      pubSubClient
	repo        outboxRepository
	registry    registryResolver
	dlq         dlqRepository
	publishers  publisherFactory
	metrics     publishMetrics
	batchSize   int
	maxAttempts int
	interval    time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	s := &Service{
		logg:        params.Logger,
		db:          params.DB,
		pubsub:      params.PubSub,
		repo:        params.Repository,
		registry:    params.Registry,
		dlq:         params.DLQRepository,
		publishers:  params.PublisherFactory,
		metrics:     params.Metrics,
		batchSize:   positiveOr(params.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(params.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		interval:    defaultPollInterval,
		now:         params.Clock,
	}
	if ms := params.Config.Outbox.PollIntervalMS; ms > 0 {
		s.interval = time.Duration(ms) * time.Millisecond
	}
	if s.publishers == nil {
		s.publishers = orderedPublishers(params.PubSub)
	}
	if s.metrics == nil {
		s.metrics = noopPublishMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := s.interval
	for {
		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = min(wait*2, maxIdleBackoff)
		case processed:
			// more rows may be waiting
			wait = s.interval
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		default:
			wait = s.interval
		}

		if err := sleep(ctx, wait+rand.N(jitterWindow)); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}
	}
}

// delivery is the fate of one row after a publish attempt. A set reason
// means the row is dead-lettered instead of retried.
type delivery struct {
	event  models.OutboxEvent
	topic  string
	fields map[string]any
	err    error
	reason enums.OutboxDLQErrorReason
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0
		for _, event := range events {
			if err := s.settle(ctx, tx, s.deliver(ctx, event)); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	d := delivery{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		d.fields = s.eventFields(event, outbox.PayloadEnvelope{}, "")
		d.err = err
		d.reason = enums.OutboxDLQReasonNonRetryable
		return d
	}

	d.topic = resolved.Descriptor.Topic
	d.fields = s.eventFields(event, resolved.Envelope, d.topic)
	d.err = s.publish(ctx, event, resolved)

	var nonRetry registry.NonRetryableError
	switch {
	case d.err == nil:
	case errors.As(d.err, &nonRetry):
		d.reason = enums.OutboxDLQReasonNonRetryable
	case event.AttemptCount+1 >= s.maxAttempts:
		d.fields["terminal_reason"] = "max_attempts"
		d.err = fmt.Errorf("max publish attempts reached: %w", d.err)
		d.reason = enums.OutboxDLQReasonMaxAttempts
	}
	return d
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, d delivery) error {
	eventType := string(d.event.EventType)
	logCtx := s.logg.WithFields(ctx, d.fields)

	switch {
	case d.err == nil:
		if err := s.repo.MarkPublishedTx(tx, d.event.ID, s.now().UTC()); err != nil {
			return fmt.Errorf("mark published %s: %w", d.event.ID, err)
		}
		s.metrics.IncOutboxPublish(eventType, "published")
		s.logg.Info(logCtx, "outbox event published")

	case d.reason != "":
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"error_reason": d.reason,
			"error":        d.err.Error(),
		})
		s.logg.Warn(logCtx, "outbox event will not be retried")
		if err := s.dlq.InsertTx(tx, s.deadLetter(d)); err != nil {
			return fmt.Errorf("insert dlq %s: %w", d.event.ID, err)
		}
		if err := s.repo.MarkTerminalTx(tx, d.event.ID, d.err, s.now().UTC()); err != nil {
			return fmt.Errorf("mark terminal %s: %w", d.event.ID, err)
		}
		s.metrics.IncOutboxPublish(eventType, "dead_lettered")

	default:
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"attempt_count": d.event.AttemptCount + 1,
			"error":         d.err.Error(),
		})
		s.logg.Warn(logCtx, "outbox publish failed")
		if err := s.repo.MarkFailedTx(tx, d.event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", d.event.ID, err)
		}
		s.metrics.IncOutboxPublish(eventType, "retry")
	}
	return nil
}

func (s *Service) deadLetter(d delivery) models.OutboxDLQ {
	msg := d.err.Error()
	return models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       d.event.ID,
		EventType:     d.event.EventType,
		AggregateType: d.event.AggregateType,
		AggregateID:   d.event.AggregateID,
		Payload:       d.event.Payload,
		ErrorReason:   d.reason,
		ErrorMessage:  &msg,
		AttemptCount:  d.event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, buildMessage(event, resolved.Envelope))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// buildMessage keys every message by its order so a subscriber with ordering
// enabled receives one order's events in commit order.
func buildMessage(event models.OutboxEvent, envelope outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if actor := envelope.Actor; actor != nil {
		if actor.StoreID != nil {
			attrs["store_id"] = actor.StoreID.String()
		}
		if actor.Source != "" {
			attrs["source"] = actor.Source
		}
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: event.OrderingKey(),
	}
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"order_id":       event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// orderedPublishers caches one ordering-enabled publisher per topic.
func orderedPublishers(client pubSubClient) publisherFactory {
	cache := map[string]publisher{}
	return func(topic string) publisher {
		if pub, ok := cache[topic]; ok {
			return pub
		}
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		p.EnableMessageOrdering = true
		pub := &gcpPublisher{publisher: p}
		cache[topic] = pub
		return pub
	}
}

type gcpPublisher struct {
	publisher *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{
		result:    p.publisher.Publish(ctx, msg),
		publisher: p.publisher,
		key:       msg.OrderingKey,
	}
}

type gcpPublishResult struct {
	result    *gcppubsub.PublishResult
	publisher *gcppubsub.Publisher
	key       string
}

// Get resumes the ordering key after a failure; pub/sub pauses a key on error
// and would reject every later message for that order.
func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	id, err := r.result.Get(ctx)
	if err != nil && r.key != "" {
		r.publisher.ResumePublish(r.key)
	}
	return id, err
}
