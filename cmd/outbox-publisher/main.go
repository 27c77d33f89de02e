package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/migrate"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox/registry"
	"github.com/angelmondragon/fulfillment-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	var replay replayTarget
	flag.StringVar(&replay.eventID, "replay", "", "requeue a dead-lettered event by id and exit")
	flag.StringVar(&replay.orderID, "replay-order", "", "requeue every dead-lettered event of an order and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": serviceKind})

	if err := run(ctx, cfg, logg, replay); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

// replayTarget holds the DLQ replay flags. At most one is expected.
type replayTarget struct {
	eventID string
	orderID string
}

func (t replayTarget) set() bool { return t.eventID != "" || t.orderID != "" }

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, replay replayTarget) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWithLog(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	dlqRepo := outbox.NewDLQRepository(dbClient.DB())
	if replay.set() {
		return replayDeadLetters(ctx, logg, dlqRepo, replay)
	}

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer closeWithLog(logg, "pubsub client", pubsubClient.Close)

	// fail fast rather than dead-letter every row for a missing topic
	if err := pubsubClient.EnsureTopics(ctx, eventRegistry.Topics()...); err != nil {
		return err
	}

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
		Metrics:       metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting outbox publisher")
	return service.Run(ctx)
}

func closeWithLog(logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+what, err)
	}
}

type deadLetterStore interface {
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OutboxDLQ, error)
	Replay(ctx context.Context, eventID uuid.UUID) error
}

func replayDeadLetters(ctx context.Context, logg *logger.Logger, dlq deadLetterStore, target replayTarget) error {
	var entries []models.OutboxDLQ
	switch {
	case target.eventID != "" && target.orderID != "":
		return errors.New("-replay and -replay-order are mutually exclusive")
	case target.eventID != "":
		eventID, err := uuid.Parse(target.eventID)
		if err != nil {
			return fmt.Errorf("replay id: %w", err)
		}
		entry, err := dlq.FindByEventID(ctx, eventID)
		if err != nil {
			return err
		}
		if entry == nil {
			return outbox.ErrNotDeadLettered
		}
		entries = append(entries, *entry)
	default:
		orderID, err := uuid.Parse(target.orderID)
		if err != nil {
			return fmt.Errorf("replay order id: %w", err)
		}
		if entries, err = dlq.ListForOrder(ctx, orderID); err != nil {
			return err
		}
		if len(entries) == 0 {
			logg.Warn(logg.WithField(ctx, "order_id", orderID.String()), "no dead-lettered events for order")
			return nil
		}
	}

	for _, entry := range entries {
		entryCtx := logg.WithFields(ctx, map[string]any{
			"outbox_id":  entry.EventID.String(),
			"event_type": string(entry.EventType),
			"order_id":   entry.AggregateID.String(),
			"dlq_reason": entry.Summary(),
		})
		if err := dlq.Replay(ctx, entry.EventID); err != nil {
			return fmt.Errorf("replay %s: %w", entry.EventID, err)
		}
		logg.Info(entryCtx, "dead-lettered event requeued")
	}
	return nil
}
