package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fulfillment-backend/internal/cron"
	"github.com/angelmondragon/fulfillment-backend/internal/fulfillment"
	"github.com/angelmondragon/fulfillment-backend/internal/inventory"
	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/internal/notifier"
	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/internal/shipping"
	"github.com/angelmondragon/fulfillment-backend/internal/stores"
	"github.com/angelmondragon/fulfillment-backend/internal/tracking"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/security"
)

const (
	notificationRetentionDays = 30
	jobBatchSize              = 100
)

// buildJobs wires the maintenance jobs. Reservation expiry goes through the
// orchestrator so stock is released the same way a gateway expiry does.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) ([]cron.Job, error) {
	cipher, err := security.NewCipher(cfg.Encryption)
	if err != nil {
		return nil, err
	}
	storeService, err := stores.NewService(stores.NewRepository(dbClient.DB()), cipher)
	if err != nil {
		return nil, err
	}
	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:     orders.NewRepository(dbClient.DB()),
		TxRunner: dbClient,
	})
	if err != nil {
		return nil, err
	}
	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		Repo:     inventory.NewRepository(dbClient.DB()),
		TxRunner: dbClient,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}

	notificationRepo := notifications.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	alerts, err := notifier.New(notifier.ServiceParams{
		TxRunner:      dbClient,
		Outbox:        outbox.NewService(outboxRepo, logg),
		Notifications: notificationRepo,
		Source:        "cron-worker",
	})
	if err != nil {
		return nil, err
	}

	registry, err := shipping.NewRegistry(shipping.RegistryParams{
		Repo:     shipping.NewRepository(dbClient.DB()),
		TxRunner: dbClient,
		Cipher:   cipher,
		Factory:  shipping.NewFactory(cfg.Shipping),
		Cache:    shipping.NewTokenCache(cfg.Shipping.TokenCacheSize, cfg.Shipping.TokenCacheTTL),
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}

	orchestrator, err := fulfillment.NewService(fulfillment.ServiceParams{
		Orders:             orderService,
		Inventory:          inventoryService,
		Registry:           registry,
		Stores:             storeService,
		Notifier:           alerts,
		Metrics:            metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer),
		Logger:             logg,
		Background:         fulfillment.BackgroundPolicy(cfg.Shipping),
		Interactive:        fulfillment.InteractivePolicy(cfg.Shipping),
		DefaultWeightGrams: cfg.Shipping.DefaultWeightGrams,
	})
	if err != nil {
		return nil, err
	}

	trackingService, err := tracking.NewService(tracking.ServiceParams{
		Orders:     orderService,
		Adapters:   registry,
		Logger:     logg,
		StaleAfter: cfg.Shipping.TrackingSyncStaleAfter,
	})
	if err != nil {
		return nil, err
	}

	expiry, err := cron.NewReservationExpiryJob(cron.ReservationExpiryJobParams{
		Logger:       logg,
		Reservations: inventoryService,
		Orders:       orchestrator,
		Buffer:       cfg.Shipping.ReservationExpiryBuffer,
		BatchSize:    jobBatchSize,
	})
	if err != nil {
		return nil, err
	}
	trackingSync, err := cron.NewTrackingSyncJob(cron.TrackingSyncJobParams{
		Logger:    logg,
		Tracker:   trackingService,
		BatchSize: jobBatchSize,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	notificationCleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notificationRepo,
		Retention:  notificationRetentionDays,
	})
	if err != nil {
		return nil, err
	}

	return []cron.Job{expiry, trackingSync, outboxRetention, notificationCleanup}, nil
}
