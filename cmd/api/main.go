package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fulfillment-backend/api/routes"
	"github.com/angelmondragon/fulfillment-backend/internal/fulfillment"
	"github.com/angelmondragon/fulfillment-backend/internal/inventory"
	"github.com/angelmondragon/fulfillment-backend/internal/notifications"
	"github.com/angelmondragon/fulfillment-backend/internal/notifier"
	"github.com/angelmondragon/fulfillment-backend/internal/orders"
	"github.com/angelmondragon/fulfillment-backend/internal/shipping"
	"github.com/angelmondragon/fulfillment-backend/internal/stores"
	"github.com/angelmondragon/fulfillment-backend/internal/tracking"
	"github.com/angelmondragon/fulfillment-backend/internal/webhooks/payments"
	"github.com/angelmondragon/fulfillment-backend/pkg/carriers"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/instance"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/migrate"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/redis"
	"github.com/angelmondragon/fulfillment-backend/pkg/security"
	"github.com/angelmondragon/fulfillment-backend/pkg/stripe"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	handler, err := buildHandler(ctx, cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to wire api", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(serverCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(serverCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(serverCtx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(serverCtx, "api server shutdown failed", err)
		}
	}
}

func buildHandler(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (http.Handler, error) {
	fulfillmentMetrics := metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer)

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
	notificationService, err := notifications.NewService(notificationRepo)
	if err != nil {
		return nil, err
	}

	alerts, err := notifier.New(notifier.ServiceParams{
		TxRunner:      dbClient,
		Outbox:        outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Notifications: notificationRepo,
		Source:        "api",
	})
	if err != nil {
		return nil, err
	}

	factory := shipping.NewFactory(cfg.Shipping,
		shipping.WithFactoryObserver(carrierObserver(fulfillmentMetrics)),
	)
	registry, err := shipping.NewRegistry(shipping.RegistryParams{
		Repo:     shipping.NewRepository(dbClient.DB()),
		TxRunner: dbClient,
		Cipher:   cipher,
		Factory:  factory,
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
		Metrics:            fulfillmentMetrics,
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

	gateway, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, err
	}
	verifier, err := payments.NewVerifier(gateway, storeService, logg)
	if err != nil {
		return nil, err
	}
	guard, err := payments.NewIdempotencyGuard(redisClient, cfg.Stripe.EventDedupeTTL, "payment-webhook")
	if err != nil {
		return nil, err
	}
	ingester, err := payments.NewService(payments.ServiceParams{
		Verifier: verifier,
		Guard:    guard,
		Handler:  orchestrator,
		Metrics:  fulfillmentMetrics,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}

	return routes.NewRouter(cfg, logg, routes.Dependencies{
		DB:            dbClient,
		Redis:         redisClient,
		RateLimiter:   redisClient,
		Gatherer:      prometheus.DefaultGatherer,
		Payments:      ingester,
		Shipments:     orchestrator,
		Tracking:      trackingService,
		Registry:      registry,
		Notifications: notificationService,
	}), nil
}

func carrierObserver(m *metrics.FulfillmentMetrics) carriers.CallObserver {
	return func(provider enums.ShippingProvider, operation string, d time.Duration) {
		m.ObserveCarrierCall(string(provider), operation, d)
	}
}
