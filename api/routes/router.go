package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fulfillment-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/fulfillment-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/fulfillment-backend/api/controllers/webhooks"
	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/redis"
)

// Dependencies are the services the HTTP surface is built on. A nil
// RateLimiter disables the public tracking limit.
type Dependencies struct {
	DB            controllers.Pinger
	Redis         controllers.Pinger
	RateLimiter   redis.RateLimiter
	Gatherer      prometheus.Gatherer
	Payments      webhookcontrollers.PaymentIngester
	Shipments     ordercontrollers.ShipmentService
	Tracking      controllers.TrackingLookup
	Registry      controllers.ProviderRegistry
	Notifications controllers.NotificationsService
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	trackingPolicy := middleware.NewRateLimitPolicy(
		"tracking",
		cfg.TrackingRateLimit.Window,
		cfg.TrackingRateLimit.IPLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.With(middleware.RateLimit(trackingPolicy, deps.RateLimiter, logg)).
			Get("/tracking/{orderNumber}", controllers.PublicTracking(deps.Tracking, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentsWebhook(deps.Payments, cfg.Stripe.ProcessTimeout, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSOrigins))
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders/{orderId}/shipments", func(r chi.Router) {
			r.Post("/", ordercontrollers.CreateShipment(deps.Shipments, logg))
			r.Post("/cancel", ordercontrollers.CancelShipment(deps.Shipments, logg))
			r.Post("/rates", ordercontrollers.QuoteRates(deps.Shipments, logg))
		})

		r.Route("/shipping/providers", func(r chi.Router) {
			reg := deps.Registry
			r.Get("/", controllers.ListShippingProviders(reg, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireProviderManager(logg))
				r.Post("/", controllers.SaveShippingProvider(reg, logg))
				r.Post("/validate", controllers.ValidateShippingProvider(reg, logg))
				r.Delete("/{provider}", controllers.RemoveShippingProvider(reg, logg))
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})
	})

	return r
}
