package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App               AppConfig
	Service           ServiceConfig
	DB                DBConfig
	Redis             RedisConfig
	JWT               JWTConfig
	Encryption        EncryptionConfig
	FeatureFlags      FeatureFlagsConfig
	Stripe            StripeConfig
	Shipping          ShippingConfig
	TrackingRateLimit TrackingRateLimitConfig
	GCP               GCPConfig
	PubSub            PubSubConfig
	Outbox            OutboxConfig
	Cron              CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FULFILLMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"FULFILLMENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FULFILLMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FULFILLMENT_LOG_WARN_STACK" default:"false"`
	// CORSOrigins lists the merchant dashboard origins, comma separated.
	CORSOrigins []string `envconfig:"FULFILLMENT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FULFILLMENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FULFILLMENT_DB_DSN"`
	Driver string `envconfig:"FULFILLMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FULFILLMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"FULFILLMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FULFILLMENT_DB_USER"`
	LegacyPassword string `envconfig:"FULFILLMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"FULFILLMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"FULFILLMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FULFILLMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FULFILLMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this as warnings. Zero disables.
	SlowQueryThreshold time.Duration `envconfig:"FULFILLMENT_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FULFILLMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FULFILLMENT_REDIS_ADDR"`
	Password     string        `envconfig:"FULFILLMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"FULFILLMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FULFILLMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FULFILLMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FULFILLMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FULFILLMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FULFILLMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FULFILLMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

// EncryptionConfig holds the passphrase used to derive the credential key.
// Rotating either value makes previously stored credentials unreadable.
type EncryptionConfig struct {
	Passphrase       string `envconfig:"FULFILLMENT_ENCRYPTION_PASSPHRASE" required:"true"`
	Salt             string `envconfig:"FULFILLMENT_ENCRYPTION_SALT" required:"true"`
	ArgonMemoryKB    int    `envconfig:"FULFILLMENT_ENCRYPTION_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int    `envconfig:"FULFILLMENT_ENCRYPTION_ARGON_TIME" default:"3"`
	ArgonParallelism int    `envconfig:"FULFILLMENT_ENCRYPTION_ARGON_PARALLELISM" default:"2"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FULFILLMENT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FULFILLMENT_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"FULFILLMENT_STRIPE_API_KEY"`
	// Secret is the platform-wide webhook signing secret.
	Secret string `envconfig:"FULFILLMENT_STRIPE_SECRET"`
	Env    string `envconfig:"FULFILLMENT_STRIPE_ENV" default:"test"`
	// WebhookTolerance bounds the accepted age of a signed payload.
	WebhookTolerance time.Duration `envconfig:"FULFILLMENT_STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	EventDedupeTTL   time.Duration `envconfig:"FULFILLMENT_STRIPE_EVENT_DEDUPE_TTL" default:"72h"`
	// ProcessTimeout bounds one delivery, including the shipment retries it
	// may trigger. The gateway redelivers if it is exceeded.
	ProcessTimeout time.Duration `envconfig:"FULFILLMENT_STRIPE_WEBHOOK_PROCESS_TIMEOUT" default:"60s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type ShippingConfig struct {
	MaxAttempts             int           `envconfig:"FULFILLMENT_SHIPPING_MAX_ATTEMPTS" default:"3"`
	BaseDelay               time.Duration `envconfig:"FULFILLMENT_SHIPPING_BASE_DELAY" default:"1s"`
	BackoffFactor           float64       `envconfig:"FULFILLMENT_SHIPPING_BACKOFF_FACTOR" default:"2"`
	MaxElapsed              time.Duration `envconfig:"FULFILLMENT_SHIPPING_MAX_ELAPSED" default:"30s"`
	InteractiveBaseDelay    time.Duration `envconfig:"FULFILLMENT_SHIPPING_INTERACTIVE_BASE_DELAY" default:"500ms"`
	InteractiveMaxElapsed   time.Duration `envconfig:"FULFILLMENT_SHIPPING_INTERACTIVE_MAX_ELAPSED" default:"10s"`
	TokenCacheTTL           time.Duration `envconfig:"FULFILLMENT_SHIPPING_TOKEN_CACHE_TTL" default:"12h"`
	TokenCacheSize          int           `envconfig:"FULFILLMENT_SHIPPING_TOKEN_CACHE_SIZE" default:"1024"`
	CarrierRequestsPerSec   float64       `envconfig:"FULFILLMENT_SHIPPING_CARRIER_RPS" default:"5"`
	CarrierBurst            int           `envconfig:"FULFILLMENT_SHIPPING_CARRIER_BURST" default:"10"`
	ShiprocketBaseURL       string        `envconfig:"FULFILLMENT_SHIPROCKET_BASE_URL" default:"https://apiv2.shiprocket.in/v1/external"`
	DelhiveryBaseURL        string        `envconfig:"FULFILLMENT_DELHIVERY_BASE_URL" default:"https://track.delhivery.com"`
	ShippoBaseURL           string        `envconfig:"FULFILLMENT_SHIPPO_BASE_URL" default:"https://api.goshippo.com"`
	DefaultWeightGrams      int           `envconfig:"FULFILLMENT_SHIPPING_DEFAULT_WEIGHT_GRAMS" default:"500"`
	TrackingSyncStaleAfter  time.Duration `envconfig:"FULFILLMENT_TRACKING_SYNC_STALE_AFTER" default:"2h"`
	ReservationExpiryBuffer time.Duration `envconfig:"FULFILLMENT_RESERVATION_EXPIRY_BUFFER" default:"5m"`
}

type TrackingRateLimitConfig struct {
	Window  time.Duration `envconfig:"FULFILLMENT_TRACKING_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit int           `envconfig:"FULFILLMENT_TRACKING_RATE_LIMIT_IP_LIMIT" default:"30"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"FULFILLMENT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"FULFILLMENT_PUBSUB_NOTIFICATION_TOPIC" default:"fulfillment-notification-events"`
	NotificationSubscription string `envconfig:"FULFILLMENT_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
	OrdersTopic              string `envconfig:"FULFILLMENT_PUBSUB_ORDERS_TOPIC" default:"fulfillment-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"FULFILLMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"FULFILLMENT_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"FULFILLMENT_CRON_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"FULFILLMENT_CRON_LOCK_TTL" default:"14m"`
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" {
		return nil
	}
	if sqlite {
		db.DSN = "file:fulfillment.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
