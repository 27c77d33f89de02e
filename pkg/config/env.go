package config

const (
	EnvPrefix = "FULFILLMENT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	EnvAppEnv = "FULFILLMENT_APP_ENV"
	EnvPort   = "FULFILLMENT_APP_PORT"

	EnvDBDSN  = "FULFILLMENT_DB_DSN"
	EnvDBHost = "FULFILLMENT_DB_HOST"
	EnvDBUser = "FULFILLMENT_DB_USER"
	EnvDBName = "FULFILLMENT_DB_NAME"

	EnvRedisURL = "FULFILLMENT_REDIS_URL"

	EnvJWTSecret = "FULFILLMENT_JWT_SECRET"
	EnvJWTIssuer = "FULFILLMENT_JWT_ISSUER"

	EnvEncryptionPassphrase = "FULFILLMENT_ENCRYPTION_PASSPHRASE"
	EnvEncryptionSalt       = "FULFILLMENT_ENCRYPTION_SALT"

	EnvUseSQLite = "FULFILLMENT_USE_SQLITE"

	EnvShippingMaxAttempts = "FULFILLMENT_SHIPPING_MAX_ATTEMPTS"
	EnvShippingBaseDelay   = "FULFILLMENT_SHIPPING_BASE_DELAY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
