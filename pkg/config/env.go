package config

const (
	EnvPrefix = "PAYINTENTS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EnvAppEnv   = "PAYINTENTS_APP_ENV"
	EnvPort     = "PAYINTENTS_APP_PORT"
	EnvLogLevel = "PAYINTENTS_LOG_LEVEL"

	EnvDBDSN    = "PAYINTENTS_DB_DSN"
	EnvDBDriver = "PAYINTENTS_DB_DRIVER"
	EnvDBHost   = "PAYINTENTS_DB_HOST"
	EnvDBPort   = "PAYINTENTS_DB_PORT"
	EnvDBUser   = "PAYINTENTS_DB_USER"
	EnvDBPass   = "PAYINTENTS_DB_PASSWORD"
	EnvDBName   = "PAYINTENTS_DB_NAME"

	EnvRedisURL = "PAYINTENTS_REDIS_URL"

	EnvScopeID          = "PAYINTENTS_SCOPE_ID"
	EnvDefaultCurrency  = "PAYINTENTS_DEFAULT_CURRENCY"
	EnvDefaultExpiresIn = "PAYINTENTS_DEFAULT_EXPIRES_IN"
	EnvMaxExpiresIn     = "PAYINTENTS_MAX_EXPIRES_IN"
	EnvListLimitCap     = "PAYINTENTS_LIST_LIMIT_CAP"
	EnvPayBaseURL       = "PAYINTENTS_PAY_BASE_URL"
	EnvStoreTimeout     = "PAYINTENTS_STORE_TIMEOUT"

	EnvGCPProjectID         = "PAYINTENTS_GCP_PROJECT_ID"
	EnvPubSubIntentsTopic   = "PAYINTENTS_PUBSUB_INTENTS_TOPIC"
	EnvPubSubAnalyticsSub   = "PAYINTENTS_PUBSUB_ANALYTICS_SUBSCRIPTION"
	EnvBigQueryDataset      = "PAYINTENTS_BIGQUERY_DATASET"
	EnvBigQueryIntentsTable = "PAYINTENTS_BIGQUERY_INTENT_EVENTS_TABLE"
	EnvOutboxRetentionDays  = "PAYINTENTS_OUTBOX_RETENTION_DAYS"
	EnvOutboxMaxAttempts    = "PAYINTENTS_OUTBOX_MAX_ATTEMPTS"
	EnvCronInterval         = "PAYINTENTS_CRON_INTERVAL"
	EnvCronLockTTL          = "PAYINTENTS_CRON_LOCK_TTL"
	EnvCronJobTimeout       = "PAYINTENTS_CRON_JOB_TIMEOUT"
	EnvCronSweepScopes      = "PAYINTENTS_CRON_SWEEP_SCOPES"
	EnvCORSOrigins          = "PAYINTENTS_CORS_ORIGINS"
)

