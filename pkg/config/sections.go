package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

type AppConfig struct {
	Env          string `envconfig:"PAYINTENTS_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYINTENTS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PAYINTENTS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYINTENTS_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PAYINTENTS_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

// ServiceConfig describes the running binary. Workers serve Prometheus on
// MetricsAddr; an empty value turns the listener off.
type ServiceConfig struct {
	Kind        string `envconfig:"PAYINTENTS_SERVICE_KIND" default:"api"`
	MetricsAddr string `envconfig:"PAYINTENTS_WORKER_METRICS_ADDR" default:":9091"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYINTENTS_DB_DSN"`
	Driver string `envconfig:"PAYINTENTS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYINTENTS_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYINTENTS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYINTENTS_DB_USER"`
	LegacyPassword string `envconfig:"PAYINTENTS_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYINTENTS_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYINTENTS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYINTENTS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYINTENTS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYINTENTS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYINTENTS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PAYINTENTS_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite engine.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYINTENTS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYINTENTS_REDIS_ADDR"`
	Password     string        `envconfig:"PAYINTENTS_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYINTENTS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYINTENTS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYINTENTS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYINTENTS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYINTENTS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYINTENTS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type HTTPConfig struct {
	CORSOrigins       []string      `envconfig:"PAYINTENTS_CORS_ORIGINS"`
	CreateRateLimit   int           `envconfig:"PAYINTENTS_CREATE_RATE_LIMIT" default:"120"`
	CreateRateWindow  time.Duration `envconfig:"PAYINTENTS_CREATE_RATE_WINDOW" default:"1m"`
	ReadHeaderTimeout time.Duration `envconfig:"PAYINTENTS_HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	ShutdownTimeout   time.Duration `envconfig:"PAYINTENTS_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PAYINTENTS_AUTO_MIGRATE" default:"false"`
}

// IntentsConfig holds the payment intent defaults. ScopeID is the scope used
// when a request names none.
type IntentsConfig struct {
	ScopeID          string        `envconfig:"PAYINTENTS_SCOPE_ID" default:"default"`
	DefaultCurrency  string        `envconfig:"PAYINTENTS_DEFAULT_CURRENCY" default:"GBP"`
	DefaultExpiresIn time.Duration `envconfig:"PAYINTENTS_DEFAULT_EXPIRES_IN" default:"5m"`
	MaxExpiresIn     time.Duration `envconfig:"PAYINTENTS_MAX_EXPIRES_IN" default:"1h"`
	ListLimitCap     int           `envconfig:"PAYINTENTS_LIST_LIMIT_CAP" default:"200"`
	PayBaseURL       string        `envconfig:"PAYINTENTS_PAY_BASE_URL" default:"http://localhost:3000/pay/"`
	StoreTimeout     time.Duration `envconfig:"PAYINTENTS_STORE_TIMEOUT" default:"5s"`
}

func (i IntentsConfig) validate() error {
	var errs error
	if strings.TrimSpace(i.ScopeID) == "" {
		errs = multierr.Append(errs, fmt.Errorf("%s must not be empty", EnvScopeID))
	}
	if len(strings.TrimSpace(i.DefaultCurrency)) != 3 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be a three letter code", EnvDefaultCurrency))
	}
	if i.DefaultExpiresIn <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be positive", EnvDefaultExpiresIn))
	}
	if i.MaxExpiresIn < i.DefaultExpiresIn {
		errs = multierr.Append(errs, fmt.Errorf("%s must be >= %s", EnvMaxExpiresIn, EnvDefaultExpiresIn))
	}
	if i.ListLimitCap <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be positive", EnvListLimitCap))
	}
	return errs
}

type EventingConfig struct {
	ConsumerIdempotencyTTL time.Duration `envconfig:"PAYINTENTS_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PAYINTENTS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PAYINTENTS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PAYINTENTS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	IntentsTopic          string `envconfig:"PAYINTENTS_PUBSUB_INTENTS_TOPIC" default:"payment-intent-events"`
	AnalyticsSubscription string `envconfig:"PAYINTENTS_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"payment-intent-analytics"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"PAYINTENTS_BIGQUERY_DATASET" default:"payintents"`
	IntentEventsTable   string `envconfig:"PAYINTENTS_BIGQUERY_INTENT_EVENTS_TABLE" default:"payment_intent_events"`
	BatchSize           int    `envconfig:"PAYINTENTS_BIGQUERY_BATCH_SIZE" default:"1"`
	CreateMissingTables bool   `envconfig:"PAYINTENTS_BIGQUERY_CREATE_TABLES" default:"false"`
}

// OutboxConfig tunes the relay and outbox retention.
type OutboxConfig struct {
	BatchSize        int           `envconfig:"PAYINTENTS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollInterval     time.Duration `envconfig:"PAYINTENTS_OUTBOX_POLL_INTERVAL" default:"500ms"`
	PublishTimeout   time.Duration `envconfig:"PAYINTENTS_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	MaxAttempts      int           `envconfig:"PAYINTENTS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays    int           `envconfig:"PAYINTENTS_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays int           `envconfig:"PAYINTENTS_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
}

// EventRetention is how long settled outbox rows are kept.
func (o OutboxConfig) EventRetention() time.Duration {
	return days(o.RetentionDays)
}

// DLQRetention is how long dead letters are kept.
func (o OutboxConfig) DLQRetention() time.Duration {
	return days(o.DLQRetentionDays)
}

func (o OutboxConfig) validate() error {
	if o.MaxAttempts <= 0 {
		return errors.New(EnvOutboxMaxAttempts + " must be positive")
	}
	return nil
}

type CronConfig struct {
	Interval    time.Duration `envconfig:"PAYINTENTS_CRON_INTERVAL" default:"1m"`
	LockTTL     time.Duration `envconfig:"PAYINTENTS_CRON_LOCK_TTL" default:"5m"`
	JobTimeout  time.Duration `envconfig:"PAYINTENTS_CRON_JOB_TIMEOUT" default:"45s"`
	SweepScopes []string      `envconfig:"PAYINTENTS_CRON_SWEEP_SCOPES"`
}

// The lock must outlive a cycle or a second replica could start one.
func (c CronConfig) validate() error {
	if c.LockTTL < c.JobTimeout {
		return fmt.Errorf("%s must be >= %s", EnvCronLockTTL, EnvCronJobTimeout)
	}
	return nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
