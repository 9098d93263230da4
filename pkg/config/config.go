// Package config loads every binary's settings from PAYINTENTS_* variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// Config is shared by the api, the workers and the migrate tool. Each binary
// reads only the sections it needs.
type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	HTTP         HTTPConfig
	FeatureFlags FeatureFlagsConfig
	Intents      IntentsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

// Load parses the environment, derives the database DSN when only the
// legacy parts are set, and reports every invalid setting at once.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	return multierr.Combine(
		c.Intents.validate(),
		c.Outbox.validate(),
		c.Cron.validate(),
	)
}
