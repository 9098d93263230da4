// Package bootstrap holds the start-up and shutdown steps shared by the
// api, the workers and the migrate tool.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payintents-backend/internal/intents"
	"github.com/angelmondragon/payintents-backend/pkg/bigquery"
	"github.com/angelmondragon/payintents-backend/pkg/clock"
	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/db"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
	"github.com/angelmondragon/payintents-backend/pkg/migrate"
	"github.com/angelmondragon/payintents-backend/pkg/outbox"
	"github.com/angelmondragon/payintents-backend/pkg/pubsub"
	"github.com/angelmondragon/payintents-backend/pkg/redis"
)

type closer struct {
	name string
	fn   func() error
}

// Runtime is one binary's loaded config, logger and opened connections.
type Runtime struct {
	Config  *config.Config
	Logger  *logger.Logger
	closers []closer
}

// Start reads .env when present, loads the config and builds the service
// logger at the configured level.
func Start(service string) (*Runtime, error) {
	ctx := context.Background()
	boot := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		boot.Warn(ctx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		boot.Error(ctx, "failed to load config", err)
		return nil, err
	}
	cfg.Service.Kind = service
	return &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: service,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			Format:      cfg.App.LogFormat,
			WarnStack:   cfg.App.LogWarnStack,
		}),
	}, nil
}

// Database opens the store and applies dev migrations when enabled.
func (rt *Runtime) Database(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, rt.Config.DB, rt.Logger)
	if err != nil {
		return nil, rt.failed(ctx, "database", err)
	}
	rt.onClose("database", client.Close)
	if err := migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, client); err != nil {
		return nil, rt.failed(ctx, "dev migrations", err)
	}
	return client, nil
}

func (rt *Runtime) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, rt.failed(ctx, "redis", err)
	}
	rt.onClose("redis", client.Close)
	return client, nil
}

func (rt *Runtime) PubSub(ctx context.Context) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, rt.Logger)
	if err != nil {
		return nil, rt.failed(ctx, "pubsub", err)
	}
	rt.onClose("pubsub", client.Close)
	return client, nil
}

func (rt *Runtime) BigQuery(ctx context.Context) (*bigquery.Client, error) {
	client, err := bigquery.NewClient(ctx, rt.Config.GCP, rt.Config.BigQuery, rt.Logger)
	if err != nil {
		return nil, rt.failed(ctx, "bigquery", err)
	}
	rt.onClose("bigquery", client.Close)
	return client, nil
}

// Intents builds the intent service over dbClient with the outbox writer
// in the same transactions.
func (rt *Runtime) Intents(ctx context.Context, dbClient *db.Client) (intents.Service, intents.Repository, error) {
	repo := intents.NewRepository(dbClient.DB())
	svc, err := intents.NewService(intents.ServiceParams{
		Config:     rt.Config.Intents,
		Repository: repo,
		Tx:         dbClient,
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), rt.Logger),
		Clock:      clock.System{},
		Logger:     rt.Logger,
		Metrics:    metrics.NewIntentMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return nil, nil, rt.failed(ctx, "intents service", err)
	}
	return svc, repo, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the env and
// service kind as log fields.
func (rt *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return rt.Logger.WithFields(ctx, map[string]any{
		"env":         rt.Config.App.Env,
		"serviceKind": rt.Config.Service.Kind,
	}), stop
}

// ServeMetrics exposes the default Prometheus registry on the worker
// metrics address until ctx ends.
func (rt *Runtime) ServeMetrics(ctx context.Context) {
	go func() {
		if err := metrics.Serve(ctx, rt.Config.Service.MetricsAddr, prometheus.DefaultGatherer, rt.Logger); err != nil {
			rt.Logger.Error(ctx, "metrics listener failed", err)
		}
	}()
}

// Close releases everything opened through rt, newest first.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(); err != nil {
			rt.Logger.Error(context.Background(), fmt.Sprintf("error closing %s", c.name), err)
		}
	}
	rt.closers = nil
}

func (rt *Runtime) onClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

func (rt *Runtime) failed(ctx context.Context, resource string, err error) error {
	rt.Logger.Error(ctx, fmt.Sprintf("failed to bootstrap %s", resource), err)
	return fmt.Errorf("%s: %w", resource, err)
}
