package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payintents-backend/internal/analytics/router"
	"github.com/angelmondragon/payintents-backend/internal/analytics/types"
	"github.com/angelmondragon/payintents-backend/internal/analytics/worker"
	"github.com/angelmondragon/payintents-backend/internal/analytics/writer"
	"github.com/angelmondragon/payintents-backend/internal/bootstrap"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/registry"
)

const flushTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	rt, err := bootstrap.Start("analytics-worker")
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.Config

	setup := context.Background()
	redisClient, err := rt.Redis(setup)
	if err != nil {
		return err
	}
	pubsubClient, err := rt.PubSub(setup)
	if err != nil {
		return err
	}
	bqClient, err := rt.BigQuery(setup)
	if err != nil {
		return err
	}

	schema, err := types.IntentEventSchema()
	if err != nil {
		rt.Logger.Error(setup, "failed to infer analytics schema", err)
		return err
	}
	if err := bqClient.EnsureTable(setup, cfg.BigQuery.IntentEventsTable, schema, types.IntentEventPartitionField); err != nil {
		rt.Logger.Error(setup, "analytics table unavailable", err)
		return err
	}

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		err := errors.New("analytics subscription not configured")
		rt.Logger.Error(setup, "analytics worker cannot start", err)
		return err
	}
	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	if err != nil {
		rt.Logger.Error(setup, "failed to create idempotency guard", err)
		return err
	}
	rows, err := writer.New(bqClient, writer.Config{
		Table:     cfg.BigQuery.IntentEventsTable,
		BatchSize: cfg.BigQuery.BatchSize,
	})
	if err != nil {
		rt.Logger.Error(setup, "failed to create analytics writer", err)
		return err
	}
	handler, err := router.NewRouter(rows, registry.NewIntentDecoderRegistry(), rt.Logger)
	if err != nil {
		rt.Logger.Error(setup, "failed to create analytics router", err)
		return err
	}
	service, err := worker.NewService(worker.Params{
		Subscription: subscription,
		Handler:      handler,
		Guard:        guard,
		Logger:       rt.Logger,
		Metrics:      metrics.NewAnalyticsMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		rt.Logger.Error(setup, "failed to create analytics worker", err)
		return err
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	rt.ServeMetrics(ctx)
	rt.Logger.Info(ctx, "analytics worker ready")

	runErr := service.Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := rows.Flush(flushCtx); err != nil {
		rt.Logger.Error(ctx, "failed to flush buffered analytics rows", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		rt.Logger.Error(ctx, "analytics worker failed", runErr)
		return runErr
	}
	rt.Logger.Info(ctx, "analytics worker stopped")
	return nil
}
