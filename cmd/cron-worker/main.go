package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payintents-backend/internal/bootstrap"
	"github.com/angelmondragon/payintents-backend/internal/cron"
	"github.com/angelmondragon/payintents-backend/pkg/clock"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
	"github.com/angelmondragon/payintents-backend/pkg/outbox"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	rt, err := bootstrap.Start("cron-worker")
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.Config

	setup := context.Background()
	dbClient, err := rt.Database(setup)
	if err != nil {
		return err
	}
	redisClient, err := rt.Redis(setup)
	if err != nil {
		return err
	}
	intentsService, intentsRepo, err := rt.Intents(setup, dbClient)
	if err != nil {
		return err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockEnv(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		rt.Logger.Error(setup, "failed to create cron lock", err)
		return err
	}

	sweepJob, err := cron.NewIntentExpirySweepJob(cron.IntentExpirySweepJobParams{
		Logger:  rt.Logger,
		Sweeper: intentsService,
		Lister:  intentsRepo,
		Scopes:  cfg.Cron.SweepScopes,
	})
	if err != nil {
		rt.Logger.Error(setup, "failed to create intent expiry sweep job", err)
		return err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:         rt.Logger,
		DB:             dbClient,
		Events:         outbox.NewRepository(dbClient.DB()),
		DeadLetters:    outbox.NewDLQRepository(dbClient.DB()),
		Clock:          clock.System{},
		EventRetention: cfg.Outbox.EventRetention(),
		DLQRetention:   cfg.Outbox.DLQRetention(),
		DeadAttempts:   cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		rt.Logger.Error(setup, "failed to create outbox retention job", err)
		return err
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     rt.Logger,
		Registry:   cron.NewRegistry(sweepJob, retentionJob),
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Clock:      clock.System{},
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		rt.Logger.Error(setup, "failed to create cron service", err)
		return err
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	rt.ServeMetrics(ctx)
	rt.Logger.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Logger.Error(ctx, "cron worker stopped unexpectedly", err)
		return err
	}
	rt.Logger.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

// lockEnv keeps environments sharing one Redis from blocking each other.
func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
