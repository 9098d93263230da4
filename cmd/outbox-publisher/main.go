package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payintents-backend/internal/bootstrap"
	"github.com/angelmondragon/payintents-backend/internal/relay"
	"github.com/angelmondragon/payintents-backend/pkg/clock"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
	"github.com/angelmondragon/payintents-backend/pkg/outbox"
	"github.com/angelmondragon/payintents-backend/pkg/outbox/registry"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	rt, err := bootstrap.Start("outbox-publisher")
	if err != nil {
		return err
	}
	defer rt.Close()

	setup := context.Background()
	dbClient, err := rt.Database(setup)
	if err != nil {
		return err
	}
	pubsubClient, err := rt.PubSub(setup)
	if err != nil {
		return err
	}

	routes, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		rt.Logger.Error(setup, "failed to build event registry", err)
		return err
	}
	publishers := relay.NewPublishers(pubsubClient)
	defer publishers.Stop()

	cfg := rt.Config.Outbox
	r, err := relay.New(relay.Params{
		Logger:         rt.Logger,
		DB:             dbClient,
		PubSub:         pubsubClient,
		Events:         outbox.NewRepository(dbClient.DB()),
		DeadLetters:    outbox.NewDLQRepository(dbClient.DB()),
		Routes:         routes,
		Publishers:     publishers,
		Metrics:        metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		Clock:          clock.System{},
		BatchSize:      cfg.BatchSize,
		MaxAttempts:    cfg.MaxAttempts,
		PollInterval:   cfg.PollInterval,
		PublishTimeout: cfg.PublishTimeout,
	})
	if err != nil {
		rt.Logger.Error(setup, "failed to create outbox relay", err)
		return err
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	rt.ServeMetrics(ctx)
	rt.Logger.Info(rt.Logger.WithField(ctx, "topics", routes.Topics()), "starting outbox publisher")

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Logger.Error(ctx, "outbox publisher stopped unexpectedly", err)
		return err
	}
	rt.Logger.Info(ctx, "outbox publisher shutting down gracefully")
	return nil
}
