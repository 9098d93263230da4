package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payintents-backend/api/routes"
	"github.com/angelmondragon/payintents-backend/internal/bootstrap"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	rt, err := bootstrap.Start("api")
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
	intentsService, _, err := rt.Intents(setup, dbClient)
	if err != nil {
		return err
	}

	// PORT and DYNO are set by the platform and win over config.
	addr := ":" + firstSet(os.Getenv("PORT"), cfg.App.Port)
	instance := firstSet(os.Getenv("DYNO"), "local")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, rt.Logger, dbClient, redisClient, intentsService, metrics.Handler(prometheus.DefaultGatherer)),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = rt.Logger.WithFields(ctx, map[string]any{
		"addr":     addr,
		"instance": instance,
		"scope_id": cfg.Intents.ScopeID,
	})
	rt.Logger.Info(ctx, "starting api server")

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		rt.Logger.Error(ctx, "api server stopped unexpectedly", err)
		return err
	case <-ctx.Done():
	}

	rt.Logger.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.Logger.Error(ctx, "api server shutdown failed", err)
		return err
	}
	return nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
