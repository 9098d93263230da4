package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/payintents-backend/api/responses"
	"github.com/angelmondragon/payintents-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

const (
	envHeader        = "X-PayIntents-Env"
	readyPingTimeout = 2 * time.Second
)

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency and reports 503 when any is down.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		var failed error
		for name, dep := range deps {
			if dep == nil {
				checks[name] = "skipped"
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "down"
				if failed == nil {
					failed = err
				}
				continue
			}
			checks[name] = "ok"
		}

		if failed != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, failed, "dependency unavailable").
				WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
