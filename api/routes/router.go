package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/payintents-backend/api/controllers"
	intentcontrollers "github.com/angelmondragon/payintents-backend/api/controllers/intents"
	"github.com/angelmondragon/payintents-backend/api/middleware"
	"github.com/angelmondragon/payintents-backend/internal/intents"
	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/payintents-backend/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer needs: replay cache, create
// throttling and readiness.
type RedisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisStore RedisStore,
	intentsService intents.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisStore,
		}))
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	createPolicy := middleware.NewRateLimitPolicy("create", cfg.HTTP.CreateRateWindow, cfg.HTTP.CreateRateLimit)

	r.Route("/api/v1/intents", func(r chi.Router) {
		r.Use(middleware.Scope(cfg.Intents.ScopeID, logg))

		create := r.With()
		transition := r.With()
		if redisStore != nil {
			create = r.With(
				middleware.RateLimit(createPolicy, redisStore, logg),
				middleware.Replay(redisStore, middleware.CreateReplayTTL, logg),
			)
			transition = r.With(middleware.Replay(redisStore, middleware.TransitionReplayTTL, logg))
		}

		create.Post("/", intentcontrollers.Create(intentsService, cfg.Intents.MaxExpiresIn, logg))
		r.Get("/", intentcontrollers.List(intentsService, cfg.Intents.ListLimitCap, logg))
		r.Get("/{intentId}", intentcontrollers.Get(intentsService, logg))
		transition.Post("/{intentId}/confirm", intentcontrollers.Confirm(intentsService, logg))
		transition.Post("/{intentId}/fail", intentcontrollers.Fail(intentsService, logg))
		transition.Post("/{intentId}/cancel", intentcontrollers.Cancel(intentsService, logg))
	})

	return r
}
