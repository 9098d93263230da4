package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

const defaultSweepScopeLimit = 500

type intentSweeper interface {
	SweepExpired(ctx context.Context, scopeID string) (int64, error)
}

type expiredScopeLister interface {
	ExpiredScopes(ctx context.Context, asOf time.Time, limit int) ([]string, error)
}

// IntentExpirySweepJobParams configures the expiry sweep. When Scopes is empty
// the job asks Lister which scopes hold lapsed PENDING intents.
type IntentExpirySweepJobParams struct {
	Logger     *logger.Logger
	Sweeper    intentSweeper
	Lister     expiredScopeLister
	Scopes     []string
	ScopeLimit int
}

// NewIntentExpirySweepJob builds the job that expires lapsed PENDING intents
// ahead of the next read. Reads expire lazily on their own, so a missed run
// only delays the EXPIRED events.
func NewIntentExpirySweepJob(params IntentExpirySweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("intent sweeper required")
	}
	if len(params.Scopes) == 0 && params.Lister == nil {
		return nil, fmt.Errorf("scope list or scope lister required")
	}
	limit := params.ScopeLimit
	if limit <= 0 {
		limit = defaultSweepScopeLimit
	}
	return &intentExpirySweepJob{
		logg:    params.Logger,
		sweeper: params.Sweeper,
		lister:  params.Lister,
		scopes:  append([]string(nil), params.Scopes...),
		limit:   limit,
		now:     time.Now,
	}, nil
}

type intentExpirySweepJob struct {
	logg    *logger.Logger
	sweeper intentSweeper
	lister  expiredScopeLister
	scopes  []string
	limit   int
	now     func() time.Time
}

func (j *intentExpirySweepJob) Name() string { return "intent-expiry-sweep" }

func (j *intentExpirySweepJob) Run(ctx context.Context) error {
	scopes := j.scopes
	if len(scopes) == 0 {
		discovered, err := j.lister.ExpiredScopes(ctx, j.now().UTC(), j.limit)
		if err != nil {
			return fmt.Errorf("list expired scopes: %w", err)
		}
		scopes = discovered
	}

	var (
		total  int64
		errs   error
		failed int
	)
	for _, scopeID := range scopes {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		swept, err := j.sweeper.SweepExpired(ctx, scopeID)
		if err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("sweep scope %s: %w", scopeID, err))
			continue
		}
		total += swept
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scopes":        len(scopes),
		"scopes_failed": failed,
		"intents_swept": total,
	})
	if errs != nil {
		return errs
	}
	j.logg.Info(logCtx, "intent expiry sweep complete")
	return nil
}
