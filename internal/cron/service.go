package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/payintents-backend/pkg/clock"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
	"github.com/angelmondragon/payintents-backend/pkg/metrics"
)

const defaultInterval = time.Minute

// ServiceParams configure the cron service. JobTimeout bounds a single job
// run and defaults to Interval.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.CronJobMetrics
	Clock      clock.Clock
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service runs every registered job once per tick while holding the
// cluster-wide lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	clock      clock.Clock
	interval   time.Duration
	jobTimeout time.Duration
}

// NewService validates params and applies defaults.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	svc := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		clock:      params.Clock,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if svc.clock == nil {
		svc.clock = clock.System{}
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.jobTimeout <= 0 {
		svc.jobTimeout = svc.interval
	}
	return svc, nil
}

// Run executes a cycle immediately and then on every interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle returns an error only when the lock itself could not be
// evaluated. Job failures are logged and counted, never fatal.
func (s *Service) runCycle(ctx context.Context) error {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !held {
		s.logg.Info(ctx, "cron lock held by another replica, skipping cycle")
		return nil
	}
	defer func() {
		// Release on a fresh context so shutdown does not strand the lease.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	var failures error
	jobs := s.registry.Jobs()
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		failures = multierr.Append(failures, s.runJob(ctx, job))
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs":        len(jobs),
		"failed_jobs": len(multierr.Errors(failures)),
	}), "cron cycle complete")
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	runCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	started := s.clock.Now()
	err := job.Run(runCtx)
	took := s.clock.Now().Sub(started)
	s.metrics.ObserveRun(job.Name(), took, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron job failed", err)
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	s.logg.Info(jobCtx, "cron job completed")
	return nil
}
