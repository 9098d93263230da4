package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels shared by the worker metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// CronJobMetrics records scheduled job runs of the cron worker.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCronJobMetrics registers the cron metrics on reg. A nil registerer
// yields a no-op collector.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job executions by result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Duration of cron job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration)
	return m
}

// ObserveRun records one execution of job.
func (m *CronJobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	m.runs.WithLabelValues(job, resultLabel(err)).Inc()
}

// OutboxMetrics records the relay from outbox_events to Pub/Sub.
type OutboxMetrics struct {
	dispatched *prometheus.CounterVec
	batch      prometheus.Histogram
}

// NewOutboxMetrics registers the outbox relay metrics on reg.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_dispatched_total",
			Help: "Outbox rows handled by the relay, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_duration_seconds",
			Help:    "Time spent draining one outbox batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.dispatched, m.batch)
	return m
}

// ObserveDispatch counts one outbox row with its outcome (published, retried, dead_lettered).
func (m *OutboxMetrics) ObserveDispatch(eventType, outcome string) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveBatch records how long one batch took.
func (m *OutboxMetrics) ObserveBatch(took time.Duration) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(took.Seconds())
}

// AnalyticsMetrics records the analytics consumer.
type AnalyticsMetrics struct {
	events *prometheus.CounterVec
}

// NewAnalyticsMetrics registers the analytics consumer metrics on reg.
func NewAnalyticsMetrics(reg prometheus.Registerer) *AnalyticsMetrics {
	if reg == nil {
		return &AnalyticsMetrics{}
	}
	m := &AnalyticsMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_events_total",
			Help: "Intent events consumed by the analytics worker, by event type and result.",
		}, []string{"event_type", "result"}),
	}
	reg.MustRegister(m.events)
	return m
}

// ObserveEvent counts one consumed message (written, duplicate, dropped, retry).
func (m *AnalyticsMetrics) ObserveEvent(eventType, result string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
