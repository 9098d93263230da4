package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IntentMetrics records payment intent lifecycle outcomes.
type IntentMetrics struct {
	transitions   *prometheus.CounterVec
	swept         prometheus.Counter
	updateBlocked *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
}

// NewIntentMetrics registers the intent metrics on the provided registerer.
func NewIntentMetrics(reg prometheus.Registerer) *IntentMetrics {
	if reg == nil {
		return &IntentMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intent_operations_total",
		Help: "Payment intent operations by outcome.",
	}, []string{"operation", "outcome"})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_intent_swept_total",
		Help: "Pending payment intents moved to EXPIRED by bulk sweeps.",
	})
	updateBlocked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intent_update_blocked_total",
		Help: "Conditional updates that missed without an explainable cause.",
	}, []string{"operation"})
	storeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_intent_store_duration_seconds",
		Help:    "Duration of payment intent operations against the record store.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(transitions, swept, updateBlocked, storeDuration)
	return &IntentMetrics{
		transitions:   transitions,
		swept:         swept,
		updateBlocked: updateBlocked,
		storeDuration: storeDuration,
	}
}

// ObserveOutcome counts one operation result.
func (m *IntentMetrics) ObserveOutcome(operation, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// AddSwept adds n expired intents to the sweep counter.
func (m *IntentMetrics) AddSwept(n int64) {
	if m == nil || m.swept == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

// IncUpdateBlocked counts an unexplained conditional update miss.
func (m *IntentMetrics) IncUpdateBlocked(operation string) {
	if m == nil || m.updateBlocked == nil {
		return
	}
	m.updateBlocked.WithLabelValues(normalizeLabel(operation)).Inc()
}

// ObserveStoreDuration records how long an operation spent against the store.
func (m *IntentMetrics) ObserveStoreDuration(operation string, d time.Duration) {
	if m == nil || m.storeDuration == nil {
		return
	}
	m.storeDuration.WithLabelValues(normalizeLabel(operation)).Observe(d.Seconds())
}
