package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveRun("intent-expiry-sweep", 250*time.Millisecond, nil)
	m.ObserveRun("intent-expiry-sweep", 10*time.Millisecond, errors.New("store down"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "cron_job_runs_total", map[string]string{"job": "intent-expiry-sweep", "result": ResultSuccess}); err != nil || got != 1 {
		t.Fatalf("expected one success, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "cron_job_runs_total", map[string]string{"job": "intent-expiry-sweep", "result": ResultFailure}); err != nil || got != 1 {
		t.Fatalf("expected one failure, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "cron_job_duration_seconds", "job", "intent-expiry-sweep"); err != nil || got < 0.25 {
		t.Fatalf("expected duration sum >= 0.25, got %f err=%v", got, err)
	}
}

func TestOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.ObserveDispatch("payment_intent_created", "published")
	m.ObserveDispatch("payment_intent_created", "published")
	m.ObserveDispatch("", "dead_lettered")
	m.ObserveBatch(40 * time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_dispatched_total", map[string]string{"event_type": "payment_intent_created", "outcome": "published"}); err != nil || got != 2 {
		t.Fatalf("expected 2 published, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_dispatched_total", map[string]string{"event_type": "unknown", "outcome": "dead_lettered"}); err != nil || got != 1 {
		t.Fatalf("expected unknown label for empty event type, got %f err=%v", got, err)
	}
	if findMetricFamily(mfs, "outbox_batch_duration_seconds") == nil {
		t.Fatal("expected batch histogram")
	}
}

func TestAnalyticsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAnalyticsMetrics(reg)
	m.ObserveEvent("payment_intent_expired", "written")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "analytics_events_total", map[string]string{"event_type": "payment_intent_expired", "result": "written"}); err != nil || got != 1 {
		t.Fatalf("expected 1 written, got %f err=%v", got, err)
	}
}

func TestWorkerMetricsNilSafe(t *testing.T) {
	var cron *CronJobMetrics
	cron.ObserveRun("job", time.Second, nil)
	var outbox *OutboxMetrics
	outbox.ObserveDispatch("a", "b")
	outbox.ObserveBatch(time.Second)
	var analytics *AnalyticsMetrics
	analytics.ObserveEvent("a", "b")

	NewCronJobMetrics(nil).ObserveRun("job", time.Second, nil)
	NewOutboxMetrics(nil).ObserveBatch(time.Second)
	NewAnalyticsMetrics(nil).ObserveEvent("a", "b")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), map[string]string{label: value}) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
