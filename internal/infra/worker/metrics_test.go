package worker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// globalTestMetrics is created once; promauto registers on the default registry.
var globalTestMetrics = NewSchedulerMetrics()

func TestNewSchedulerMetrics(t *testing.T) {
	metrics := globalTestMetrics

	if metrics.ConfigMetrics == nil {
		t.Error("ConfigMetrics is nil")
	}
	if metrics.RunsTotal == nil {
		t.Error("RunsTotal is nil")
	}
	if metrics.RunDurationSeconds == nil {
		t.Error("RunDurationSeconds is nil")
	}
	if metrics.AccountsRefreshedTotal == nil {
		t.Error("AccountsRefreshedTotal is nil")
	}
	if metrics.LastSuccessTimestamp == nil {
		t.Error("LastSuccessTimestamp is nil")
	}
}

func newIsolatedMetrics(t *testing.T) *SchedulerMetrics {
	t.Helper()
	reg := prometheus.NewRegistry()

	m := &SchedulerMetrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_scheduler_runs_total",
			Help: "Test counter",
		}, []string{"status"}),
		RunDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "test_scheduler_run_duration_seconds",
			Help: "Test histogram",
		}),
		AccountsRefreshedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "test_scheduler_accounts_refreshed_total",
			Help: "Test counter",
		}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_scheduler_last_success_timestamp",
			Help: "Test gauge",
		}),
	}
	reg.MustRegister(m.RunsTotal, m.RunDurationSeconds, m.AccountsRefreshedTotal, m.LastSuccessTimestamp)
	return m
}

func TestSchedulerMetrics_RecordRun(t *testing.T) {
	metrics := newIsolatedMetrics(t)

	metrics.RecordRun(1.5, 3, false)
	metrics.RecordRun(0.5, 2, false)
	metrics.RecordRun(2.0, 3, true)

	if got := testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected success count 2, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("Expected failure count 1, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.AccountsRefreshedTotal); got != 8 {
		t.Errorf("Expected 8 accounts refreshed, got %f", got)
	}
	if got := testutil.CollectAndCount(metrics.RunDurationSeconds); got != 1 {
		t.Errorf("Expected 1 histogram series, got %d", got)
	}
	if got := testutil.ToFloat64(metrics.LastSuccessTimestamp); got <= 0 {
		t.Errorf("Expected last success timestamp to be set, got %f", got)
	}
}

func TestSchedulerMetrics_FailureDoesNotTouchLastSuccess(t *testing.T) {
	metrics := newIsolatedMetrics(t)

	metrics.RecordRun(1, 1, true)

	if got := testutil.ToFloat64(metrics.LastSuccessTimestamp); got != 0 {
		t.Errorf("Expected last success timestamp 0, got %f", got)
	}
}
