package worker

import (
	"feedsync/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics tracks the scheduled refresh runs of the daemon. It embeds
// ConfigMetrics so configuration loading is reported under the same
// component prefix.
//
// Scheduler metrics:
//   - feedsync_scheduler_runs_total: refresh runs by status (success/failure)
//   - feedsync_scheduler_run_duration_seconds: duration of a refresh-all run
//   - feedsync_scheduler_accounts_refreshed_total: account cycles completed
//   - feedsync_scheduler_last_success_timestamp: Unix time of the last clean run
type SchedulerMetrics struct {
	*config.ConfigMetrics

	RunsTotal              *prometheus.CounterVec
	RunDurationSeconds     prometheus.Histogram
	AccountsRefreshedTotal prometheus.Counter
	LastSuccessTimestamp   prometheus.Gauge
}

// NewSchedulerMetrics creates and registers the scheduler metrics. It may
// only be called once per process.
func NewSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{
		ConfigMetrics: config.NewConfigMetrics("feedsync"),

		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_scheduler_runs_total",
			Help: "Total number of scheduled refresh runs by status (success/failure)",
		}, []string{"status"}),

		RunDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsync_scheduler_run_duration_seconds",
			Help:    "Duration of a refresh of all accounts in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800},
		}),

		AccountsRefreshedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_scheduler_accounts_refreshed_total",
			Help: "Total number of account sync cycles completed by scheduled runs",
		}),

		LastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_scheduler_last_success_timestamp",
			Help: "Unix timestamp of the last refresh run in which every account succeeded",
		}),
	}
}

// RecordRun records one refresh-all run. accounts is the number of account
// cycles that completed; failed is true when any of them returned an error.
func (m *SchedulerMetrics) RecordRun(seconds float64, accounts int, failed bool) {
	m.RunDurationSeconds.Observe(seconds)
	m.AccountsRefreshedTotal.Add(float64(accounts))
	if failed {
		m.RunsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("success").Inc()
	m.LastSuccessTimestamp.SetToCurrentTime()
}
