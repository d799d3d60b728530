// Package metrics provides centralized Prometheus metrics for the sync core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync cycle metrics track reconciliation runs per account.
var (
	// SyncCyclesTotal counts finished cycles by account and result
	// (success, retryable, auth_failure, error, canceled).
	SyncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
		[]string{"account", "result"},
	)

	// SyncCycleDuration measures full cycle duration in seconds.
	SyncCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedsync_cycle_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"account"},
	)

	// ItemsPulledTotal counts remote items applied to the local store.
	ItemsPulledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_items_pulled_total",
			Help: "Total number of remote items pulled",
		},
		[]string{"account"},
	)

	// CorruptItemsTotal counts remote items skipped because they could not be mapped.
	CorruptItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_corrupt_items_total",
			Help: "Total number of remote items skipped as corrupt",
		},
		[]string{"account"},
	)

	// StatusPushesTotal counts pushed status changes by result
	// (succeeded, failed, dropped).
	StatusPushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_status_pushes_total",
			Help: "Total number of status changes pushed",
		},
		[]string{"account", "result"},
	)
)

// Storage and state gauges.
var (
	// OutboxPending is the number of status changes waiting to be pushed.
	OutboxPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedsync_outbox_pending",
			Help: "Pending status changes in the outbox",
		},
		[]string{"account"},
	)

	// UnreadTotal is the aggregated unread count per account.
	UnreadTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedsync_unread_total",
			Help: "Unread articles per account",
		},
		[]string{"account"},
	)

	// StorageSuspended is 1 while an account database is suspended.
	StorageSuspended = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedsync_storage_suspended",
			Help: "1 if the account storage is suspended",
		},
		[]string{"account"},
	)

	// AccountHalted is 1 while sync for an account is halted by an auth failure.
	AccountHalted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedsync_account_halted",
			Help: "1 if sync is halted for the account",
		},
		[]string{"account"},
	)

	// EventsDroppedTotal counts events not delivered to a slow subscriber.
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedsync_events_dropped_total",
			Help: "Total number of events dropped for slow subscribers",
		},
	)

	// CircuitBreakerState is the state of a named breaker:
	// 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedsync_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	// DBOperationDuration measures storage operations in seconds.
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedsync_db_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// RecordCycle records a finished reconciliation cycle.
func RecordCycle(accountID, result string, duration time.Duration) {
	SyncCyclesTotal.WithLabelValues(accountID, result).Inc()
	SyncCycleDuration.WithLabelValues(accountID).Observe(duration.Seconds())
}

// RecordItemsPulled adds pulled and skipped item counts for an account.
func RecordItemsPulled(accountID string, applied, corrupt int) {
	if applied > 0 {
		ItemsPulledTotal.WithLabelValues(accountID).Add(float64(applied))
	}
	if corrupt > 0 {
		CorruptItemsTotal.WithLabelValues(accountID).Add(float64(corrupt))
	}
}

// RecordStatusPush adds n pushed status changes with the given result.
func RecordStatusPush(accountID, result string, n int) {
	StatusPushesTotal.WithLabelValues(accountID, result).Add(float64(n))
}

// SetOutboxPending sets the outbox gauge for an account.
func SetOutboxPending(accountID string, n int) {
	OutboxPending.WithLabelValues(accountID).Set(float64(n))
}

// SetUnreadTotal sets the unread gauge for an account.
func SetUnreadTotal(accountID string, n int) {
	UnreadTotal.WithLabelValues(accountID).Set(float64(n))
}

// SetStorageSuspended flips the suspended gauge for an account.
func SetStorageSuspended(accountID string, suspended bool) {
	StorageSuspended.WithLabelValues(accountID).Set(boolToFloat(suspended))
}

// SetAccountHalted flips the halted gauge for an account.
func SetAccountHalted(accountID string, halted bool) {
	AccountHalted.WithLabelValues(accountID).Set(boolToFloat(halted))
}

// RecordEventDropped counts one undelivered event.
func RecordEventDropped() {
	EventsDroppedTotal.Inc()
}

// RecordDBOperation records the duration of a storage operation.
func RecordDBOperation(operation string, duration time.Duration) {
	DBOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetCircuitBreakerState records a breaker state transition.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
