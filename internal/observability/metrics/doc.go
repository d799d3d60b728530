// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes the sync core's metrics:
//   - reconciliation cycles (count by result, duration)
//   - pulled and corrupt items, pushed status changes
//   - outbox depth, unread totals, suspended storage, halted accounts
//   - dropped events and storage operation latency
//
// All metrics are registered with the Prometheus default registry and
// exposed via the /metrics endpoint of the daemon.
//
// Example usage:
//
//	start := time.Now()
//	// ... run a cycle ...
//	metrics.RecordCycle(accountID, "success", time.Since(start))
package metrics
