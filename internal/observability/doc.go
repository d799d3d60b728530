// Package observability groups the logging, metrics and tracing support of
// the sync daemon.
//
// Subpackages:
//   - logging: slog setup, account-scoped loggers and error sanitizing
//   - metrics: Prometheus collectors for sync cycles, pushes and storage
//   - tracing: OpenTelemetry spans around sync cycles and outgoing requests
//
// Example usage:
//
//	import (
//	    "feedsync/internal/observability/logging"
//	    "feedsync/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("application started")
//
//	    metrics.RecordCycle(accountID, "success", time.Since(start))
//	}
package observability
