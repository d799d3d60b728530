// Package tracing provides OpenTelemetry tracing for sync cycles and for
// calls to remote sync services.
//
// Sync cycles open a span per phase (pull, push, cleanup). Outgoing HTTP
// requests get a client span through Transport, which also propagates the
// W3C trace context. Finished spans are written to the structured log by
// LogExporter.
//
// Example usage:
//
//	shutdown := tracing.Init(tracing.Config{Enabled: true, SampleRatio: 1}, logger)
//	defer func() { _ = shutdown(context.Background()) }()
//
//	ctx, span := tracing.GetTracer().Start(ctx, "sync.pull")
//	defer span.End()
package tracing
