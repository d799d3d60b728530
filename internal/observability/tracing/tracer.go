package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "feedsync"

// GetTracer returns the tracer for creating spans. It always resolves
// against the current global provider.
//
// Example usage:
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Config controls the process-wide tracer provider.
type Config struct {
	// Enabled turns on span export. When false spans are still created but
	// never sampled.
	Enabled bool
	// SampleRatio is the fraction of root spans that are recorded (0.0 - 1.0).
	SampleRatio float64
}

// Init installs a tracer provider that writes finished spans to logger at
// debug level and returns a shutdown function that flushes pending spans.
func Init(cfg Config, logger *slog.Logger) func(context.Context) error {
	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(NewLogExporter(logger)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown
}
