package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope every ragcore span is
// recorded under.
const TracerName = "github.com/ragcore/ragcore"

// SetupTracing installs a tracer provider that exports finished spans
// to the given slog.Logger. Spans wrap the pipeline's blocking calls
// (embedding, generation, vector-store persist, external fetches), so
// operators get per-call latency without running a collector; pointing
// the provider at a real OTLP backend only means swapping the exporter.
// Returns a shutdown function for the caller to defer.
func SetupTracing(ctx context.Context, serviceName string, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&slogSpanExporter{logger: logger}),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the process tracer for ragcore spans. When
// SetupTracing has not run this yields the default no-op provider, so
// instrumented call sites cost nothing in untraced processes.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// slogSpanExporter writes finished spans as structured log records.
type slogSpanExporter struct {
	logger *slog.Logger
}

var _ sdktrace.SpanExporter = (*slogSpanExporter)(nil)

func (e *slogSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []slog.Attr{
			slog.String("trace_id", s.SpanContext().TraceID().String()),
			slog.String("span_id", s.SpanContext().SpanID().String()),
			slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
			slog.String("status", s.Status().Code.String()),
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
		}
		e.logger.LogAttrs(ctx, slog.LevelDebug, "span "+s.Name(), attrs...)
	}
	return nil
}

func (e *slogSpanExporter) Shutdown(ctx context.Context) error { return nil }
