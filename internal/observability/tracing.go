package observability

import (
	"context"

	"github.com/arcturusdc/orbit/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// NewTracerProvider builds a tracer provider sampling at the configured rate and
// installs it globally. With no exporters, finished spans are written to logger at
// debug level. Callers must Shutdown the provider.
func NewTracerProvider(cfg config.ObservabilityConfig, logger *zap.Logger, exporters ...sdktrace.SpanExporter) *sdktrace.TracerProvider {
	if len(exporters) == 0 {
		exporters = []sdktrace.SpanExporter{NewLogExporter(logger)}
	}

	sampler := sdktrace.NeverSample()
	if cfg.TracingEnabled {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TracingSampleRate))
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	}
	for _, exporter := range exporters {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp
}

// LogExporter writes finished spans as log entries
type LogExporter struct {
	logger *zap.Logger
}

// NewLogExporter creates a new LogExporter
func NewLogExporter(logger *zap.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

// ExportSpans implements sdktrace.SpanExporter
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := []zap.Field{
			zap.String("span", span.Name()),
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
			zap.Duration("duration", span.EndTime().Sub(span.StartTime())),
			zap.String("status", span.Status().Code.String()),
		}
		for _, attr := range span.Attributes() {
			fields = append(fields, zap.String(string(attr.Key), attr.Value.Emit()))
		}
		e.logger.Debug("span finished", fields...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter
func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}
