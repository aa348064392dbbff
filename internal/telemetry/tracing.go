package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every span the relay starts.
const TracerName = "github.com/desertthunder/feedbridge"

var tracingEnabled bool

// InitTracing installs an OTLP/gRPC tracer provider.
//
// With an empty endpoint tracing stays disabled and the global no-op provider is used.
// The returned function flushes and shuts the provider down.
func InitTracing(ctx context.Context, endpoint, serviceName string, logger *log.Logger) (func(), error) {
	if endpoint == "" {
		logger.Info("tracing disabled: no OTLP endpoint configured")
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(provider)
	tracingEnabled = true
	logger.Info("tracing initialized", "service", serviceName, "endpoint", endpoint)

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// IsTracingEnabled reports whether [InitTracing] installed an exporter.
func IsTracingEnabled() bool {
	return tracingEnabled
}

// StartSpan starts a span on the relay tracer.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records err on span and marks it failed. A nil error marks the span ok.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
