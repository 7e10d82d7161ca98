// Package observability wires the OTLP trace exporter and the shared
// Prometheus registry into the process.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/phancao/Project-Management-Agent-sub011/internal/config"
	"github.com/phancao/Project-Management-Agent-sub011/internal/logging"
)

// SetupTracing configures the global tracer provider. An empty endpoint
// disables export and returns a noop provider; the returned shutdown func
// is always safe to call.
func SetupTracing(ctx context.Context, cfg config.TracingConfig, logger logging.Logger) (trace.TracerProvider, func(context.Context) error, error) {
	logger = logging.OrNop(logger)
	if cfg.Endpoint == "" {
		logger.Debug("tracing disabled (no endpoint configured)")
		provider := noop.NewTracerProvider()
		return provider, func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pma-server"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	logger.Info("tracing enabled, exporting to %s", cfg.Endpoint)

	return provider, provider.Shutdown, nil
}
