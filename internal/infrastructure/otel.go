package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"

	"synthpanel/internal/config"
)

// TracingProvider owns the tracer provider installed by InitializeTracing
type TracingProvider struct {
	provider *sdktrace.TracerProvider
	logger   *slog.Logger
}

// InitializeTracing installs a global tracer provider according to cfg.
// With tracing disabled or the "none" exporter, the global no-op provider
// stays in place and the returned provider's Shutdown does nothing.
func InitializeTracing(cfg config.TracingConfig, logger *slog.Logger) (*TracingProvider, error) {
	return initializeTracing(cfg, os.Stdout, logger)
}

func initializeTracing(cfg config.TracingConfig, w io.Writer, logger *slog.Logger) (*TracingProvider, error) {
	tp := &TracingProvider{logger: logger}
	if !cfg.Enabled || cfg.Exporter == "none" || cfg.Exporter == "" {
		return tp, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = config.AppName
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(config.AppVersion),
	)

	tp.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized", slog.String("exporter", cfg.Exporter))
	return tp, nil
}

// Enabled reports whether spans are being exported
func (tp *TracingProvider) Enabled() bool {
	return tp != nil && tp.provider != nil
}

// Shutdown flushes pending spans and stops the provider
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	if !tp.Enabled() {
		return nil
	}
	if err := tp.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer provider shutdown: %w", err)
	}
	return nil
}
