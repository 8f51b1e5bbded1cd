// Package telemetry wires OpenTelemetry tracing for the speak
// pipeline. Tracing is off by default; when enabled, spans export to
// an OTLP endpoint if configured, else to stdout.
package telemetry

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/loqa-speak/internal/config"
)

// Setup configures the global tracer provider and returns its
// shutdown hook. With tracing disabled the hook is a no-op.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.TraceEnabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("loqa-speak"),
			attribute.String("service.component", "speech"),
		),
	)
	if err != nil {
		return nil, err
	}

	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		logger.Info("tracing initialized", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
		return tp.Shutdown, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing initialized", slog.String("exporter", "stdout"))
	return tp.Shutdown, nil
}
