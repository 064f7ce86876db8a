// Package telemetry sets up OTLP trace export. Endpoint and headers come
// from the standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rashmirrout/pilotdesk/internal/config"
)

const scopeName = "github.com/rashmirrout/pilotdesk"

// noopShutdown is returned when telemetry is disabled.
func noopShutdown(context.Context) error { return nil }

// Init configures the global tracer provider. Returns a tracer and a
// shutdown function that must be called on exit. Disabled telemetry
// yields a no-op tracer.
func Init(ctx context.Context, cfg config.TelemetryConfig) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.Enabled {
		return otel.Tracer(scopeName), noopShutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("pilotdesk")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	var exp *otlptrace.Exporter
	switch cfg.Protocol {
	case "grpc":
		exp, err = otlptracegrpc.New(ctx)
	default:
		exp, err = otlptracehttp.New(ctx)
	}
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return otel.Tracer(scopeName), tp.Shutdown, nil
}
