// Package observer provides OTEL-based observability for the agent
// core. It bridges the core's Tracer contract to OpenTelemetry and
// wraps the ChatProvider with span and cost instrumentation. Export
// goes to any OTLP-compatible backend via the standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, ...).
package observer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const scopeName = "github.com/jimihq/jimi/observer"

// Init sets up an OTEL trace provider with an OTLP HTTP exporter.
// Returns a shutdown function that must be called on exit.
func Init(ctx context.Context) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("jimi")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
