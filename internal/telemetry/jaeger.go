package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
TRACING

Spans produced by the server:

	HTTP request (middleware.TracingMiddleware)
	  └─ Collab.Join           one per WebSocket upgrade
	       └─ Collab.<kind>    one per inbound message (update-note, cursor-update, final-save)
	            └─ Arbiter.Commit → repository spans through gorm's context

Cursor samples produce one span each. Lower TRACE_RATIO when running with
many participants.
*/

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Noop is returned when tracing could not be initialised.
func Noop(context.Context) error { return nil }

// InitJaeger installs a global tracer provider that exports to the Jaeger collector.
func InitJaeger(serviceName, version, jaegerEndpoint string, ratio float64) (ShutdownFunc, error) {
	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(ratio)),
	)
	otel.SetTracerProvider(tp)

	log.Printf("✓ Jaeger tracing initialized: %s (ratio %.2f)", jaegerEndpoint, ratio)

	return tp.Shutdown, nil
}

// Sampler maps a ratio to a parent-based sampler. Ratios at or above 1 sample everything.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	if ratio <= 0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
