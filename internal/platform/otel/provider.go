// Package otel configures OpenTelemetry tracing for platform binaries.
package otel

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// noopShutdown satisfies the Setup contract when tracing is disabled.
func noopShutdown(context.Context) error { return nil }

// enabled reports whether tracing is configured for this process. Tracing is
// opt-in: it requires OPENFUND_OTEL_ENDPOINT to be set and is vetoed by
// OPENFUND_OTEL_ENABLED=false.
func enabled() (endpoint string, ok bool) {
	if strings.EqualFold(os.Getenv("OPENFUND_OTEL_ENABLED"), "false") {
		return "", false
	}
	endpoint = os.Getenv("OPENFUND_OTEL_ENDPOINT")
	return endpoint, endpoint != ""
}

// Setup installs a global OTLP trace provider for the given service and
// returns a shutdown function that flushes pending spans. When tracing is
// not configured, Setup registers nothing and the shutdown is a no-op.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	endpoint, ok := enabled()
	if !ok {
		return noopShutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noopShutdown, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noopShutdown, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return provider.Shutdown, nil
}
