// Package tracing sets up OpenTelemetry for flagfile processes.
//
// Library code only ever asks for [Tracer]; spans go nowhere until a process
// calls [Init] with OTEL_EXPORTER_OTLP_ENDPOINT set.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServiceName  = "flagfile"
	instrumentationName = "github.com/matt-riley/flagfile"
)

// Tracer returns the flagfile tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

type settings struct {
	serviceVersion string
	sampleRatio    float64
}

type Option func(*settings)

// WithServiceVersion records version as service.version on every span.
func WithServiceVersion(version string) Option {
	return func(s *settings) {
		s.serviceVersion = strings.TrimSpace(version)
	}
}

// WithSampleRatio samples this fraction of root spans. Child spans follow
// their parent's decision. Values outside [0, 1] are clamped.
func WithSampleRatio(ratio float64) Option {
	return func(s *settings) {
		s.sampleRatio = min(max(ratio, 0), 1)
	}
}

// Init installs a global tracer provider exporting over OTLP/HTTP and returns
// its shutdown function, which flushes pending spans. Without
// OTEL_EXPORTER_OTLP_ENDPOINT nothing is installed and shutdown is a no-op.
func Init(ctx context.Context, opts ...Option) (shutdown func(context.Context) error, err error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}

	s := settings{sampleRatio: 1}
	for _, opt := range opts {
		opt(&s)
	}

	res, err := newResource(s)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.sampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func newResource(s settings) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(serviceNameFromEnv())}
	if s.serviceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(s.serviceVersion))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

func serviceNameFromEnv() string {
	if name := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); name != "" {
		return name
	}
	return defaultServiceName
}
