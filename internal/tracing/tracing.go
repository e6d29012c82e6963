// Package tracing configures OpenTelemetry export for the API. Traces ship
// to a Jaeger collector when enabled; otherwise every span is a no-op.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceVersion = "1.0.0"

// Config holds tracing configuration.
type Config struct {
	Enabled     bool
	Endpoint    string // Jaeger collector endpoint, e.g. "http://localhost:14268/api/traces"
	ServiceName string
	Environment string
	// SampleRatio is the fraction of traces to keep, in (0, 1]. Zero means
	// sample everything.
	SampleRatio float64
}

// Tracer wraps OpenTelemetry tracer functionality.
type Tracer struct {
	tracer trace.Tracer
}

var globalTracer *Tracer

func noopTracer() *Tracer {
	return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer("noop")}
}

// InitTracing initializes OpenTelemetry tracing.
func InitTracing(cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		globalTracer = noopTracer()
		return globalTracer, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "merchant-actions-api"
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := tracesdk.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		// Respect the parent decision so distributed traces stay whole.
		sampler = tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	globalTracer = &Tracer{tracer: otel.Tracer(cfg.ServiceName)}
	return globalTracer, nil
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// GetTracer returns the global tracer instance, no-op when tracing was
// never initialized.
func GetTracer() *Tracer {
	if globalTracer == nil {
		return noopTracer()
	}
	return globalTracer
}

// Shutdown flushes and shuts down the tracer provider.
func Shutdown(ctx context.Context) error {
	if tp, ok := otel.GetTracerProvider().(*tracesdk.TracerProvider); ok {
		return tp.Shutdown(ctx)
	}
	return nil
}
