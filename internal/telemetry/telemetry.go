// Package telemetry wraps the broker's OpenTelemetry tracer provider.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"regbroker/internal/config"
)

// Provider wraps a TracerProvider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

var globalProvider *Provider

// Init builds the tracer provider. With tracing disabled it still returns a
// usable no-op Provider so StartSpan callers never need a nil check.
func Init(ctx context.Context, cfg config.TracingConfig, version, environment string) (*Provider, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "regbroker"
	}

	if !cfg.Enabled {
		provider := &Provider{tracer: otel.Tracer(serviceName)}
		globalProvider = provider
		return provider, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	provider := &Provider{tp: tp, tracer: tp.Tracer(serviceName)}
	globalProvider = provider
	return provider, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Get returns the global provider, building a default no-op one if Init was
// never called (e.g. in unit tests).
func Get() *Provider {
	if globalProvider == nil {
		return &Provider{tracer: otel.Tracer("regbroker")}
	}
	return globalProvider
}

// StartSpan starts a span on the global tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Get().tracer.Start(ctx, name, opts...)
}

// SetError marks the span in ctx as failed.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordError records a non-fatal error on the span without changing its status.
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	trace.SpanFromContext(ctx).RecordError(err, opts...)
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// WithAttributes is a SpanStartOption helper.
func WithAttributes(attrs ...attribute.KeyValue) trace.SpanStartOption {
	return trace.WithAttributes(attrs...)
}
