// Package otelhelper provides tracing helpers for site runs and flow steps.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	SiteIDKey       = "checkinhub.site.id"
	SiteNameKey     = "checkinhub.site.name"
	RunIDKey        = "checkinhub.run.id"
	RunTriggerKey   = "checkinhub.run.trigger"
	RunStatusKey    = "checkinhub.run.status"
	StepNameKey     = "checkinhub.step.name"
	StepIndexKey    = "checkinhub.step.index"
	StepStatusKey   = "checkinhub.step.status"
	HTTPMethodKey   = "checkinhub.http.method"
	HTTPStatusKey   = "checkinhub.http.status_code"
	ScheduleKindKey = "checkinhub.schedule.kind"
)

// Tracer returns the named tracer from the global provider. Without
// NewTracerProvider it is a no-op tracer.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// NewTracerProvider installs an OTLP/HTTP exporting provider as the global one.
// The exporter reads the standard OTEL_EXPORTER_OTLP_* environment variables.
func NewTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
