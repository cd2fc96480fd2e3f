package otelhelper

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError records err on span and marks the span as failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetFailure marks span as failed for an outcome that is not a Go error,
// such as a step whose expectation did not hold.
func SetFailure(span trace.Span, message string, attrs ...attribute.KeyValue) {
	SetError(span, errors.New(message), attrs...)
}
