package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorKey carries the error message on the error event.
const ErrorKey = "contentflow.error"

// SetError marks span failed and records err with attrs on an
// "error_occurred" event.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	attrs = append(attrs, attribute.String(ErrorKey, err.Error()))
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}
