package tracing

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanBatchRun          = "batch.run"
	SpanBatchFlush        = "batch.flush"
	SpanBindingCreate     = "binding.create"
	SpanBindingDestroy    = "binding.destroy"
	SpanControllerSetup   = "controller.setup"
	SpanControllerHandle  = "controller.handle"
	SpanControllerDestroy = "controller.destroy"
	SpanAppStart          = "app.start"
	SpanAppActivate       = "app.activate"
)

// Span attribute keys.
const (
	AttrBatchRequests   = "batch.requests"
	AttrBatchFlushes    = "batch.flushes"
	AttrBindingName     = "binding.name"
	AttrBindingType     = "binding.type"
	AttrControllerName  = "controller.name"
	AttrControllerScope = "controller.scope"
	AttrEventName       = "event.name"
	AttrMarkerName      = "marker.name"
)

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
