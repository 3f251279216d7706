package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EndSpan ends a span, recording the error if there is one.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID extracts the trace ID from context as a string.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// Common attribute keys for the order pipeline.
var (
	AttrAggregateID = attribute.Key("aggregate.id")
	AttrVersion     = attribute.Key("aggregate.version")

	AttrCommandType = attribute.Key("command.type")
	AttrCommandID   = attribute.Key("command.id")

	AttrEventCount = attribute.Key("event.count")
	AttrRetries    = attribute.Key("command.retries")
)

// CommandAttrs returns common command attributes.
func CommandAttrs(commandType, commandID, aggregateID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCommandType.String(commandType),
		AttrCommandID.String(commandID),
		AttrAggregateID.String(aggregateID),
	}
}
