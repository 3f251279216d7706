package observability_test

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/plaenen/orderstream/pkg/observability"
)

func TestTraceID(t *testing.T) {
	if id := observability.TraceID(context.Background()); id != "" {
		t.Errorf("expected empty trace ID without a span, got %q", id)
	}

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	want := span.SpanContext().TraceID().String()
	if got := observability.TraceID(ctx); got != want {
		t.Errorf("trace ID mismatch: got %q, want %q", got, want)
	}
}
