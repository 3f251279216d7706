// Package observability provides OpenTelemetry instrumentation for the
// order processing pipeline.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the order pipeline.
type Metrics struct {
	// Command metrics
	CommandDuration  metric.Float64Histogram
	CommandTotal     metric.Int64Counter
	CommandErrors    metric.Int64Counter
	VersionConflicts metric.Int64Counter

	// Event metrics
	EventsAppended  metric.Int64Counter
	EventsPublished metric.Int64Counter
	EventsDropped   metric.Int64Counter

	// Snapshot metrics
	SnapshotsCreated metric.Int64Counter

	// Projection metrics
	ProjectionErrors metric.Int64Counter
}

// NewMetrics creates all metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandDuration, err = meter.Float64Histogram(
		"orderstream.command.duration",
		metric.WithDescription("Command execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.duration: %w", err)
	}

	m.CommandTotal, err = meter.Int64Counter(
		"orderstream.command.total",
		metric.WithDescription("Total commands executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.total: %w", err)
	}

	m.CommandErrors, err = meter.Int64Counter(
		"orderstream.command.errors",
		metric.WithDescription("Total command errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.errors: %w", err)
	}

	m.VersionConflicts, err = meter.Int64Counter(
		"orderstream.command.version_conflicts",
		metric.WithDescription("Optimistic concurrency conflicts hit during command execution"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.version_conflicts: %w", err)
	}

	m.EventsAppended, err = meter.Int64Counter(
		"orderstream.events.appended",
		metric.WithDescription("Total events appended to the event store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	m.EventsPublished, err = meter.Int64Counter(
		"orderstream.events.published",
		metric.WithDescription("Total events published to the event bus"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.published: %w", err)
	}

	m.EventsDropped, err = meter.Int64Counter(
		"orderstream.events.dropped",
		metric.WithDescription("Events dropped by the event bus under backpressure"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.dropped: %w", err)
	}

	m.SnapshotsCreated, err = meter.Int64Counter(
		"orderstream.snapshots.created",
		metric.WithDescription("Aggregate snapshots written"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating snapshots.created: %w", err)
	}

	m.ProjectionErrors, err = meter.Int64Counter(
		"orderstream.projection.errors",
		metric.WithDescription("Projection processing errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	return m, nil
}

// RecordCommand records command execution metrics.
func (m *Metrics) RecordCommand(ctx context.Context, commandType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("command_type", commandType),
	}

	m.CommandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.CommandTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil {
		errorAttrs := append(attrs,
			attribute.String("error_type", fmt.Sprintf("%T", err)),
		)
		m.CommandErrors.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
	}
}
