package store

import (
	"time"

	"github.com/plaenen/orderstream/pkg/domain"
)

// EventStore defines the interface for persisting and retrieving events.
//
// The store is the single point of truth for optimistic concurrency: callers
// supply the version they loaded, and an append at a stale version fails with
// domain.ErrConcurrencyConflict. The store never merges concurrent writes.
type EventStore interface {
	// AppendEvents appends events to an aggregate's stream atomically.
	// Events receive versions expectedVersion+1, expectedVersion+2, ...
	// Returns domain.ErrConcurrencyConflict if another writer advanced the
	// aggregate past expectedVersion. No events are partially appended.
	// On success the events' GlobalPosition fields are filled in.
	AppendEvents(aggregateID string, expectedVersion int64, events []*domain.Event) error

	// AppendEventsIdempotent appends events with command-level idempotency.
	// If commandID was already processed, returns the recorded result
	// without appending. The idempotency record is written in the same
	// transaction as the events. TTL bounds how long the outcome is kept.
	AppendEventsIdempotent(
		aggregateID string,
		expectedVersion int64,
		events []*domain.Event,
		commandID string,
		ttl time.Duration,
	) (*domain.CommandResult, error)

	// RecordRejectedCommand records a business rule rejection for a command
	// so that a retried submission short-circuits without re-deciding.
	// Only used when failed-outcome caching is enabled.
	RecordRejectedCommand(commandID, aggregateID, rule string, ttl time.Duration) error

	// GetCommandResult retrieves the outcome of a previously processed
	// command. Returns domain.ErrCommandNotProcessed if no live record exists.
	GetCommandResult(commandID string) (*domain.CommandResult, error)

	// LoadEvents loads events for an aggregate with version > afterVersion,
	// ordered ascending by version. An empty slice is not an error.
	LoadEvents(aggregateID string, afterVersion int64) ([]*domain.Event, error)

	// LoadAllEvents loads events across all aggregates with
	// GlobalPosition > fromPosition, in global append order. Used by the
	// projection rebuild path.
	LoadAllEvents(fromPosition int64, limit int) ([]*domain.Event, error)

	// GetAggregateVersion returns the current version of an aggregate.
	// Returns 0 if the aggregate doesn't exist.
	GetAggregateVersion(aggregateID string) (int64, error)

	// Close closes the event store and releases resources.
	Close() error
}
