package domain

import (
	"time"
)

// Event represents a domain event that has occurred in the system.
// Events are immutable facts about state changes.
type Event struct {
	// ID is the unique identifier for this event (deterministic when
	// produced by a command, see DeterministicEventID)
	ID string

	// AggregateID is the identifier of the aggregate this event belongs to
	AggregateID string

	// AggregateType is the type name of the aggregate (e.g., "Order")
	AggregateType string

	// EventType is the fully qualified type name of the event
	// (e.g., "orders.OrderCreated")
	EventType string

	// Version is the version number of the aggregate after applying this event.
	// Versions are 1-based and strictly increasing per aggregate.
	Version int64

	// SchemaVersion is the version of the payload encoding. Decoders are
	// registered per (EventType, SchemaVersion) pair.
	SchemaVersion int

	// Timestamp is when the event was created
	Timestamp time.Time

	// Data is the encoded payload of the event
	Data []byte

	// Metadata contains additional contextual information
	Metadata EventMetadata

	// GlobalPosition is the event's position in the store-wide log.
	// It is assigned by the event store on append and is zero before that.
	GlobalPosition int64
}

// EventMetadata contains contextual information about an event.
type EventMetadata struct {
	// CausationID is the ID of the command that caused this event
	CausationID string

	// CorrelationID is used to trace related events across aggregates
	CorrelationID string

	// PrincipalID is the identifier of the principal who triggered this event
	PrincipalID string

	// Custom allows for application-specific metadata
	Custom map[string]string
}

// EventEnvelope wraps an event as delivered to projections. Payload is the
// decoded payload when the consumer has already decoded it, nil otherwise.
type EventEnvelope struct {
	Event
	Payload any
}
