package domain

// Aggregate defines the interface that all aggregates must implement.
type Aggregate interface {
	// ID returns the unique identifier of the aggregate.
	ID() string

	// Type returns the type name of the aggregate.
	Type() string

	// Version returns the current version of the aggregate. It equals the
	// number of events applied to it.
	Version() int64

	// ApplyEvent applies a stored event to the aggregate's state.
	// This is called when replaying events from the event store.
	ApplyEvent(event *Event) error

	// UncommittedEvents returns events that have been applied but not yet persisted.
	UncommittedEvents() []*Event

	// ClearUncommittedEvents clears the uncommitted events after they've been persisted.
	ClearUncommittedEvents()
}

// AggregateRoot provides base functionality for all aggregates.
// Use this as an embedded type in your aggregate implementations.
type AggregateRoot struct {
	id                string
	aggregateType     string
	version           int64
	uncommittedEvents []*Event
	commandID         string
}

// NewAggregateRoot creates a new aggregate root with the given ID and type.
func NewAggregateRoot(id, aggregateType string) AggregateRoot {
	return AggregateRoot{
		id:                id,
		aggregateType:     aggregateType,
		uncommittedEvents: make([]*Event, 0),
	}
}

// ID returns the aggregate's unique identifier.
func (a *AggregateRoot) ID() string {
	return a.id
}

// Type returns the aggregate's type name.
func (a *AggregateRoot) Type() string {
	return a.aggregateType
}

// Version returns the aggregate's current version.
func (a *AggregateRoot) Version() int64 {
	return a.version
}

// SetVersion sets the aggregate's version. Called when replaying a stored
// event or restoring a snapshot; never by command logic.
func (a *AggregateRoot) SetVersion(version int64) {
	a.version = version
}

// SetCommandID sets the command ID for deterministic event ID generation.
// This should be called before processing a command.
func (a *AggregateRoot) SetCommandID(commandID string) {
	a.commandID = commandID
}

// UncommittedEvents returns events that haven't been persisted yet.
func (a *AggregateRoot) UncommittedEvents() []*Event {
	return a.uncommittedEvents
}

// ClearUncommittedEvents clears the uncommitted events list.
func (a *AggregateRoot) ClearUncommittedEvents() {
	a.uncommittedEvents = make([]*Event, 0)
}

// Record creates the event envelope for a new domain event, appends it to
// the uncommitted list and increments the aggregate version. The caller is
// responsible for mutating aggregate state through the same apply path used
// for replay.
func (a *AggregateRoot) Record(eventType string, schemaVersion int, data []byte, metadata EventMetadata) *Event {
	var eventID string
	if a.commandID != "" {
		// Deterministic ID so a retried command reproduces the same events
		eventID = DeterministicEventID(a.commandID, a.id, len(a.uncommittedEvents))
	} else {
		eventID = NewEventID()
	}

	evt := &Event{
		ID:            eventID,
		AggregateID:   a.id,
		AggregateType: a.aggregateType,
		EventType:     eventType,
		Version:       a.version + 1,
		SchemaVersion: schemaVersion,
		Timestamp:     Now(),
		Data:          data,
		Metadata:      metadata,
	}

	a.uncommittedEvents = append(a.uncommittedEvents, evt)
	a.version++

	return evt
}
