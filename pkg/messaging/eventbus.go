package messaging

import "github.com/plaenen/orderstream/pkg/domain"

// EventBus defines the interface for publishing and subscribing to events.
//
// Publication is best-effort downstream of the event store: the log is the
// source of truth and projections can always recover by replaying it, so a
// bus implementation may drop events under pressure rather than block the
// command path.
type EventBus interface {
	// Publish delivers events to all matching subscribers.
	Publish(events []*domain.Event) error

	// Subscribe registers a handler for events matching the filter.
	Subscribe(filter EventFilter, handler EventHandler) (Subscription, error)

	// Close shuts the bus down and releases resources.
	Close() error
}

// EventFilter defines criteria for filtering events.
type EventFilter struct {
	// AggregateTypes filters by aggregate type (empty = all types)
	AggregateTypes []string

	// EventTypes filters by event type (empty = all types)
	EventTypes []string
}

// EventHandler processes an event.
// Return an error to signal failure; retry semantics depend on the bus.
type EventHandler func(envelope *domain.EventEnvelope) error

// Subscription represents an active event subscription.
type Subscription interface {
	// Unsubscribe stops receiving events and cleans up resources.
	Unsubscribe() error
}

// Matches reports whether an event passes the filter.
func (f EventFilter) Matches(evt *domain.Event) bool {
	if len(f.AggregateTypes) > 0 && !contains(f.AggregateTypes, evt.AggregateType) {
		return false
	}
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, evt.EventType) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
