package store

import "time"

// Snapshot represents a serialized aggregate state at a specific version.
// A snapshot is a cache, never a source of truth: it must always be
// re-derivable by replaying events 1..Version.
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       int64
	State         []byte
	CreatedAt     time.Time
}

// SnapshotStore defines the interface for snapshot persistence.
// At most one current snapshot is retained per aggregate.
type SnapshotStore interface {
	// SaveSnapshot persists a snapshot, overwriting the current one.
	SaveSnapshot(snapshot *Snapshot) error

	// GetLatestSnapshot retrieves the current snapshot for an aggregate.
	// Returns domain.ErrSnapshotNotFound if none exists.
	GetLatestSnapshot(aggregateID string) (*Snapshot, error)
}

// SnapshotStrategy defines when snapshots should be created.
type SnapshotStrategy interface {
	// ShouldCreateSnapshot determines if a snapshot should be created
	// based on the aggregate's current state.
	ShouldCreateSnapshot(currentVersion int64, eventsSinceLastSnapshot int64) bool
}

// IntervalSnapshotStrategy creates snapshots every N events.
type IntervalSnapshotStrategy struct {
	Interval int64
}

// DefaultSnapshotInterval is the number of events between snapshots.
const DefaultSnapshotInterval = 100

// NewIntervalSnapshotStrategy creates a strategy that snapshots every N events.
func NewIntervalSnapshotStrategy(interval int64) *IntervalSnapshotStrategy {
	return &IntervalSnapshotStrategy{Interval: interval}
}

// ShouldCreateSnapshot checks if the interval threshold has been crossed.
func (s *IntervalSnapshotStrategy) ShouldCreateSnapshot(currentVersion int64, eventsSinceLastSnapshot int64) bool {
	if s.Interval <= 0 {
		return false
	}
	return eventsSinceLastSnapshot >= s.Interval
}

// Snapshotable is an interface for aggregates that can be snapshotted.
type Snapshotable interface {
	// MarshalSnapshot serializes the aggregate state to bytes.
	MarshalSnapshot() ([]byte, error)

	// UnmarshalSnapshot deserializes the aggregate state from bytes.
	UnmarshalSnapshot(data []byte) error
}
