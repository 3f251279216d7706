package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/observability"
	"github.com/plaenen/orderstream/pkg/runner"
	"github.com/plaenen/orderstream/pkg/store"
)

// Repository loads and saves order aggregates. Loads go snapshot-first
// with an event tail replay; saves append through the idempotent path and
// apply the snapshot strategy afterwards.
type Repository struct {
	eventStore store.EventStore
	snapshots  store.SnapshotStore
	strategy   store.SnapshotStrategy
	logger     runner.Logger
	metrics    *observability.Metrics

	mu            sync.Mutex
	lastSnapshots map[string]int64
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithSnapshots enables snapshot-accelerated loads using the given store
// and strategy.
func WithSnapshots(snapshots store.SnapshotStore, strategy store.SnapshotStrategy) RepositoryOption {
	return func(r *Repository) {
		r.snapshots = snapshots
		r.strategy = strategy
	}
}

// WithRepositoryLogger sets the repository's logger.
func WithRepositoryLogger(logger runner.Logger) RepositoryOption {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithRepositoryMetrics enables metric recording for snapshot writes.
func WithRepositoryMetrics(metrics *observability.Metrics) RepositoryOption {
	return func(r *Repository) {
		r.metrics = metrics
	}
}

// NewRepository creates an order repository on the given event store.
func NewRepository(eventStore store.EventStore, opts ...RepositoryOption) *Repository {
	r := &Repository{
		eventStore:    eventStore,
		logger:        runner.NewNoopLogger(),
		lastSnapshots: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reconstructs an order from its latest snapshot plus the event tail.
// Returns domain.ErrAggregateNotFound when no events exist for the ID.
func (r *Repository) Load(orderID string) (*Order, error) {
	order := NewOrder(orderID)
	snapshotVersion := int64(0)

	if r.snapshots != nil {
		snap, err := r.snapshots.GetLatestSnapshot(orderID)
		switch {
		case err == nil:
			if err := order.UnmarshalSnapshot(snap.State); err != nil {
				// A stale or incompatible snapshot is not fatal; fall back
				// to a full replay.
				r.logger.Error("failed to restore snapshot, replaying from scratch",
					"order_id", orderID,
					"error", err)
				order = NewOrder(orderID)
			} else {
				snapshotVersion = snap.Version
			}
		case errors.Is(err, domain.ErrSnapshotNotFound):
		default:
			r.logger.Error("failed to load snapshot, replaying from scratch",
				"order_id", orderID,
				"error", err)
		}
	}

	events, err := r.eventStore.LoadEvents(orderID, order.Version())
	if err != nil {
		return nil, fmt.Errorf("failed to load events for order %s: %w", orderID, err)
	}

	if snapshotVersion == 0 && len(events) == 0 {
		return nil, domain.ErrAggregateNotFound
	}

	for _, evt := range events {
		if err := order.ApplyEvent(evt); err != nil {
			return nil, fmt.Errorf("failed to apply event %s: %w", evt.ID, err)
		}
	}

	r.mu.Lock()
	r.lastSnapshots[orderID] = snapshotVersion
	r.mu.Unlock()

	return order, nil
}

// Exists reports whether any events exist for the order ID.
func (r *Repository) Exists(orderID string) (bool, error) {
	version, err := r.eventStore.GetAggregateVersion(orderID)
	if err != nil {
		return false, err
	}
	return version > 0, nil
}

// SaveWithCommand appends the order's uncommitted events under the given
// command ID. On success the uncommitted list is cleared and the snapshot
// strategy is consulted. Snapshot failures are logged, never returned: the
// snapshot is a cache and the append already committed.
func (r *Repository) SaveWithCommand(order *Order, expectedVersion int64, commandID string, ttl time.Duration) (*domain.CommandResult, error) {
	events := order.UncommittedEvents()
	result, err := r.eventStore.AppendEventsIdempotent(order.ID(), expectedVersion, events, commandID, ttl)
	if err != nil {
		return nil, err
	}

	order.ClearUncommittedEvents()
	r.maybeSnapshot(order.ID(), order.Version(), order)

	return result, nil
}

// maybeSnapshot consults the strategy and writes a snapshot of src when the
// threshold is crossed. It depends only on the Snapshotable contract, not on
// the aggregate type.
func (r *Repository) maybeSnapshot(orderID string, version int64, src store.Snapshotable) {
	if r.snapshots == nil || r.strategy == nil {
		return
	}

	r.mu.Lock()
	since := version - r.lastSnapshots[orderID]
	r.mu.Unlock()

	if !r.strategy.ShouldCreateSnapshot(version, since) {
		return
	}

	state, err := src.MarshalSnapshot()
	if err != nil {
		r.logger.Error("failed to marshal snapshot",
			"order_id", orderID,
			"version", version,
			"error", err)
		return
	}

	if err := r.snapshots.SaveSnapshot(&store.Snapshot{
		AggregateID:   orderID,
		AggregateType: AggregateType,
		Version:       version,
		State:         state,
		CreatedAt:     domain.Now(),
	}); err != nil {
		r.logger.Error("failed to save snapshot",
			"order_id", orderID,
			"version", version,
			"error", err)
		return
	}

	r.mu.Lock()
	r.lastSnapshots[orderID] = version
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SnapshotsCreated.Add(context.Background(), 1)
	}
	r.logger.Debug("snapshot created", "order_id", orderID, "version", version)
}
