package eventsourcing

import (
	"context"
	"fmt"
	"sync"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/messaging"
	"github.com/plaenen/orderstream/pkg/observability"
	"github.com/plaenen/orderstream/pkg/store"
)

// Projection defines the interface for building read models from events.
// Projections consume live events from the EventBus and can be rebuilt
// from the EventStore at any time.
//
// Handle must be idempotent: catch-up and live delivery can overlap, and
// the bus delivers at-least-once. Applying the same event twice must leave
// the read model unchanged.
type Projection interface {
	// Name returns the unique name of this projection.
	Name() string

	// Handle processes an event and updates the read model.
	Handle(ctx context.Context, envelope *domain.EventEnvelope) error

	// Reset clears all projection state so it can be rebuilt.
	Reset(ctx context.Context) error
}

// rebuildBatchSize is the number of events loaded per batch when catching
// up or rebuilding from the event store.
const rebuildBatchSize = 1000

// ProjectionManager coordinates running projections. Live events arrive
// via the EventBus; the EventStore backs catch-up and rebuilds.
type ProjectionManager struct {
	projections     map[string]Projection
	checkpointStore store.CheckpointStore
	eventStore      store.EventStore
	eventBus        messaging.EventBus
	metrics         *observability.Metrics
	mu              sync.RWMutex
	running         map[string]context.CancelFunc
	checkpoints     map[string]*checkpointTracker
	wg              sync.WaitGroup
}

// ManagerOption configures a ProjectionManager.
type ManagerOption func(*ProjectionManager)

// WithMetrics enables metric recording for projection failures.
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *ProjectionManager) {
		m.metrics = metrics
	}
}

// checkpointTracker serializes checkpoint updates for one projection.
// Live events can arrive on multiple bus workers concurrently, so the
// position only ever moves forward.
type checkpointTracker struct {
	mu         sync.Mutex
	checkpoint store.ProjectionCheckpoint
}

func (t *checkpointTracker) advance(cs store.CheckpointStore, position int64, eventID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if position <= t.checkpoint.Position {
		return nil
	}
	t.checkpoint.Position = position
	t.checkpoint.LastEventID = eventID
	t.checkpoint.UpdatedAt = domain.Now()
	return cs.Save(&t.checkpoint)
}

// NewProjectionManager creates a new projection manager.
func NewProjectionManager(checkpointStore store.CheckpointStore, eventStore store.EventStore, eventBus messaging.EventBus, opts ...ManagerOption) *ProjectionManager {
	m := &ProjectionManager{
		projections:     make(map[string]Projection),
		checkpointStore: checkpointStore,
		eventStore:      eventStore,
		eventBus:        eventBus,
		running:         make(map[string]context.CancelFunc),
		checkpoints:     make(map[string]*checkpointTracker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register registers a projection with the manager.
func (m *ProjectionManager) Register(projection Projection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.projections[projection.Name()] = projection
}

// Start catches a projection up from its checkpoint, then subscribes it to
// live events. Returns an error if the projection is unknown or already
// running.
func (m *ProjectionManager) Start(ctx context.Context, projectionName string) error {
	m.mu.Lock()
	projection, exists := m.projections[projectionName]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("projection %s not found", projectionName)
	}
	if _, running := m.running[projectionName]; running {
		m.mu.Unlock()
		return fmt.Errorf("projection %s already running", projectionName)
	}
	m.mu.Unlock()

	tracker := &checkpointTracker{
		checkpoint: store.ProjectionCheckpoint{ProjectionName: projectionName},
	}
	if cp, err := m.checkpointStore.Load(projectionName); err == nil {
		tracker.checkpoint = *cp
	}

	// Catch up on events appended while the projection was down.
	if err := m.replayFrom(ctx, projection, tracker); err != nil {
		return fmt.Errorf("failed to catch up projection %s: %w", projectionName, err)
	}

	projCtx, cancel := context.WithCancel(ctx)

	subscription, err := m.eventBus.Subscribe(messaging.EventFilter{}, func(envelope *domain.EventEnvelope) error {
		// Handle is idempotent, so events already seen during catch-up
		// are applied again harmlessly.
		if err := projection.Handle(projCtx, envelope); err != nil {
			if m.metrics != nil {
				m.metrics.ProjectionErrors.Add(projCtx, 1)
			}
			return fmt.Errorf("projection %s failed to handle event: %w", projectionName, err)
		}
		return tracker.advance(m.checkpointStore, envelope.Event.GlobalPosition, envelope.Event.ID)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	m.mu.Lock()
	m.running[projectionName] = cancel
	m.checkpoints[projectionName] = tracker
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-projCtx.Done()
		subscription.Unsubscribe()
	}()

	return nil
}

// Stop stops a running projection. Its checkpoint is preserved so the next
// Start resumes where it left off.
func (m *ProjectionManager) Stop(projectionName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancel, running := m.running[projectionName]
	if !running {
		return fmt.Errorf("projection %s not running", projectionName)
	}

	cancel()
	delete(m.running, projectionName)
	delete(m.checkpoints, projectionName)

	return nil
}

// Rebuild tears a projection down and replays the full event history into
// it: stop if running, Reset, delete the checkpoint, then batch-replay from
// the event store. Useful after read model schema changes or corruption.
//
// The projection is left stopped; call Start to resume live consumption.
func (m *ProjectionManager) Rebuild(ctx context.Context, projectionName string) error {
	m.mu.Lock()
	projection, exists := m.projections[projectionName]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("projection %s not found", projectionName)
	}

	if cancel, running := m.running[projectionName]; running {
		cancel()
		delete(m.running, projectionName)
		delete(m.checkpoints, projectionName)
	}
	m.mu.Unlock()

	if err := projection.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset projection: %w", err)
	}

	if err := m.checkpointStore.Delete(projectionName); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	tracker := &checkpointTracker{
		checkpoint: store.ProjectionCheckpoint{ProjectionName: projectionName},
	}
	if err := m.replayFrom(ctx, projection, tracker); err != nil {
		return fmt.Errorf("failed to rebuild projection %s: %w", projectionName, err)
	}

	return nil
}

// replayFrom feeds the projection all stored events past its checkpoint,
// in global append order, saving the checkpoint after each batch.
func (m *ProjectionManager) replayFrom(ctx context.Context, projection Projection, tracker *checkpointTracker) error {
	for {
		events, err := m.eventStore.LoadAllEvents(tracker.checkpoint.Position, rebuildBatchSize)
		if err != nil {
			return fmt.Errorf("failed to load events: %w", err)
		}

		if len(events) == 0 {
			return nil
		}

		for _, event := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			envelope := &domain.EventEnvelope{Event: *event}
			if err := projection.Handle(ctx, envelope); err != nil {
				if m.metrics != nil {
					m.metrics.ProjectionErrors.Add(ctx, 1)
				}
				return fmt.Errorf("failed to handle event %s: %w", event.ID, err)
			}
		}

		last := events[len(events)-1]
		if err := tracker.advance(m.checkpointStore, last.GlobalPosition, last.ID); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		if len(events) < rebuildBatchSize {
			return nil
		}
	}
}

// StopAll stops all running projections and waits for them to wind down.
func (m *ProjectionManager) StopAll() {
	m.mu.Lock()
	for name, cancel := range m.running {
		cancel()
		delete(m.running, name)
		delete(m.checkpoints, name)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// GetCheckpoint returns the stored checkpoint for a projection.
func (m *ProjectionManager) GetCheckpoint(projectionName string) (*store.ProjectionCheckpoint, error) {
	return m.checkpointStore.Load(projectionName)
}
