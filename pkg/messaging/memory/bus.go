// Package memory provides an in-process event bus.
//
// Events for the same aggregate are always dispatched by the same worker,
// so subscribers observe each aggregate's events in append order. Ordering
// across different aggregates is not guaranteed.
package memory

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/messaging"
	"github.com/plaenen/orderstream/pkg/runner"
)

// Bus is an in-process implementation of messaging.EventBus backed by a
// fixed pool of dispatch workers.
type Bus struct {
	workers []chan *domain.Event
	wg      sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.RWMutex
	subs   map[int64]*subscriber
	nextID int64
	closed bool

	logger  runner.Logger
	dropped atomic.Int64
	onDrop  func()
}

type subscriber struct {
	filter  messaging.EventFilter
	handler messaging.EventHandler
}

// busConfig holds internal configuration for the memory bus.
type busConfig struct {
	workers    int
	bufferSize int
	logger     runner.Logger
	onDrop     func()
}

// Option configures a Bus.
type Option func(*busConfig)

// WithWorkers sets the number of dispatch workers. Default is 4.
func WithWorkers(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithBufferSize sets the per-worker queue capacity. Default is 1024.
// When a worker's queue is full, Publish drops the event instead of
// blocking the caller.
func WithBufferSize(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithLogger sets the logger used to report dropped events.
func WithLogger(logger runner.Logger) Option {
	return func(c *busConfig) {
		c.logger = logger
	}
}

// WithDropCallback registers a callback invoked once per dropped event.
// Useful for wiring a metrics counter.
func WithDropCallback(fn func()) Option {
	return func(c *busConfig) {
		c.onDrop = fn
	}
}

// NewBus creates a new in-process event bus and starts its workers.
func NewBus(opts ...Option) *Bus {
	config := busConfig{
		workers:    4,
		bufferSize: 1024,
		logger:     runner.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(&config)
	}

	b := &Bus{
		workers: make([]chan *domain.Event, config.workers),
		subs:    make(map[int64]*subscriber),
		logger:  config.logger,
		onDrop:  config.onDrop,
	}

	for i := range b.workers {
		ch := make(chan *domain.Event, config.bufferSize)
		b.workers[i] = ch
		b.wg.Add(1)
		go b.dispatch(ch)
	}

	return b
}

// Publish enqueues events for asynchronous delivery. Events for one
// aggregate always land on the same worker. When that worker's queue is
// full the event is dropped and counted, never blocking the caller.
func (b *Bus) Publish(events []*domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, evt := range events {
		ch := b.workers[b.partition(evt.AggregateID)]
		b.pending.Add(1)
		select {
		case ch <- evt:
		default:
			b.pending.Done()
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
			b.logger.Error("event dropped: worker queue full",
				"event_id", evt.ID,
				"aggregate_id", evt.AggregateID,
				"event_type", evt.EventType)
		}
	}

	return nil
}

// Subscribe registers a handler for events matching the filter.
func (b *Bus) Subscribe(filter messaging.EventFilter, handler messaging.EventHandler) (messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	b.nextID++
	id := b.nextID
	b.subs[id] = &subscriber{filter: filter, handler: handler}

	return &subscription{bus: b, id: id}, nil
}

// Dropped returns the number of events dropped due to full worker queues.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Drain blocks until every event enqueued so far has been dispatched.
// Intended for tests and shutdown sequencing.
func (b *Bus) Drain() {
	b.pending.Wait()
}

// Close stops the workers after the queues drain. Events published after
// Close return an error.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	for _, ch := range b.workers {
		close(ch)
	}
	b.wg.Wait()
	return nil
}

func (b *Bus) partition(aggregateID string) int {
	h := fnv.New32a()
	h.Write([]byte(aggregateID))
	return int(h.Sum32() % uint32(len(b.workers)))
}

func (b *Bus) dispatch(ch <-chan *domain.Event) {
	defer b.wg.Done()

	for evt := range ch {
		envelope := &domain.EventEnvelope{Event: *evt}

		b.mu.RLock()
		subs := make([]*subscriber, 0, len(b.subs))
		for _, sub := range b.subs {
			subs = append(subs, sub)
		}
		b.mu.RUnlock()

		for _, sub := range subs {
			if !sub.filter.Matches(evt) {
				continue
			}
			if err := sub.handler(envelope); err != nil {
				// Subscribers own their failure handling; projections
				// recover missed events from the log on restart.
				b.logger.Error("event handler failed",
					"event_id", evt.ID,
					"event_type", evt.EventType,
					"error", err)
			}
		}

		b.pending.Done()
	}
}

// subscription implements messaging.Subscription.
type subscription struct {
	bus *Bus
	id  int64
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subs, s.id)
	return nil
}
