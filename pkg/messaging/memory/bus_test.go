package memory_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/messaging"
	"github.com/plaenen/orderstream/pkg/messaging/memory"
)

func busEvent(aggregateID string, version int64) *domain.Event {
	return &domain.Event{
		ID:            fmt.Sprintf("%s-%d", aggregateID, version),
		AggregateID:   aggregateID,
		AggregateType: "order",
		EventType:     "orders.created",
		Version:       version,
	}
}

func TestBusPerAggregateOrdering(t *testing.T) {
	bus := memory.NewBus(memory.WithWorkers(4))
	defer bus.Close()

	var mu sync.Mutex
	received := make(map[string][]int64)

	_, err := bus.Subscribe(messaging.EventFilter{}, func(envelope *domain.EventEnvelope) error {
		mu.Lock()
		defer mu.Unlock()
		id := envelope.Event.AggregateID
		received[id] = append(received[id], envelope.Event.Version)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	aggregates := []string{"order-a", "order-b", "order-c"}
	const perAggregate = 50

	for version := int64(1); version <= perAggregate; version++ {
		for _, id := range aggregates {
			if err := bus.Publish([]*domain.Event{busEvent(id, version)}); err != nil {
				t.Fatalf("publish failed: %v", err)
			}
		}
	}

	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	for _, id := range aggregates {
		versions := received[id]
		if len(versions) != perAggregate {
			t.Fatalf("aggregate %s: expected %d events, got %d", id, perAggregate, len(versions))
		}
		for i, v := range versions {
			if v != int64(i+1) {
				t.Fatalf("aggregate %s: events out of order at index %d: %v", id, i, versions)
			}
		}
	}
}

func TestBusFilter(t *testing.T) {
	bus := memory.NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var matched, all int

	_, err := bus.Subscribe(messaging.EventFilter{EventTypes: []string{"orders.shipped"}},
		func(envelope *domain.EventEnvelope) error {
			mu.Lock()
			matched++
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	_, err = bus.Subscribe(messaging.EventFilter{}, func(envelope *domain.EventEnvelope) error {
		mu.Lock()
		all++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	events := []*domain.Event{
		{ID: "1", AggregateID: "a", AggregateType: "order", EventType: "orders.created", Version: 1},
		{ID: "2", AggregateID: "a", AggregateType: "order", EventType: "orders.shipped", Version: 2},
	}
	if err := bus.Publish(events); err != nil {
		t.Fatal(err)
	}

	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	if matched != 1 {
		t.Errorf("filtered subscriber: expected 1 event, got %d", matched)
	}
	if all != 2 {
		t.Errorf("unfiltered subscriber: expected 2 events, got %d", all)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := memory.NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var count int

	sub, err := bus.Subscribe(messaging.EventFilter{}, func(envelope *domain.EventEnvelope) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish([]*domain.Event{busEvent("a", 1)}); err != nil {
		t.Fatal(err)
	}
	bus.Drain()

	if err := sub.Unsubscribe(); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish([]*domain.Event{busEvent("a", 2)}); err != nil {
		t.Fatal(err)
	}
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	bus := memory.NewBus(memory.WithWorkers(1), memory.WithBufferSize(1))
	defer bus.Close()

	var mu sync.Mutex
	var handled int

	started := make(chan struct{}, 1)
	_, err := bus.Subscribe(messaging.EventFilter{}, func(envelope *domain.EventEnvelope) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// First event occupies the worker, second fills the buffer.
	if err := bus.Publish([]*domain.Event{busEvent("a", 1)}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := bus.Publish([]*domain.Event{busEvent("a", 2)}); err != nil {
		t.Fatal(err)
	}

	// Third cannot be queued and is dropped instead of blocking.
	if err := bus.Publish([]*domain.Event{busEvent("a", 3)}); err != nil {
		t.Fatal(err)
	}
	if got := bus.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped event, got %d", got)
	}

	close(release)
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	if handled != 2 {
		t.Errorf("expected 2 handled events, got %d", handled)
	}
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := memory.NewBus()
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish([]*domain.Event{busEvent("a", 1)}); err == nil {
		t.Error("expected error publishing to closed bus")
	}
}
