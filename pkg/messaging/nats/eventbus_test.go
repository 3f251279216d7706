package nats_test

import (
	"testing"
	"time"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/messaging"
	natspkg "github.com/plaenen/orderstream/pkg/messaging/nats"
)

func TestEmbeddedEventBus(t *testing.T) {
	bus, srv, err := natspkg.NewEmbeddedEventBus()
	if err != nil {
		t.Fatalf("failed to create embedded event bus: %v", err)
	}
	defer srv.Shutdown()
	defer bus.Close()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan *domain.Event, 1)

		sub, err := bus.Subscribe(messaging.EventFilter{
			AggregateTypes: []string{"order"},
		}, func(envelope *domain.EventEnvelope) error {
			received <- &envelope.Event
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe: %v", err)
		}
		defer sub.Unsubscribe()

		// Give the subscription time to be ready
		time.Sleep(100 * time.Millisecond)

		event := &domain.Event{
			ID:             "evt-nats-1",
			AggregateID:    "agg-1",
			AggregateType:  "order",
			EventType:      "orders.created",
			Version:        1,
			SchemaVersion:  1,
			Timestamp:      time.Now(),
			Data:           []byte(`{"order_id":"agg-1"}`),
			Metadata:       domain.EventMetadata{PrincipalID: "tester"},
			GlobalPosition: 7,
		}

		if err := bus.Publish([]*domain.Event{event}); err != nil {
			t.Fatalf("failed to publish event: %v", err)
		}

		select {
		case evt := <-received:
			if evt.ID != "evt-nats-1" {
				t.Errorf("expected event ID 'evt-nats-1', got %q", evt.ID)
			}
			if evt.GlobalPosition != 7 {
				t.Errorf("global position lost on the wire: %d", evt.GlobalPosition)
			}
			if evt.Metadata.PrincipalID != "tester" {
				t.Errorf("metadata lost on the wire: %+v", evt.Metadata)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("DuplicatePublishDeduplicated", func(t *testing.T) {
		received := make(chan string, 4)

		sub, err := bus.Subscribe(messaging.EventFilter{
			EventTypes: []string{"orders.shipped"},
		}, func(envelope *domain.EventEnvelope) error {
			received <- envelope.Event.ID
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe: %v", err)
		}
		defer sub.Unsubscribe()

		time.Sleep(100 * time.Millisecond)

		event := &domain.Event{
			ID:            "evt-nats-dup",
			AggregateID:   "agg-2",
			AggregateType: "order",
			EventType:     "orders.shipped",
			Version:       1,
			SchemaVersion: 1,
			Timestamp:     time.Now(),
			Data:          []byte(`{}`),
		}

		// The event ID doubles as the JetStream message ID, so the second
		// publish is dropped server-side.
		if err := bus.Publish([]*domain.Event{event}); err != nil {
			t.Fatalf("first publish failed: %v", err)
		}
		if err := bus.Publish([]*domain.Event{event}); err != nil {
			t.Fatalf("second publish failed: %v", err)
		}

		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event")
		}

		select {
		case id := <-received:
			t.Errorf("duplicate delivery of %s", id)
		case <-time.After(500 * time.Millisecond):
		}
	})
}
