package sqlite_test

import (
	"errors"
	"testing"
	"time"

	"github.com/plaenen/orderstream/pkg/domain"
	storelib "github.com/plaenen/orderstream/pkg/store"
	"github.com/plaenen/orderstream/pkg/store/sqlite"
)

func TestSnapshotStore(t *testing.T) {
	eventStore := newTestStore(t)
	snapshots := sqlite.NewSnapshotStore(eventStore.DB())

	t.Run("NotFound", func(t *testing.T) {
		_, err := snapshots.GetLatestSnapshot("missing")
		if !errors.Is(err, domain.ErrSnapshotNotFound) {
			t.Errorf("expected ErrSnapshotNotFound, got %v", err)
		}
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		snap := &storelib.Snapshot{
			AggregateID:   "agg-1",
			AggregateType: "order",
			Version:       100,
			State:         []byte(`{"status":"CREATED"}`),
			CreatedAt:     time.Now(),
		}
		if err := snapshots.SaveSnapshot(snap); err != nil {
			t.Fatalf("failed to save snapshot: %v", err)
		}

		loaded, err := snapshots.GetLatestSnapshot("agg-1")
		if err != nil {
			t.Fatalf("failed to get snapshot: %v", err)
		}
		if loaded.Version != 100 {
			t.Errorf("expected version 100, got %d", loaded.Version)
		}
		if string(loaded.State) != `{"status":"CREATED"}` {
			t.Errorf("unexpected state %s", loaded.State)
		}
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		newer := &storelib.Snapshot{
			AggregateID:   "agg-1",
			AggregateType: "order",
			Version:       200,
			State:         []byte(`{"status":"SHIPPED"}`),
			CreatedAt:     time.Now(),
		}
		if err := snapshots.SaveSnapshot(newer); err != nil {
			t.Fatalf("failed to overwrite snapshot: %v", err)
		}

		loaded, err := snapshots.GetLatestSnapshot("agg-1")
		if err != nil {
			t.Fatalf("failed to get snapshot: %v", err)
		}
		if loaded.Version != 200 {
			t.Errorf("expected version 200 after overwrite, got %d", loaded.Version)
		}
		if string(loaded.State) != `{"status":"SHIPPED"}` {
			t.Errorf("state not replaced: %s", loaded.State)
		}
	})
}
