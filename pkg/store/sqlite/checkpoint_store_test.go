package sqlite_test

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	storelib "github.com/plaenen/orderstream/pkg/store"
	"github.com/plaenen/orderstream/pkg/store/sqlite"
)

func TestCheckpointStore(t *testing.T) {
	eventStore := newTestStore(t)
	checkpoints := sqlite.NewCheckpointStore(eventStore.DB())

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := checkpoints.Load("missing")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("expected sql.ErrNoRows, got %v", err)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		cp := &storelib.ProjectionCheckpoint{
			ProjectionName: "order_view",
			Position:       42,
			LastEventID:    "evt-42",
			UpdatedAt:      time.Now(),
		}
		if err := checkpoints.Save(cp); err != nil {
			t.Fatalf("failed to save checkpoint: %v", err)
		}

		loaded, err := checkpoints.Load("order_view")
		if err != nil {
			t.Fatalf("failed to load checkpoint: %v", err)
		}
		if loaded.Position != 42 || loaded.LastEventID != "evt-42" {
			t.Errorf("unexpected checkpoint %+v", loaded)
		}

		// Save is an upsert.
		cp.Position = 43
		if err := checkpoints.Save(cp); err != nil {
			t.Fatalf("failed to update checkpoint: %v", err)
		}
		loaded, err = checkpoints.Load("order_view")
		if err != nil {
			t.Fatal(err)
		}
		if loaded.Position != 43 {
			t.Errorf("expected position 43, got %d", loaded.Position)
		}
	})

	t.Run("SaveInTx", func(t *testing.T) {
		// A rolled-back transaction leaves the checkpoint untouched.
		tx, err := checkpoints.DB().Begin()
		if err != nil {
			t.Fatal(err)
		}
		err = checkpoints.SaveInTx(tx, &storelib.ProjectionCheckpoint{
			ProjectionName: "order_view",
			Position:       99,
			UpdatedAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveInTx failed: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatal(err)
		}

		loaded, err := checkpoints.Load("order_view")
		if err != nil {
			t.Fatal(err)
		}
		if loaded.Position != 43 {
			t.Errorf("rollback leaked: position %d", loaded.Position)
		}

		// A committed transaction does.
		tx, err = checkpoints.DB().Begin()
		if err != nil {
			t.Fatal(err)
		}
		err = checkpoints.SaveInTx(tx, &storelib.ProjectionCheckpoint{
			ProjectionName: "order_view",
			Position:       99,
			LastEventID:    "evt-99",
			UpdatedAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveInTx failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}

		loaded, err = checkpoints.Load("order_view")
		if err != nil {
			t.Fatal(err)
		}
		if loaded.Position != 99 {
			t.Errorf("expected position 99, got %d", loaded.Position)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := checkpoints.Delete("order_view"); err != nil {
			t.Fatalf("failed to delete checkpoint: %v", err)
		}
		if _, err := checkpoints.Load("order_view"); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("expected sql.ErrNoRows after delete, got %v", err)
		}

		// Deleting a missing checkpoint is fine.
		if err := checkpoints.Delete("order_view"); err != nil {
			t.Errorf("delete of missing checkpoint failed: %v", err)
		}
	})
}
