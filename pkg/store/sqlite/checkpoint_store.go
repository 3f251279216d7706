package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/plaenen/orderstream/pkg/store"
)

// CheckpointStore is a SQLite-based implementation of store.CheckpointStore.
//
// For atomic projection updates, use SaveInTx with a transaction that also
// writes the projection rows; Save alone is subject to dual-write drift.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore creates a new checkpoint store on the given database.
// The projection_checkpoints table is created by the event store migrations;
// pass eventStore.DB() to share the database.
func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// DB returns the underlying database connection for creating transactions.
func (s *CheckpointStore) DB() *sql.DB {
	return s.db
}

// Load returns the checkpoint for a projection, or sql.ErrNoRows when the
// projection has never checkpointed.
func (s *CheckpointStore) Load(projectionName string) (*store.ProjectionCheckpoint, error) {
	var (
		cp        store.ProjectionCheckpoint
		updatedAt int64
	)
	err := s.db.QueryRow(`
		SELECT projection_name, position, last_event_id, updated_at
		FROM projection_checkpoints
		WHERE projection_name = ?
	`, projectionName).Scan(&cp.ProjectionName, &cp.Position, &cp.LastEventID, &updatedAt)
	if err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Unix(updatedAt, 0)
	return &cp, nil
}

// Save upserts a checkpoint in its own transaction.
func (s *CheckpointStore) Save(checkpoint *store.ProjectionCheckpoint) error {
	_, err := s.db.Exec(upsertCheckpointSQL,
		checkpoint.ProjectionName,
		checkpoint.Position,
		checkpoint.LastEventID,
		checkpoint.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// SaveInTx upserts a checkpoint inside an existing transaction so the
// checkpoint and projection rows commit atomically.
func (s *CheckpointStore) SaveInTx(tx *sql.Tx, checkpoint *store.ProjectionCheckpoint) error {
	_, err := tx.Exec(upsertCheckpointSQL,
		checkpoint.ProjectionName,
		checkpoint.Position,
		checkpoint.LastEventID,
		checkpoint.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint in tx: %w", err)
	}
	return nil
}

// Delete removes a projection's checkpoint.
func (s *CheckpointStore) Delete(projectionName string) error {
	_, err := s.db.Exec(
		"DELETE FROM projection_checkpoints WHERE projection_name = ?",
		projectionName,
	)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

const upsertCheckpointSQL = `
	INSERT INTO projection_checkpoints (projection_name, position, last_event_id, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (projection_name) DO UPDATE SET
		position = excluded.position,
		last_event_id = excluded.last_event_id,
		updated_at = excluded.updated_at
`
