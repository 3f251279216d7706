package store

import (
	"database/sql"
	"time"
)

// ProjectionCheckpoint tracks how far a projection has processed the
// store-wide event log.
type ProjectionCheckpoint struct {
	ProjectionName string
	Position       int64 // GlobalPosition of the last applied event
	LastEventID    string
	UpdatedAt      time.Time
}

// CheckpointStore persists projection checkpoints.
type CheckpointStore interface {
	// Load returns the checkpoint for a projection, or sql.ErrNoRows
	// when the projection has never checkpointed.
	Load(projectionName string) (*ProjectionCheckpoint, error)

	// Save upserts a checkpoint in its own transaction.
	Save(checkpoint *ProjectionCheckpoint) error

	// SaveInTx upserts a checkpoint inside an existing transaction so the
	// checkpoint and the projection rows it covers commit atomically.
	SaveInTx(tx *sql.Tx, checkpoint *ProjectionCheckpoint) error

	// Delete removes a projection's checkpoint.
	Delete(projectionName string) error
}
