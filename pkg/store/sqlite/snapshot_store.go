package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/plaenen/orderstream/pkg/domain"
	"github.com/plaenen/orderstream/pkg/store"
)

// SnapshotStore implements store.SnapshotStore using SQLite.
// One current snapshot is kept per aggregate; saving overwrites it.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a new SQLite-backed snapshot store.
// Pass eventStore.DB() to share the event store's database.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveSnapshot upserts the current snapshot for an aggregate.
func (s *SnapshotStore) SaveSnapshot(snapshot *store.Snapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			aggregate_type = excluded.aggregate_type,
			version = excluded.version,
			state = excluded.state,
			created_at = excluded.created_at
	`,
		snapshot.AggregateID,
		snapshot.AggregateType,
		snapshot.Version,
		snapshot.State,
		snapshot.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshot retrieves the current snapshot for an aggregate.
func (s *SnapshotStore) GetLatestSnapshot(aggregateID string) (*store.Snapshot, error) {
	var (
		snap      store.Snapshot
		createdAt int64
	)
	err := s.db.QueryRow(`
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = ?
	`, aggregateID).Scan(&snap.AggregateID, &snap.AggregateType, &snap.Version, &snap.State, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	snap.CreatedAt = time.Unix(createdAt, 0)
	return &snap, nil
}
