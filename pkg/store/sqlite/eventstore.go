package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/plaenen/orderstream/pkg/domain"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// errDuplicateEvents signals that an insert hit the event_id unique index:
// the command's deterministic event IDs are already in the log, so the
// command was applied before even though its idempotency record expired.
var errDuplicateEvents = errors.New("events already appended")

// EventStore is a SQLite-based implementation of store.EventStore.
// It provides ACID guarantees for event persistence with no CGo dependencies.
type EventStore struct {
	db *sql.DB
	mu sync.RWMutex // Serializes writers; SQLite allows one at a time
}

// eventStoreConfig holds internal configuration for the SQLite event store.
type eventStoreConfig struct {
	// dsn is the data source name (file path or ":memory:" for in-memory)
	dsn string

	// maxOpenConns sets the maximum number of open connections
	maxOpenConns int

	// maxIdleConns sets the maximum number of idle connections
	maxIdleConns int

	// walMode enables write-ahead logging for better concurrency
	walMode bool

	// autoMigrate automatically runs pending migrations on startup
	autoMigrate bool
}

func defaultEventStoreConfig() eventStoreConfig {
	return eventStoreConfig{
		dsn:          "orderstream.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
	}
}

// EventStoreOption is a function that configures an EventStore.
type EventStoreOption func(*eventStoreConfig)

// WithDSN sets the data source name (file path or ":memory:" for in-memory).
func WithDSN(dsn string) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = dsn
	}
}

// WithMemoryDatabase sets the database to an in-memory database.
func WithMemoryDatabase() EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = ":memory:"
	}
}

// WithMaxOpenConns sets the maximum number of open connections to the database.
func WithMaxOpenConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxOpenConns = n
	}
}

// WithMaxIdleConns sets the maximum number of idle connections in the pool.
func WithMaxIdleConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxIdleConns = n
	}
}

// WithWALMode enables write-ahead logging for better concurrency.
// Recommended for file-backed databases; has no effect on :memory:.
func WithWALMode(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.walMode = enabled
	}
}

// WithAutoMigrate enables automatic migration on startup.
func WithAutoMigrate(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.autoMigrate = enabled
	}
}

// NewEventStore creates a new SQLite event store with the given options.
//
// Example usage:
//
//	// Use defaults (orderstream.db, WAL mode, auto-migrate)
//	store, err := sqlite.NewEventStore()
//
//	// In-memory database for testing
//	store, err := sqlite.NewEventStore(sqlite.WithMemoryDatabase())
func NewEventStore(opts ...EventStoreOption) (*EventStore, error) {
	config := defaultEventStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A :memory: database must use a single connection, otherwise each
	// connection gets its own isolated in-memory database.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	s := &EventStore{db: db}

	if config.walMode && config.dsn != ":memory:" {
		if err := s.setWALMode(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return s, nil
}

func (s *EventStore) setWALMode() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA foreign_keys = ON;
	`)
	return err
}

// AppendEvents appends events to an aggregate's stream atomically.
func (s *EventStore) AppendEvents(aggregateID string, expectedVersion int64, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendTx(tx, aggregateID, expectedVersion, events); err != nil {
		if errors.Is(err, errDuplicateEvents) {
			return domain.ErrConcurrencyConflict
		}
		return err
	}

	return tx.Commit()
}

// AppendEventsIdempotent appends events with command-level idempotency.
func (s *EventStore) AppendEventsIdempotent(
	aggregateID string,
	expectedVersion int64,
	events []*domain.Event,
	commandID string,
	ttl time.Duration,
) (*domain.CommandResult, error) {
	if commandID == "" {
		return nil, fmt.Errorf("%w: missing command ID", domain.ErrInvalidCommand)
	}
	if len(events) == 0 {
		return &domain.CommandResult{
			CommandID:   commandID,
			AggregateID: aggregateID,
			Status:      domain.CommandStatusApplied,
		}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Fast path: command already recorded.
	result, err := s.getCommandResultNoLock(commandID)
	if err == nil {
		return result, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendTx(tx, aggregateID, expectedVersion, events); err != nil {
		if errors.Is(err, errDuplicateEvents) {
			tx.Rollback()
			return s.restoreExpiredOutcome(commandID, aggregateID, events, ttl)
		}
		return nil, err
	}

	eventIDs := make([]string, len(events))
	for i, evt := range events {
		eventIDs[i] = evt.ID
	}
	eventIDsJSON, _ := json.Marshal(eventIDs)

	now := domain.Now()
	_, err = tx.Exec(`
		INSERT INTO processed_commands (command_id, aggregate_id, status, rejection, event_ids, processed_at, expires_at)
		VALUES (?, ?, ?, '', ?, ?, ?)
	`, commandID, aggregateID, domain.CommandStatusApplied, string(eventIDsJSON), now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to record command: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &domain.CommandResult{
		CommandID:   commandID,
		AggregateID: aggregateID,
		Status:      domain.CommandStatusApplied,
		Events:      events,
		ProcessedAt: now,
	}, nil
}

// restoreExpiredOutcome rebuilds a command's outcome from the events
// already in the log. Reached when the idempotency record expired but the
// command's deterministic event IDs are still present; the record is
// refreshed so later retries take the fast path again. Caller holds s.mu.
func (s *EventStore) restoreExpiredOutcome(commandID, aggregateID string, attempted []*domain.Event, ttl time.Duration) (*domain.CommandResult, error) {
	stored := make([]*domain.Event, 0, len(attempted))
	eventIDs := make([]string, 0, len(attempted))
	for _, evt := range attempted {
		found, err := s.loadEventByID(evt.ID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load stored event %s: %w", evt.ID, err)
		}
		stored = append(stored, found)
		eventIDs = append(eventIDs, found.ID)
	}
	eventIDsJSON, _ := json.Marshal(eventIDs)

	now := domain.Now()
	_, err := s.db.Exec(`
		INSERT INTO processed_commands (command_id, aggregate_id, status, rejection, event_ids, processed_at, expires_at)
		VALUES (?, ?, ?, '', ?, ?, ?)
		ON CONFLICT (command_id) DO UPDATE SET expires_at = excluded.expires_at
	`, commandID, aggregateID, domain.CommandStatusApplied, string(eventIDsJSON), now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to refresh command record: %w", err)
	}

	return &domain.CommandResult{
		CommandID:        commandID,
		AggregateID:      aggregateID,
		Status:           domain.CommandStatusApplied,
		Events:           stored,
		AlreadyProcessed: true,
		ProcessedAt:      now,
	}, nil
}

// RecordRejectedCommand records a business rule rejection so a retried
// command with the same ID short-circuits without re-deciding.
func (s *EventStore) RecordRejectedCommand(commandID, aggregateID, rule string, ttl time.Duration) error {
	if commandID == "" {
		return fmt.Errorf("%w: missing command ID", domain.ErrInvalidCommand)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := domain.Now()
	_, err := s.db.Exec(`
		INSERT INTO processed_commands (command_id, aggregate_id, status, rejection, event_ids, processed_at, expires_at)
		VALUES (?, ?, ?, ?, '[]', ?, ?)
		ON CONFLICT (command_id) DO NOTHING
	`, commandID, aggregateID, domain.CommandStatusRejected, rule, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to record rejected command: %w", err)
	}
	return nil
}

// appendTx inserts events inside tx after verifying the expected version.
// All-or-nothing: any failure rolls the whole batch back with the tx.
func appendTx(tx *sql.Tx, aggregateID string, expectedVersion int64, events []*domain.Event) error {
	var currentVersion int64
	err := tx.QueryRow(
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?",
		aggregateID,
	).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to check current version: %w", err)
	}

	if currentVersion != expectedVersion {
		return domain.ErrConcurrencyConflict
	}

	for i, evt := range events {
		metadataJSON, _ := json.Marshal(evt.Metadata)

		res, err := tx.Exec(`
			INSERT INTO events (event_id, aggregate_id, aggregate_type, event_type, version, schema_version, timestamp, payload, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			evt.ID,
			evt.AggregateID,
			evt.AggregateType,
			evt.EventType,
			expectedVersion+int64(i)+1,
			evt.SchemaVersion,
			evt.Timestamp.Unix(),
			evt.Data,
			string(metadataJSON),
		)
		if err != nil {
			if isUniqueViolation(err) {
				// A collision on event_id means these deterministic IDs
				// were appended before; anything else is the UNIQUE
				// (aggregate_id, version) constraint catching a concurrent
				// writer that slipped past the version precheck.
				if strings.Contains(err.Error(), "events.event_id") {
					return errDuplicateEvents
				}
				return domain.ErrConcurrencyConflict
			}
			return fmt.Errorf("failed to insert event: %w", err)
		}

		position, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read event position: %w", err)
		}
		evt.Version = expectedVersion + int64(i) + 1
		evt.GlobalPosition = position
	}

	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// DB returns the underlying database connection for direct SQL queries
// (e.g., projections and checkpoint stores sharing the database).
func (s *EventStore) DB() *sql.DB {
	return s.db
}

// Close closes the event store and releases resources.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}
