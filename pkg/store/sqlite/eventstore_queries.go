package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plaenen/orderstream/pkg/domain"
)

const eventColumns = "event_id, aggregate_id, aggregate_type, event_type, version, schema_version, timestamp, payload, metadata, global_position"

// LoadEvents loads events for an aggregate with version > afterVersion,
// ordered ascending by version.
func (s *EventStore) LoadEvents(aggregateID string, afterVersion int64) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+eventColumns+`
		FROM events
		WHERE aggregate_id = ? AND version > ?
		ORDER BY version ASC
	`, aggregateID, afterVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LoadAllEvents loads events across all aggregates in global append order,
// starting after fromPosition. Used by the projection rebuild path.
func (s *EventStore) LoadAllEvents(fromPosition int64, limit int) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+eventColumns+`
		FROM events
		WHERE global_position > ?
		ORDER BY global_position ASC
		LIMIT ?
	`, fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetAggregateVersion returns the current version of an aggregate.
// Returns 0 if the aggregate doesn't exist.
func (s *EventStore) GetAggregateVersion(aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int64
	err := s.db.QueryRow(
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?",
		aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get aggregate version: %w", err)
	}
	return version, nil
}

// GetCommandResult retrieves the outcome of a previously processed command.
func (s *EventStore) GetCommandResult(commandID string) (*domain.CommandResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCommandResultNoLock(commandID)
}

func (s *EventStore) getCommandResultNoLock(commandID string) (*domain.CommandResult, error) {
	var (
		aggregateID  string
		status       string
		rejection    string
		eventIDsJSON string
		processedAt  int64
	)
	err := s.db.QueryRow(`
		SELECT aggregate_id, status, rejection, event_ids, processed_at
		FROM processed_commands
		WHERE command_id = ? AND expires_at > ?
	`, commandID, domain.Now().Unix()).Scan(&aggregateID, &status, &rejection, &eventIDsJSON, &processedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCommandNotProcessed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query command: %w", err)
	}

	var eventIDs []string
	if err := json.Unmarshal([]byte(eventIDsJSON), &eventIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event IDs: %w", err)
	}

	events := make([]*domain.Event, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		evt, err := s.loadEventByID(eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load event %s: %w", eventID, err)
		}
		events = append(events, evt)
	}

	return &domain.CommandResult{
		CommandID:        commandID,
		AggregateID:      aggregateID,
		Status:           status,
		Rejection:        rejection,
		Events:           events,
		AlreadyProcessed: true,
		ProcessedAt:      time.Unix(processedAt, 0),
	}, nil
}

func (s *EventStore) loadEventByID(eventID string) (*domain.Event, error) {
	row := s.db.QueryRow(`
		SELECT `+eventColumns+`
		FROM events
		WHERE event_id = ?
	`, eventID)
	return scanEvent(row)
}

// CleanExpiredCommands removes expired idempotency records (maintenance operation).
func (s *EventStore) CleanExpiredCommands() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"DELETE FROM processed_commands WHERE expires_at <= ?",
		domain.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired commands: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		evt          domain.Event
		ts           int64
		metadataJSON string
	)
	err := row.Scan(
		&evt.ID,
		&evt.AggregateID,
		&evt.AggregateType,
		&evt.EventType,
		&evt.Version,
		&evt.SchemaVersion,
		&ts,
		&evt.Data,
		&metadataJSON,
		&evt.GlobalPosition,
	)
	if err != nil {
		return nil, err
	}
	evt.Timestamp = time.Unix(ts, 0)
	if err := json.Unmarshal([]byte(metadataJSON), &evt.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
	}
	return &evt, nil
}

func scanEvents(rows *sql.Rows) ([]*domain.Event, error) {
	var events []*domain.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	if events == nil {
		events = []*domain.Event{}
	}
	return events, nil
}
