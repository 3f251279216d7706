package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAggregateNotFound is returned when an aggregate doesn't exist.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrConcurrencyConflict is returned when there's an optimistic concurrency conflict.
	ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate version mismatch")

	// ErrInvalidCommand is returned when a command fails field validation.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrCommandNotProcessed is returned when no outcome is recorded for a command ID.
	ErrCommandNotProcessed = errors.New("command not processed")

	// ErrSnapshotNotFound is returned when a snapshot cannot be found.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrBusinessRule is the sentinel all business rule violations match via errors.Is.
	ErrBusinessRule = errors.New("business rule violation")
)

// BusinessRuleError is a permanent rejection of a command against the
// aggregate's current state. It is never retried.
type BusinessRuleError struct {
	// Rule is a human-readable description of the violated rule.
	Rule string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violation: %s", e.Rule)
}

func (e *BusinessRuleError) Is(target error) bool {
	return target == ErrBusinessRule
}

// NewBusinessRuleError creates a new business rule violation.
func NewBusinessRuleError(format string, args ...any) error {
	return &BusinessRuleError{Rule: fmt.Sprintf(format, args...)}
}
