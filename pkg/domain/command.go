package domain

import "time"

// Command represents an intention to change the system state.
type Command interface {
	// CommandID returns the caller-supplied idempotency key for this command.
	CommandID() string

	// AggregateID returns the ID of the aggregate this command targets.
	AggregateID() string

	// CommandType returns the type name of the command.
	CommandType() string

	// Validate checks the command's fields. It returns an error wrapping
	// ErrInvalidCommand when the command is malformed.
	Validate() error
}

// Command outcome statuses recorded in the idempotency store.
const (
	// CommandStatusApplied means the command appended events.
	CommandStatusApplied = "APPLIED"

	// CommandStatusRejected means the command was rejected by a business rule.
	// Only recorded when failed-outcome caching is enabled.
	CommandStatusRejected = "REJECTED"
)

// CommandResult represents the recorded outcome of processing a command.
type CommandResult struct {
	// CommandID is the ID of the command that was processed
	CommandID string

	// AggregateID is the aggregate the command targeted
	AggregateID string

	// Status is CommandStatusApplied or CommandStatusRejected
	Status string

	// Rejection holds the violated rule when Status is CommandStatusRejected
	Rejection string

	// Events are the events produced by the command
	Events []*Event

	// AlreadyProcessed indicates this result was served from the
	// idempotency record rather than a fresh append
	AlreadyProcessed bool

	// ProcessedAt is when the command was originally processed
	ProcessedAt time.Time
}

// DefaultCommandTTL is the default time to remember processed commands.
const DefaultCommandTTL = 7 * 24 * time.Hour
