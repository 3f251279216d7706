package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// TimeFunc is a function that returns the current time.
// This can be overridden for testing.
var TimeFunc = time.Now

// Now returns the current time using the configured TimeFunc.
func Now() time.Time {
	return TimeFunc()
}

// NewEventID generates a sortable unique event ID.
func NewEventID() string {
	ms := ulid.Timestamp(Now())
	id, err := ulid.New(ms, rand.Reader)
	if err != nil {
		panic(err) // rand.Reader does not fail
	}
	return id.String()
}

// DeterministicEventID derives an event ID from its command context. The
// same command always produces the same event IDs, which keeps retried
// appends idempotent.
func DeterministicEventID(commandID, aggregateID string, sequence int) string {
	h := sha256.New()
	h.Write([]byte(fmt.Sprintf("%s:%s:%d", commandID, aggregateID, sequence)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
