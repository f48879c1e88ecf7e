// Package ids generates the identifiers carried on the wire: ULID message ids
// for broker messages and UUID trace ids for task events.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a time-sortable ULID for a broker message.
func NewMessageID() string {
	return newMessageIDAt(time.Now())
}

func newMessageIDAt(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(ts), entropy).String()
}

// NewTraceID returns a random UUID used to correlate one task event across
// services.
func NewTraceID() string {
	return uuid.NewString()
}

// ValidTraceID reports whether s parses as a UUID.
func ValidTraceID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
