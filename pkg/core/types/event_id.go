package types

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a time-sortable identifier for call events and transcript lines.
func NewEventID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// NewCallEvent builds a CallEvent stamped with at.
func NewCallEvent(typ string, at time.Time, data map[string]any) CallEvent {
	return CallEvent{
		ID:   NewEventID(at),
		Type: typ,
		At:   at.UTC(),
		Data: data,
	}
}
