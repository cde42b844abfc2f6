// Package eventlog provides an append-only journal of the daemon's
// broadcast events. The journal is observability surface, not source of
// truth: replaying it reconstructs what connected clients were told and
// when, which is the first thing needed when a client's cache diverges.
package eventlog

import (
	"encoding/json"
	"time"
)

// Entry is one journaled broadcast.
type Entry struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Log is the append-only journal. Implementations must be safe for
// concurrent use.
type Log interface {
	// Append journals one event and returns its sequence number.
	Append(eventType string, payload json.RawMessage) (int64, error)

	// Read returns up to limit entries with Seq > fromSeq, oldest first.
	Read(fromSeq int64, limit int) ([]*Entry, error)

	// LastSeq returns the newest sequence number, 0 when empty.
	LastSeq() (int64, error)

	Close() error
}
