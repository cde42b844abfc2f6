package eventlog

import (
	"encoding/json"
	"sync"
	"time"
)

// Memory is an in-memory Log, bounded to the newest maxEntries. Used in
// tests and as a fallback when the journal file cannot be opened.
type Memory struct {
	mu         sync.Mutex
	entries    []*Entry
	nextSeq    int64
	maxEntries int
}

// NewMemory creates a bounded in-memory journal.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Memory{nextSeq: 1, maxEntries: maxEntries}
}

func (m *Memory) Append(eventType string, payload json.RawMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &Entry{
		Seq:       m.nextSeq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	m.nextSeq++
	m.entries = append(m.entries, entry)
	if len(m.entries) > m.maxEntries {
		m.entries = m.entries[len(m.entries)-m.maxEntries:]
	}
	return entry.Seq, nil
}

func (m *Memory) Read(fromSeq int64, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Entry
	for _, e := range m.entries {
		if e.Seq <= fromSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) LastSeq() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSeq - 1, nil
}

func (m *Memory) Close() error { return nil }
