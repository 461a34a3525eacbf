package audit

import (
	"context"
	"sync"
)

// Filter selects entries from a Memory sink.
type Filter struct {
	CardID        string
	ComputationID string
	Event         string
	Limit         int
}

// Memory is a concurrency-safe, append-only in-memory sink. When capacity is
// positive the oldest entries are evicted once it is exceeded.
type Memory struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// NewMemory creates an in-memory sink. capacity <= 0 means unbounded.
func NewMemory(capacity int) *Memory {
	return &Memory{capacity: capacity}
}

// Append adds entries atomically.
func (m *Memory) Append(_ context.Context, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entries...)
	if m.capacity > 0 && len(m.entries) > m.capacity {
		drop := len(m.entries) - m.capacity
		m.entries = append([]Entry(nil), m.entries[drop:]...)
	}
	return nil
}

// List returns matching entries in append order. Limit keeps the most recent ones.
func (m *Memory) List(f Filter) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range m.entries {
		if f.CardID != "" && e.CardID != f.CardID {
			continue
		}
		if f.ComputationID != "" && e.ComputationID != f.ComputationID {
			continue
		}
		if f.Event != "" && e.Event != f.Event {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Len returns the number of retained entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
