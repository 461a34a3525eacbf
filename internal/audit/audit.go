// Package audit records what each invoice computation saw and decided.
// Entries are append-only; a computation's entries are buffered in a Trail
// and handed to the Sink in one call so they stay contiguous and ordered.
package audit

import (
	"context"
	"sync"
)

// Levels.
const (
	LevelInfo = "info"
	LevelWarn = "warn"
)

// Events.
const (
	EventBuildStarted       = "build_started"
	EventBuildFinished      = "build_finished"
	EventBuildFailed        = "build_failed"
	EventExcluded           = "transaction_excluded"
	EventInvalidAmount      = "invalid_amount"
	EventInvalidOverride    = "invalid_override"
	EventAmbiguous          = "classification_ambiguous"
	EventManualOverride     = "manual_override"
	EventSnapshotFallback   = "snapshot_fallback"
	EventInvalidRecurring   = "invalid_recurring"
	EventLateChargesApplied = "late_charges_applied"
	EventInstallmentPlaced  = "installment_placed"
	EventSyntheticID        = "synthetic_id"
)

// Entry is one immutable audit record.
type Entry struct {
	ComputationID string            `json:"computationId"`
	Seq           int               `json:"seq"`
	CardID        string            `json:"cardId,omitempty"`
	Event         string            `json:"event"`
	Level         string            `json:"level"`
	TransactionID string            `json:"transactionId,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// Sink receives audit entries.
type Sink interface {
	Append(ctx context.Context, entries ...Entry) error
}

// Discard drops every entry.
var Discard Sink = discard{}

type discard struct{}

func (discard) Append(context.Context, ...Entry) error { return nil }

// Multi fans entries out to every sink, returning the first error.
func Multi(sinks ...Sink) Sink { return multi(sinks) }

type multi []Sink

func (m multi) Append(ctx context.Context, entries ...Entry) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, entries...); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Trail buffers the entries of one computation in call order.
type Trail struct {
	mu            sync.Mutex
	computationID string
	cardID        string
	entries       []Entry
}

// NewTrail starts a trail for one computation.
func NewTrail(computationID, cardID string) *Trail {
	return &Trail{computationID: computationID, cardID: cardID}
}

// ComputationID returns the id shared by every entry of the trail.
func (t *Trail) ComputationID() string { return t.computationID }

// Info records an informational entry.
func (t *Trail) Info(event, transactionID, reason string, fields map[string]string) {
	t.add(LevelInfo, event, transactionID, reason, fields)
}

// Warn records a warning entry.
func (t *Trail) Warn(event, transactionID, reason string, fields map[string]string) {
	t.add(LevelWarn, event, transactionID, reason, fields)
}

func (t *Trail) add(level, event, transactionID, reason string, fields map[string]string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, Entry{
		ComputationID: t.computationID,
		Seq:           len(t.entries) + 1,
		CardID:        t.cardID,
		Event:         event,
		Level:         level,
		TransactionID: transactionID,
		Reason:        reason,
		Fields:        fields,
	})
}

// Entries returns a copy of the buffered entries.
func (t *Trail) Entries() []Entry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Flush hands the buffered entries to sink in a single Append.
func (t *Trail) Flush(ctx context.Context, sink Sink) error {
	if sink == nil {
		return nil
	}
	entries := t.Entries()
	if len(entries) == 0 {
		return nil
	}
	return sink.Append(ctx, entries...)
}
