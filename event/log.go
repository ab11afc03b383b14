// Package event records the append-only audit trail of workflow runs:
// lifecycle transitions, step completions, and hook activity. The trail
// feeds the debug timeline, live watch streams, and extensions.
package event

import (
	"context"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Log provides high-level append/list operations over an event Store.
type Log struct {
	store Store
}

// NewLog creates an event log backed by the given store.
func NewLog(store Store) *Log {
	return &Log{store: store}
}

// Append stamps and persists evt. Missing IDs and timestamps are filled in.
func (l *Log) Append(ctx context.Context, evt *Event) error {
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	return l.store.AppendEvent(ctx, evt)
}

// List returns a run's events, oldest first.
func (l *Log) List(ctx context.Context, runID id.RunID) ([]*Event, error) {
	return l.store.ListEvents(ctx, runID)
}

// Store returns the underlying event store.
func (l *Log) Store() Store { return l.store }
