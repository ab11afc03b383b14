package event

import (
	"context"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Store defines the persistence contract for run events.
type Store interface {
	// AppendEvent persists a new event at the tail of its run's trail.
	AppendEvent(ctx context.Context, evt *Event) error

	// ListEvents returns a run's events, oldest first.
	ListEvents(ctx context.Context, runID id.RunID) ([]*Event, error)

	// DeleteEventsBefore removes events older than the cutoff, returning
	// how many were removed. Retention sweeps call it.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
