package workflow

import (
	"context"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ListOpts filters and paginates run list queries.
type ListOpts struct {
	// Status filters by run status. Empty means all statuses.
	Status Status
	// Name filters by workflow name. Empty means all workflows.
	Name string
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
}

// Store defines the persistence contract for runs and checkpoints.
//
// The claim methods (DequeueRuns, ExtendLease, ReapStaleRuns) enforce
// the single-writer rule: at most one worker holds a live lease on a
// run, so per-run execution never races across processes.
type Store interface {
	// CreateRun persists a new run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID. Returns ErrRunNotFound if absent.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns runs matching the given options, newest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// ListChildRuns returns the child runs of a parent run.
	ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*Run, error)

	// DequeueRuns atomically claims up to limit runnable runs for the
	// given worker, setting WorkerID and LeaseUntil on each. A run is
	// runnable when it has no live claim and is either pending, or
	// suspended with WakeAt at or before now. Runs are claimed oldest
	// first.
	DequeueRuns(ctx context.Context, workerID id.WorkerID, limit int, now, leaseUntil time.Time) ([]*Run, error)

	// ExtendLease moves the claim lease forward for a run the worker
	// still owns. Returns ErrRunNotFound if the run is gone or the
	// claim belongs to another worker.
	ExtendLease(ctx context.Context, runID id.RunID, workerID id.WorkerID, leaseUntil time.Time) error

	// ReapStaleRuns clears expired claims: runs whose LeaseUntil is
	// before now lose their WorkerID, and stale running runs return to
	// pending so another worker can resume them from checkpoints.
	// Returns the number of runs reaped.
	ReapStaleRuns(ctx context.Context, now time.Time) (int, error)

	// SaveCheckpoint commits the result of a completed step. The write
	// is an upsert keyed by run+step; the store assigns the per-run Seq.
	SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error

	// GetCheckpoint retrieves checkpoint data for a step.
	// Returns nil data (and nil error) if no checkpoint exists.
	GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error)

	// ListCheckpoints returns all checkpoints for a run in Seq order.
	ListCheckpoints(ctx context.Context, runID id.RunID) ([]*Checkpoint, error)

	// DeleteCheckpointsFrom removes the named checkpoint and every
	// checkpoint committed after it. Used for replay-from-step.
	DeleteCheckpointsFrom(ctx context.Context, runID id.RunID, fromStep string) error

	// DeleteRunsBefore removes terminal runs (and their checkpoints)
	// that completed before the cutoff. Used by retention sweeps.
	// Returns the number of runs deleted.
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
