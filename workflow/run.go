package workflow

import (
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Status represents the lifecycle state of a workflow run.
type Status string

const (
	// StatusPending means the run is queued and waiting for a worker claim.
	StatusPending Status = "pending"
	// StatusRunning means a worker holds the claim and is executing the run.
	StatusRunning Status = "running"
	// StatusSuspended means the run is parked on a hook or durable sleep.
	// No goroutine is held while a run is suspended.
	StatusSuspended Status = "suspended"
	// StatusCompleted means the run finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the run terminated with an unrecovered error.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is a final state. Terminal runs are never
// claimed or resumed; a fresh run must be retriggered instead.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run is a single execution of a registered workflow definition.
//
// A run is created pending, claimed by a worker (WorkerID/LeaseUntil),
// and re-executed from the top on every claim; completed steps replay
// from checkpoints. Suspension points record AwaitToken and WakeAt so
// the run can be redelivered by an external resume or by the clock.
type Run struct {
	orchestration.Entity

	ID      id.RunID `json:"id"`
	Name    string   `json:"name"`
	Version int      `json:"version"`
	Status  Status   `json:"status"`

	Input  []byte `json:"input,omitempty"`
	Output []byte `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`

	ParentRunID *id.RunID `json:"parent_run_id,omitempty"`
	ScopeAppID  string    `json:"scope_app_id,omitempty"`
	ScopeOrgID  string    `json:"scope_org_id,omitempty"`

	// Claim fields. WorkerID and LeaseUntil are set atomically by the
	// store when a worker dequeues the run; the lease is extended by
	// heartbeats and reaped when it expires.
	WorkerID   id.WorkerID `json:"worker_id,omitempty"`
	LeaseUntil *time.Time  `json:"lease_until,omitempty"`

	// Suspension fields. AwaitToken is the hook token the run is parked
	// on (empty for durable sleeps). WakeAt is when the store should
	// redeliver the run regardless of external resumes; nil means only
	// a resume can wake it.
	AwaitToken string     `json:"await_token,omitempty"`
	WakeAt     *time.Time `json:"wake_at,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Claimed reports whether the run currently holds a live worker claim.
func (r *Run) Claimed(now time.Time) bool {
	return !r.WorkerID.IsNil() && r.LeaseUntil != nil && r.LeaseUntil.After(now)
}

// ClearClaim removes the worker claim from the run.
func (r *Run) ClearClaim() {
	r.WorkerID = id.WorkerID{}
	r.LeaseUntil = nil
}
