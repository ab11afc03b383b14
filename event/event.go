package event

import (
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Type names a run lifecycle event.
type Type string

// Event types appended by the runner and its subsystems.
const (
	TypeRunStarted     Type = "run.started"
	TypeRunSuspended   Type = "run.suspended"
	TypeRunResumed     Type = "run.resumed"
	TypeRunCompleted   Type = "run.completed"
	TypeRunFailed      Type = "run.failed"
	TypeRunRetriggered Type = "run.retriggered"
	TypeStepCompleted  Type = "step.completed"
	TypeStepRetried    Type = "step.retried"
	TypeHookCreated    Type = "hook.created"
	TypeHookResolved   Type = "hook.resolved"
	TypeHookExpired    Type = "hook.expired"
)

// Event is one record in a run's append-only audit trail. The debug
// timeline interleaves events with checkpoints; the stream broker fans them
// out to live watchers; extensions receive them as lifecycle callbacks.
type Event struct {
	ID    id.EventID `json:"id"`
	RunID id.RunID   `json:"run_id"`
	Type  Type       `json:"type"`

	// StepName is set on step.* events, HookToken on hook.* events.
	StepName  string `json:"step_name,omitempty"`
	HookToken string `json:"hook_token,omitempty"`

	// Payload carries event details (codec-encoded step results, decisions,
	// error strings).
	Payload []byte `json:"payload,omitempty"`

	ScopeAppID string    `json:"scope_app_id,omitempty"`
	ScopeOrgID string    `json:"scope_org_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
