// Package ext defines the extension system for the orchestrator.
// Extensions are notified of lifecycle events (run started, step completed,
// hook resolved, etc.) and can react to them — audit trails, metrics,
// webhook delivery.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a workflow run begins executing.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *workflow.Run) error
}

// RunSuspended is called when a run parks on a hook or durable sleep.
type RunSuspended interface {
	OnRunSuspended(ctx context.Context, r *workflow.Run) error
}

// RunResumed is called when a suspended run is woken for re-execution.
type RunResumed interface {
	OnRunResumed(ctx context.Context, r *workflow.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *workflow.Run, err error) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepCompleted is called after a step commits its checkpoint.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error
}

// StepRetried is called when a step attempt fails retryably and another
// attempt is scheduled after the given delay.
type StepRetried interface {
	OnStepRetried(ctx context.Context, r *workflow.Run, stepName string, attempt int, delay time.Duration) error
}

// StepFailed is called when a step fails fatally (no more attempts).
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *workflow.Run, stepName string, err error) error
}

// ──────────────────────────────────────────────────
// Hook (approval gate) lifecycle hooks
// ──────────────────────────────────────────────────

// HookCreated is called when a run creates a pending hook.
type HookCreated interface {
	OnHookCreated(ctx context.Context, r *workflow.Run, h *hook.Hook) error
}

// HookResolved is called when a hook is resolved by a caller.
type HookResolved interface {
	OnHookResolved(ctx context.Context, r *workflow.Run, h *hook.Hook) error
}

// HookExpired is called when a hook passes its deadline unresolved.
type HookExpired interface {
	OnHookExpired(ctx context.Context, r *workflow.Run, h *hook.Hook) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// ScheduleFired is called when a cron schedule fires and starts a run.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, scheduleName string, runID id.RunID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
