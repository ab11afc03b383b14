package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type runSuspendedEntry struct {
	name string
	hook RunSuspended
}

type runResumedEntry struct {
	name string
	hook RunResumed
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepRetriedEntry struct {
	name string
	hook StepRetried
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type hookCreatedEntry struct {
	name string
	hook HookCreated
}

type hookResolvedEntry struct {
	name string
	hook HookResolved
}

type hookExpiredEntry struct {
	name string
	hook HookExpired
}

type scheduleFiredEntry struct {
	name string
	hook ScheduleFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Registry satisfies workflow.RunEmitter and cron.Emitter directly; the
// engine passes it to the runner and scheduler as the event fan-out.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	runStarted    []runStartedEntry
	runSuspended  []runSuspendedEntry
	runResumed    []runResumedEntry
	runCompleted  []runCompletedEntry
	runFailed     []runFailedEntry
	stepCompleted []stepCompletedEntry
	stepRetried   []stepRetriedEntry
	stepFailed    []stepFailedEntry
	hookCreated   []hookCreatedEntry
	hookResolved  []hookResolvedEntry
	hookExpired   []hookExpiredEntry
	scheduleFired []scheduleFiredEntry
	shutdown      []shutdownEntry
}

var (
	_ workflow.RunEmitter = (*Registry)(nil)
	_ cron.Emitter        = (*Registry)(nil)
)

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(RunSuspended); ok {
		r.runSuspended = append(r.runSuspended, runSuspendedEntry{name, h})
	}
	if h, ok := e.(RunResumed); ok {
		r.runResumed = append(r.runResumed, runResumedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepRetried); ok {
		r.stepRetried = append(r.stepRetried, stepRetriedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(HookCreated); ok {
		r.hookCreated = append(r.hookCreated, hookCreatedEntry{name, h})
	}
	if h, ok := e.(HookResolved); ok {
		r.hookResolved = append(r.hookResolved, hookResolvedEntry{name, h})
	}
	if h, ok := e.(HookExpired); ok {
		r.hookExpired = append(r.hookExpired, hookExpiredEntry{name, h})
	}
	if h, ok := e.(ScheduleFired); ok {
		r.scheduleFired = append(r.scheduleFired, scheduleFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, run); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitRunSuspended notifies all extensions that implement RunSuspended.
func (r *Registry) EmitRunSuspended(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runSuspended {
		if err := e.hook.OnRunSuspended(ctx, run); err != nil {
			r.logHookError("OnRunSuspended", e.name, err)
		}
	}
}

// EmitRunResumed notifies all extensions that implement RunResumed.
func (r *Registry) EmitRunResumed(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runResumed {
		if err := e.hook.OnRunResumed(ctx, run); err != nil {
			r.logHookError("OnRunResumed", e.name, err)
		}
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *workflow.Run, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, run, stepName, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepRetried notifies all extensions that implement StepRetried.
func (r *Registry) EmitStepRetried(ctx context.Context, run *workflow.Run, stepName string, attempt int, delay time.Duration) {
	for _, e := range r.stepRetried {
		if err := e.hook.OnStepRetried(ctx, run, stepName, attempt, delay); err != nil {
			r.logHookError("OnStepRetried", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *workflow.Run, stepName string, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, run, stepName, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Hook event emitters
// ──────────────────────────────────────────────────

// EmitHookCreated notifies all extensions that implement HookCreated.
func (r *Registry) EmitHookCreated(ctx context.Context, run *workflow.Run, h *hook.Hook) {
	for _, e := range r.hookCreated {
		if err := e.hook.OnHookCreated(ctx, run, h); err != nil {
			r.logHookError("OnHookCreated", e.name, err)
		}
	}
}

// EmitHookResolved notifies all extensions that implement HookResolved.
func (r *Registry) EmitHookResolved(ctx context.Context, run *workflow.Run, h *hook.Hook) {
	for _, e := range r.hookResolved {
		if err := e.hook.OnHookResolved(ctx, run, h); err != nil {
			r.logHookError("OnHookResolved", e.name, err)
		}
	}
}

// EmitHookExpired notifies all extensions that implement HookExpired.
func (r *Registry) EmitHookExpired(ctx context.Context, run *workflow.Run, h *hook.Hook) {
	for _, e := range r.hookExpired {
		if err := e.hook.OnHookExpired(ctx, run, h); err != nil {
			r.logHookError("OnHookExpired", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitScheduleFired notifies all extensions that implement ScheduleFired.
func (r *Registry) EmitScheduleFired(ctx context.Context, scheduleName string, runID id.RunID) {
	for _, e := range r.scheduleFired {
		if err := e.hook.OnScheduleFired(ctx, scheduleName, runID); err != nil {
			r.logHookError("OnScheduleFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
