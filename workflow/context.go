package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/backoff"
	"github.com/bcorn-cely/Agent-Orchestration/codec"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// StepEmitter is called by the Workflow to emit step lifecycle events.
// Declared here rather than importing ext so the dependency points from
// ext to workflow; ext.Registry satisfies it directly.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, run *Run, stepName string, elapsed time.Duration)
	EmitStepRetried(ctx context.Context, run *Run, stepName string, attempt int, delay time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepName string, err error)
}

// HookEmitter emits hook lifecycle events.
type HookEmitter interface {
	EmitHookCreated(ctx context.Context, run *Run, h *hook.Hook)
	EmitHookResolved(ctx context.Context, run *Run, h *hook.Hook)
	EmitHookExpired(ctx context.Context, run *Run, h *hook.Hook)
}

// RunEmitter emits run-level lifecycle events. Like StepEmitter it is
// satisfied by ext.Registry.
type RunEmitter interface {
	StepEmitter
	HookEmitter
	EmitRunStarted(ctx context.Context, run *Run)
	EmitRunSuspended(ctx context.Context, run *Run)
	EmitRunResumed(ctx context.Context, run *Run)
	EmitRunCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, run *Run, err error)
}

// ChildStarter creates child runs on behalf of a workflow.
// Implemented by Runner.
type ChildStarter interface {
	SpawnChildRaw(ctx context.Context, parentRunID id.RunID, name string, input []byte) (*Run, error)
}

// stepDefaults are the engine-level execution defaults applied to
// steps and hooks that do not override them.
type stepDefaults struct {
	maxRetries int
	timeout    time.Duration
	backoff    backoff.Strategy
	hookTTL    time.Duration
}

// suspension records why a handler unwound with ErrSuspended: the hook
// token the run is waiting on (empty for durable sleeps) and the time
// the store should redeliver the run on its own.
type suspension struct {
	token  string
	wakeAt *time.Time
}

// Workflow is the execution context passed to workflow handler
// functions. It provides durable step execution (Step, StepResult),
// parallel fan-out (FanOut, Parallel), human-in-the-loop hooks
// (CreateHook, AwaitHook), durable sleep, saga compensations, and
// child workflow composition. Each primitive checkpoints its result so
// that re-execution after a crash or suspension replays committed work
// instead of re-invoking it.
type Workflow struct {
	ctx     context.Context
	run     *Run
	store   Store
	hooks   hook.Store
	events  *event.Log
	emitter RunEmitter
	codec   codec.Codec
	logger  *slog.Logger

	defaults     stepDefaults
	mw           Middleware
	childStarter ChildStarter

	inStep        atomic.Int32
	susp          *suspension
	compensations []Compensation
}

// newWorkflowContext builds the execution context for one claim of a
// run, wiring in the runner's dependencies.
func newWorkflowContext(ctx context.Context, run *Run, r *Runner) *Workflow {
	return &Workflow{
		ctx:          ctx,
		run:          run,
		store:        r.store,
		hooks:        r.hooks,
		events:       r.events,
		emitter:      r.emitter,
		codec:        r.codec,
		logger:       r.logger,
		defaults:     r.defaults,
		mw:           r.mw,
		childStarter: r,
	}
}

// Context returns the underlying context.Context.
func (w *Workflow) Context() context.Context { return w.ctx }

// RunID returns the workflow run ID.
func (w *Workflow) RunID() id.RunID { return w.run.ID }

// Run returns the workflow run.
func (w *Workflow) Run() *Run { return w.run }

// Logger returns the run's logger.
func (w *Workflow) Logger() *slog.Logger { return w.logger }

// SetOutput encodes v with the engine codec and records it as the
// run's output. The output is persisted when the run completes.
// Calling SetOutput again replaces the previous output; on replay the
// deterministic handler simply sets it again.
func (w *Workflow) SetOutput(v any) error {
	data, err := w.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("workflow %s: encode output: %w", w.run.Name, err)
	}
	w.run.Output = data
	return nil
}

// Decode decodes codec-encoded bytes into v. Use it to unpack fan-out
// task outputs and child run outputs.
func (w *Workflow) Decode(data []byte, v any) error {
	return w.codec.Unmarshal(data, v)
}

// decodeInput decodes codec-encoded input bytes into v.
func (w *Workflow) decodeInput(data []byte, v any) error {
	return w.codec.Unmarshal(data, v)
}

// insideStep reports whether a step function is currently executing.
// Fan-out tasks count as steps, so the counter is atomic.
func (w *Workflow) insideStep() bool { return w.inStep.Load() > 0 }

func (w *Workflow) enterStep() { w.inStep.Add(1) }
func (w *Workflow) exitStep()  { w.inStep.Add(-1) }

// suspend records the suspension and returns the sentinel the handler
// must propagate so the runner can park the run without holding a
// goroutine.
func (w *Workflow) suspend(token string, wakeAt *time.Time) error {
	w.susp = &suspension{token: token, wakeAt: wakeAt}
	return orchestration.ErrSuspended
}

// appendEvent writes one audit event for this run. Event payloads are
// always JSON regardless of the checkpoint codec so the audit trail
// stays inspectable. Append failures are logged, never fatal.
func (w *Workflow) appendEvent(typ event.Type, stepName, hookToken string, payload any) {
	appendRunEvent(w.ctx, w.events, w.logger, w.run, typ, stepName, hookToken, payload)
}
