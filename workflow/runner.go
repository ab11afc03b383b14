package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/backoff"
	"github.com/bcorn-cely/Agent-Orchestration/codec"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/scope"
)

// Waker nudges the run pool after a run becomes claimable (start, hook
// resolution, replay). Implemented by worker.Pool; a nil waker means the
// pool finds the run on its next poll.
type Waker interface {
	Wake()
}

// Runner orchestrates workflow execution: creating runs, executing
// claimed runs through the Workflow context, suspending on hooks and
// sleeps, and resuming suspended runs by token.
//
// Start never executes the workflow inline: it persists the run as
// pending and wakes the pool, so the caller gets the run ID back
// immediately no matter how long the workflow takes.
type Runner struct {
	registry *Registry
	store    Store
	hooks    hook.Store
	events   *event.Log
	emitter  RunEmitter
	codec    codec.Codec
	logger   *slog.Logger
	defaults stepDefaults
	mw       Middleware
	waker    Waker
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEmitter sets the lifecycle emitter (usually the ext registry).
func WithEmitter(e RunEmitter) RunnerOption {
	return func(r *Runner) { r.emitter = e }
}

// WithLogger sets the runner's structured logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithCodec sets the codec used for run inputs, outputs, and checkpoints.
func WithCodec(c codec.Codec) RunnerOption {
	return func(r *Runner) { r.codec = c }
}

// WithMiddleware sets the composed step middleware chain.
func WithMiddleware(mw Middleware) RunnerOption {
	return func(r *Runner) { r.mw = mw }
}

// WithWaker sets the pool waker.
func WithWaker(w Waker) RunnerOption {
	return func(r *Runner) { r.waker = w }
}

// WithDefaults applies the engine configuration's step and hook defaults.
func WithDefaults(cfg orchestration.Config) RunnerOption {
	return func(r *Runner) {
		r.defaults.maxRetries = cfg.DefaultMaxRetries
		r.defaults.timeout = cfg.DefaultStepTimeout
		r.defaults.hookTTL = cfg.DefaultHookTTL
	}
}

// WithDefaultBackoff sets the backoff strategy steps fall back to.
func WithDefaultBackoff(s backoff.Strategy) RunnerOption {
	return func(r *Runner) { r.defaults.backoff = s }
}

// nopEmitter is the default emitter when no extensions are installed.
type nopEmitter struct{}

func (nopEmitter) EmitStepCompleted(context.Context, *Run, string, time.Duration)    {}
func (nopEmitter) EmitStepRetried(context.Context, *Run, string, int, time.Duration) {}
func (nopEmitter) EmitStepFailed(context.Context, *Run, string, error)               {}
func (nopEmitter) EmitHookCreated(context.Context, *Run, *hook.Hook)                 {}
func (nopEmitter) EmitHookResolved(context.Context, *Run, *hook.Hook)                {}
func (nopEmitter) EmitHookExpired(context.Context, *Run, *hook.Hook)                 {}
func (nopEmitter) EmitRunStarted(context.Context, *Run)                              {}
func (nopEmitter) EmitRunSuspended(context.Context, *Run)                            {}
func (nopEmitter) EmitRunResumed(context.Context, *Run)                              {}
func (nopEmitter) EmitRunCompleted(context.Context, *Run, time.Duration)             {}
func (nopEmitter) EmitRunFailed(context.Context, *Run, error)                        {}

// NewRunner creates a workflow runner. The registry, store, hook store,
// and event log are required; everything else defaults sensibly and is
// overridden with options.
func NewRunner(registry *Registry, store Store, hooks hook.Store, events *event.Log, opts ...RunnerOption) *Runner {
	cfg := orchestration.DefaultConfig()
	r := &Runner{
		registry: registry,
		store:    store,
		hooks:    hooks,
		events:   events,
		emitter:  nopEmitter{},
		codec:    codec.Default(),
		logger:   slog.Default(),
		defaults: stepDefaults{
			maxRetries: cfg.DefaultMaxRetries,
			timeout:    cfg.DefaultStepTimeout,
			backoff:    backoff.DefaultStrategy(),
			hookTTL:    cfg.DefaultHookTTL,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaults.backoff == nil {
		r.defaults.backoff = backoff.DefaultStrategy()
	}
	return r
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Store returns the run store.
func (r *Runner) Store() Store { return r.store }

// Hooks returns the hook store.
func (r *Runner) Hooks() hook.Store { return r.hooks }

// Events returns the event log.
func (r *Runner) Events() *event.Log { return r.events }

// Codec returns the payload codec.
func (r *Runner) Codec() codec.Codec { return r.codec }

// SetWaker wires the pool in after construction. The pool is built
// around the runner, so the engine installs it here once both sides
// exist. Call before the runner serves traffic.
func (r *Runner) SetWaker(w Waker) { r.waker = w }

func (r *Runner) wake() {
	if r.waker != nil {
		r.waker.Wake()
	}
}

// ── Starting Runs ───────────────────────────────────

// Start starts a new workflow run with a typed input. The input is
// encoded with the runner codec and stored on the run. The call returns
// as soon as the run is persisted; execution happens on the pool.
func Start[T any](ctx context.Context, runner *Runner, name string, input T) (*Run, error) {
	data, err := runner.codec.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input for workflow %q: %w", name, err)
	}

	return runner.StartRaw(ctx, name, data)
}

// StartRaw starts a workflow run with pre-encoded input. The run is
// pinned to the latest registered version, persisted pending, and the
// pool is woken to claim it.
func (r *Runner) StartRaw(ctx context.Context, name string, input []byte) (*Run, error) {
	if _, ok := r.registry.Get(name); !ok {
		return nil, fmt.Errorf("workflow %q: %w", name, orchestration.ErrWorkflowNotFound)
	}

	run, err := r.createRun(ctx, name, input, nil)
	if err != nil {
		return nil, err
	}

	r.emitter.EmitRunStarted(ctx, run)
	appendRunEvent(ctx, r.events, r.logger, run, event.TypeRunStarted, "", "", map[string]any{
		"workflow": name,
		"version":  run.Version,
	})
	r.wake()

	return run, nil
}

// SpawnChildRaw starts a child run linked to a parent. Implements
// ChildStarter; workflows call it through SpawnChild, which checkpoints
// the child run ID so replay does not spawn twice.
func (r *Runner) SpawnChildRaw(ctx context.Context, parentRunID id.RunID, name string, input []byte) (*Run, error) {
	if _, ok := r.registry.Get(name); !ok {
		return nil, fmt.Errorf("workflow %q: %w", name, orchestration.ErrWorkflowNotFound)
	}

	run, err := r.createRun(ctx, name, input, &parentRunID)
	if err != nil {
		return nil, err
	}

	r.emitter.EmitRunStarted(ctx, run)
	appendRunEvent(ctx, r.events, r.logger, run, event.TypeRunStarted, "", "", map[string]any{
		"workflow":      name,
		"version":       run.Version,
		"parent_run_id": parentRunID.String(),
	})
	r.wake()

	return run, nil
}

func (r *Runner) createRun(ctx context.Context, name string, input []byte, parent *id.RunID) (*Run, error) {
	appID, orgID := scope.Capture(ctx)

	run := &Run{
		Entity:      orchestration.NewEntity(),
		ID:          id.NewRunID(),
		Name:        name,
		Version:     r.registry.LatestVersion(name),
		Status:      StatusPending,
		Input:       input,
		ParentRunID: parent,
		ScopeAppID:  appID,
		ScopeOrgID:  orgID,
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run for workflow %q: %w", name, err)
	}

	return run, nil
}

// ── Executing Claimed Runs ──────────────────────────

// ExecuteClaimed executes a run the pool has claimed. It flips the run
// to running, re-executes the registered handler (completed steps
// replay from checkpoints), and persists the outcome: completed, failed
// after saga compensations, or suspended when the handler unwinds with
// the suspension sentinel.
func (r *Runner) ExecuteClaimed(ctx context.Context, run *Run) error {
	rf, ok := r.registry.GetVersion(run.Name, run.Version)
	if !ok {
		err := fmt.Errorf("workflow %q version %d: %w", run.Name, run.Version, orchestration.ErrWorkflowNotFound)
		r.finishFailed(ctx, run, err)
		return err
	}

	ctx = scope.Restore(ctx, run.ScopeAppID, run.ScopeOrgID)
	ctx = orchestration.WithRunID(ctx, run.ID)

	resumed := run.Status == StatusSuspended
	now := time.Now().UTC()
	run.Status = StatusRunning
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	run.AwaitToken = ""
	run.WakeAt = nil
	run.Touch()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("mark run %s running: %w", run.ID, err)
	}
	if resumed {
		r.emitter.EmitRunResumed(ctx, run)
		appendRunEvent(ctx, r.events, r.logger, run, event.TypeRunResumed, "", "", nil)
	}

	wf := newWorkflowContext(ctx, run, r)
	start := time.Now()
	err := rf(wf, run.Input)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		r.finishCompleted(ctx, run, elapsed)
		return nil
	case errors.Is(err, orchestration.ErrSuspended):
		return r.suspendRun(ctx, wf, run)
	default:
		r.compensate(wf, run)
		r.finishFailed(ctx, run, err)
		return err
	}
}

func (r *Runner) finishCompleted(ctx context.Context, run *Run, elapsed time.Duration) {
	now := time.Now().UTC()
	run.Status = StatusCompleted
	run.CompletedAt = &now
	run.ClearClaim()
	run.Touch()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Error("failed to persist completed run",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	r.emitter.EmitRunCompleted(ctx, run, elapsed)
	appendRunEvent(ctx, r.events, r.logger, run, event.TypeRunCompleted, "", "", map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

func (r *Runner) finishFailed(ctx context.Context, run *Run, cause error) {
	now := time.Now().UTC()
	run.Status = StatusFailed
	run.Error = cause.Error()
	run.CompletedAt = &now
	run.ClearClaim()
	run.Touch()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Error("failed to persist failed run",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	r.emitter.EmitRunFailed(ctx, run, cause)
	appendRunEvent(ctx, r.events, r.logger, run, event.TypeRunFailed, "", "", map[string]any{
		"error": cause.Error(),
	})
}

func (r *Runner) compensate(wf *Workflow, run *Run) {
	if len(wf.Compensations()) == 0 {
		return
	}
	r.logger.Info("running saga compensations",
		slog.String("run_id", run.ID.String()),
		slog.Int("count", len(wf.Compensations())),
	)
	if err := wf.RunCompensations(); err != nil {
		r.logger.Error("compensation errors during run failure",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// suspendRun parks the run: status suspended, the awaited hook token,
// and the wake deadline are persisted, the claim is released, and no
// goroutine is held until an external resume or the clock redelivers it.
func (r *Runner) suspendRun(ctx context.Context, wf *Workflow, run *Run) error {
	susp := wf.susp
	if susp == nil {
		susp = &suspension{}
	}

	run.Status = StatusSuspended
	run.AwaitToken = susp.token
	run.WakeAt = susp.wakeAt
	run.ClearClaim()
	run.Touch()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("suspend run %s: %w", run.ID, err)
	}

	r.emitter.EmitRunSuspended(ctx, run)
	payload := map[string]any{}
	if susp.token != "" {
		payload["hook_token"] = susp.token
	}
	if susp.wakeAt != nil {
		payload["wake_at"] = susp.wakeAt.Format(time.RFC3339Nano)
	}
	appendRunEvent(ctx, r.events, r.logger, run, event.TypeRunSuspended, "", susp.token, payload)

	// A resolution can land between the handler unwinding and the
	// suspension committing. Re-check so the run is not parked on an
	// already-resolved hook until its expiry.
	if susp.token != "" {
		if token, parseErr := id.Parse(susp.token); parseErr == nil {
			if h, getErr := r.hooks.GetHook(ctx, token); getErr == nil && h.State == hook.StateResolved {
				if err := r.wakeSuspended(ctx, run); err != nil {
					return err
				}
			}
		}
	}

	r.logger.Debug("run suspended",
		slog.String("run_id", run.ID.String()),
		slog.String("hook_token", susp.token),
	)
	return nil
}

// wakeSuspended flips a suspended run back to pending and nudges the pool.
func (r *Runner) wakeSuspended(ctx context.Context, run *Run) error {
	run.Status = StatusPending
	run.AwaitToken = ""
	run.WakeAt = nil
	run.Touch()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("wake run %s: %w", run.ID, err)
	}
	r.wake()
	return nil
}

// ── Resuming by Hook Token ──────────────────────────

// ResumeHook delivers an external decision to a suspended run. The raw
// token is normalized (percent-decoding, stray quote/comma trimming)
// before lookup, the payload is validated against the hook's schema,
// and the hook is resolved with an atomic compare-and-swap so exactly
// one concurrent resume wins. Late or duplicate calls get
// ErrHookNotFound, never a double-apply.
//
// Schema violations return an error wrapping neither ErrHookNotFound
// nor ErrHookExpired; API layers map them to a 400 rather than a 404.
func (r *Runner) ResumeHook(ctx context.Context, rawToken string, payload []byte, by string) (*Run, error) {
	token, err := hook.ParseToken(rawToken)
	if err != nil {
		return nil, fmt.Errorf("token %q: %w", rawToken, orchestration.ErrHookNotFound)
	}

	h, err := r.hooks.GetHook(ctx, token)
	if err != nil {
		return nil, err
	}
	if h.ExpiredAt(time.Now().UTC()) {
		return nil, fmt.Errorf("hook %s: %w", token, orchestration.ErrHookNotFound)
	}

	if err := h.Validate(payload); err != nil {
		return nil, err
	}

	resolved, err := r.hooks.ResolveHook(ctx, token, payload, by)
	if err != nil {
		// Both losing outcomes collapse to not-found: the hook is gone
		// as far as this caller is concerned.
		if errors.Is(err, orchestration.ErrHookResolved) || errors.Is(err, orchestration.ErrHookExpired) {
			return nil, fmt.Errorf("hook %s: %w", token, orchestration.ErrHookNotFound)
		}
		return nil, err
	}

	run, err := r.store.GetRun(ctx, resolved.RunID)
	if err != nil {
		return nil, err
	}

	r.emitter.EmitHookResolved(ctx, run, resolved)
	appendRunEvent(ctx, r.events, r.logger, run, event.TypeHookResolved, resolved.Name, resolved.Token(), json.RawMessage(payload))

	// Only an unclaimed run suspended on this exact token flips back to
	// pending here. A claimed run observes the resolution itself on its
	// live AwaitHook read; a run suspended on a different hook keeps
	// waiting for its own.
	if run.Status == StatusSuspended && run.AwaitToken == token.String() && !run.Claimed(time.Now().UTC()) {
		if err := r.wakeSuspended(ctx, run); err != nil {
			return nil, err
		}
	} else {
		r.wake()
	}

	r.logger.Info("hook resolved",
		slog.String("run_id", run.ID.String()),
		slog.String("hook_token", token.String()),
		slog.String("resolved_by", by),
	)
	return run, nil
}

// ── Version Migration ───────────────────────────────

// MigrateRun re-pins an in-flight run to another registered version of
// its workflow and queues it for re-execution. Checkpoints are
// preserved, so steps the old and new handlers share by name replay
// instead of re-running; the run proceeds live where the new handler
// diverges. Terminal runs are not migratable: a completed or failed run
// never re-enters the queue, the same rule resumption follows.
func (r *Runner) MigrateRun(ctx context.Context, runID id.RunID, toVersion int) (*Run, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if _, ok := r.registry.GetVersion(run.Name, toVersion); !ok {
		return nil, fmt.Errorf("workflow %q version %d: %w", run.Name, toVersion, orchestration.ErrWorkflowNotFound)
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, orchestration.ErrRunNotResumable)
	}

	run.Version = toVersion
	run.Status = StatusPending
	run.Error = ""
	run.CompletedAt = nil
	run.AwaitToken = ""
	run.WakeAt = nil
	run.ClearClaim()
	run.Touch()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("migrate run %s to version %d: %w", runID, toVersion, err)
	}

	r.wake()
	return run, nil
}

// ── Event Helper ────────────────────────────────────

// appendRunEvent writes one audit event for a run. Event payloads are
// always JSON regardless of the checkpoint codec so timelines stay
// inspectable without the concrete Go types. Failures are logged and
// swallowed: the audit trail never aborts a run.
func appendRunEvent(ctx context.Context, log *event.Log, logger *slog.Logger, run *Run, typ event.Type, stepName, hookToken string, payload any) {
	if log == nil {
		return
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			logger.Warn("failed to encode event payload",
				slog.String("run_id", run.ID.String()),
				slog.String("type", string(typ)),
				slog.String("error", err.Error()),
			)
		}
	}

	evt := &event.Event{
		RunID:      run.ID,
		Type:       typ,
		StepName:   stepName,
		HookToken:  hookToken,
		Payload:    data,
		ScopeAppID: run.ScopeAppID,
		ScopeOrgID: run.ScopeOrgID,
	}
	if err := log.Append(ctx, evt); err != nil {
		logger.Warn("failed to append run event",
			slog.String("run_id", run.ID.String()),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
