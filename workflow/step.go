package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/backoff"
	"github.com/bcorn-cely/Agent-Orchestration/event"
)

// ── Step Invocation & Middleware ────────────────────

// StepInvocation describes one attempt of one step to middleware.
type StepInvocation struct {
	// Run is the run the step belongs to.
	Run *Run
	// StepName is the step's checkpoint key.
	StepName string
	// Attempt is 1-based; MaxRetries is the total attempts allowed.
	Attempt    int
	MaxRetries int
	// Timeout is the per-attempt execution limit. Zero means none.
	// Enforced by the timeout middleware.
	Timeout time.Duration
}

// Handler is the terminal function that executes step logic.
type Handler func(ctx context.Context) error

// Middleware wraps a step attempt with cross-cutting logic (recover,
// tracing, metrics, logging, scope, timeout). It receives the current
// context, the invocation being executed, and the next handler to
// call. Middleware MUST call next to continue the chain unless
// short-circuiting on error. Implementations live in the middleware
// package; the engine chains them and hands the composed Middleware to
// the runner.
type Middleware func(ctx context.Context, inv *StepInvocation, next Handler) error

// ── Step Options ────────────────────────────────────

// stepOptions is the resolved per-step execution policy.
type stepOptions struct {
	maxRetries int
	timeout    time.Duration
	backoff    backoff.Strategy
}

// StepOption overrides the engine defaults for a single step.
type StepOption func(*stepOptions)

// WithMaxRetries sets the maximum total attempts for the step.
// A step with WithMaxRetries(3) executes at most three times.
func WithMaxRetries(n int) StepOption {
	return func(o *stepOptions) { o.maxRetries = n }
}

// WithBackoff sets the delay strategy applied between attempts.
func WithBackoff(s backoff.Strategy) StepOption {
	return func(o *stepOptions) { o.backoff = s }
}

// WithTimeout sets the per-attempt execution limit for the step.
func WithTimeout(d time.Duration) StepOption {
	return func(o *stepOptions) { o.timeout = d }
}

// resolveStepOptions applies opts over the engine defaults.
func (w *Workflow) resolveStepOptions(opts ...StepOption) stepOptions {
	o := stepOptions{
		maxRetries: w.defaults.maxRetries,
		timeout:    w.defaults.timeout,
		backoff:    w.defaults.backoff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxRetries < 1 {
		o.maxRetries = 1
	}
	if o.backoff == nil {
		o.backoff = backoff.DefaultStrategy()
	}
	return o
}

// ── Step Execution ──────────────────────────────────

// Step executes a named step function. If a checkpoint exists for this
// step name, the step is skipped (idempotent replay). Otherwise the
// function runs under the step's retry policy and a checkpoint commits
// on success before the workflow continues.
func (w *Workflow) Step(name string, fn func(ctx context.Context) error, opts ...StepOption) error {
	_, err := w.executeStep(w.ctx, name, w.resolveStepOptions(opts...), func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// StepResult executes a named step that returns a typed value. The
// result is encoded with the engine codec and saved as a checkpoint.
// On replay, the cached result is decoded and returned without
// re-executing the step function. The fresh path decodes the committed
// bytes too, so a result is byte-identical whether it was computed
// this execution or replayed from an earlier one.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepResult[T any](w *Workflow, name string, fn func(ctx context.Context) (T, error), opts ...StepOption) (T, error) {
	var zero T
	data, err := w.executeStep(w.ctx, name, w.resolveStepOptions(opts...), func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}

	var result T
	if decErr := w.codec.Unmarshal(data, &result); decErr != nil {
		return zero, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.run.Name, name, decErr)
	}
	return result, nil
}

// executeStep is the step executor shared by Step, StepResult, FanOut
// tasks, and Parallel sub-steps. It replays from the checkpoint when
// one exists; otherwise it runs fn under the retry policy, commits the
// encoded result as a checkpoint, and returns the committed bytes.
//
// Retry classification: a FatalError stops retrying immediately, as
// does cancellation of the run context. Anything else is retryable up
// to maxRetries total attempts, waiting o.backoff between attempts
// unless the error carries its own RetryAfter hint. Exhausting the
// attempts converts the last error to Fatal.
func (w *Workflow) executeStep(ctx context.Context, name string, o stepOptions, fn func(ctx context.Context) (any, error)) ([]byte, error) {
	data, err := w.store.GetCheckpoint(ctx, w.run.ID, name)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.run.Name, name, err)
	}
	if data != nil {
		w.logger.Debug("replaying checkpointed step",
			slog.String("run_id", w.run.ID.String()),
			slog.String("step", name),
		)
		return data, nil
	}

	var lastErr error

	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		out, elapsed, stepErr := w.attempt(ctx, name, attempt, o, fn)

		if stepErr == nil {
			enc, encErr := w.codec.Marshal(out)
			if encErr != nil {
				return nil, fmt.Errorf("workflow %s: encode checkpoint %q: %w", w.run.Name, name, encErr)
			}
			if saveErr := w.store.SaveCheckpoint(ctx, w.run.ID, name, enc); saveErr != nil {
				return nil, fmt.Errorf("workflow %s: save checkpoint %q: %w", w.run.Name, name, saveErr)
			}
			w.emitter.EmitStepCompleted(w.ctx, w.run, name, elapsed)
			w.appendEvent(event.TypeStepCompleted, name, "", map[string]any{
				"attempt":    attempt,
				"elapsed_ms": elapsed.Milliseconds(),
			})
			return enc, nil
		}

		lastErr = stepErr

		if orchestration.IsFatal(stepErr) || ctx.Err() != nil {
			if !orchestration.IsFatal(stepErr) {
				stepErr = orchestration.Fatal(stepErr)
			}
			w.emitter.EmitStepFailed(w.ctx, w.run, name, stepErr)
			return nil, fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, stepErr)
		}

		if attempt == o.maxRetries {
			break
		}

		delay := o.backoff.Delay(attempt)
		if r, ok := orchestration.AsRetryable(stepErr); ok && r.RetryAfter > 0 {
			delay = r.RetryAfter
		}

		w.emitter.EmitStepRetried(w.ctx, w.run, name, attempt, delay)
		w.appendEvent(event.TypeStepRetried, name, "", map[string]any{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    stepErr.Error(),
		})
		w.logger.Debug("retrying step",
			slog.String("run_id", w.run.ID.String()),
			slog.String("step", name),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", o.maxRetries),
			slog.Duration("delay", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			cancelErr := orchestration.Fatal(ctx.Err())
			w.emitter.EmitStepFailed(w.ctx, w.run, name, cancelErr)
			return nil, fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, cancelErr)
		}
	}

	exhausted := orchestration.Fatal(fmt.Errorf("%w: %d attempts: %w",
		orchestration.ErrMaxRetriesExceeded, o.maxRetries, lastErr))
	w.emitter.EmitStepFailed(w.ctx, w.run, name, exhausted)
	return nil, fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, exhausted)
}

// attempt runs one execution of the step function through the
// middleware chain, marking the workflow as inside a step for the
// duration so suspension primitives can reject misuse.
func (w *Workflow) attempt(ctx context.Context, name string, attempt int, o stepOptions, fn func(ctx context.Context) (any, error)) (any, time.Duration, error) {
	inv := &StepInvocation{
		Run:        w.run,
		StepName:   name,
		Attempt:    attempt,
		MaxRetries: o.maxRetries,
		Timeout:    o.timeout,
	}

	var out any
	terminal := func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	}

	w.enterStep()
	defer w.exitStep()

	ctx = orchestration.WithStepName(ctx, name)
	start := time.Now()
	var err error
	if w.mw != nil {
		err = w.mw(ctx, inv, terminal)
	} else {
		err = terminal(ctx)
	}
	return out, time.Since(start), err
}

// ── Durable Sleep ───────────────────────────────────

// Sleep pauses the workflow for the given duration without holding a
// goroutine. The deadline is checkpointed on first execution and the
// run suspends with WakeAt set; the pool redelivers it once the
// deadline passes and replay proceeds past the sleep. Sleep must be
// called from orchestration code, not from inside a step.
func (w *Workflow) Sleep(name string, d time.Duration) error {
	stepName := "sleep:" + name

	if w.insideStep() {
		return fmt.Errorf("workflow %s: sleep %q called inside a step", w.run.Name, name)
	}

	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, stepName)
	if err != nil {
		return fmt.Errorf("workflow %s: get sleep checkpoint %q: %w", w.run.Name, name, err)
	}

	var deadline time.Time
	if data == nil {
		deadline = time.Now().UTC().Add(d)
		if saveErr := w.store.SaveCheckpoint(w.ctx, w.run.ID, stepName, []byte(deadline.Format(time.RFC3339Nano))); saveErr != nil {
			return fmt.Errorf("workflow %s: save sleep checkpoint %q: %w", w.run.Name, name, saveErr)
		}
	} else {
		deadline, err = time.Parse(time.RFC3339Nano, string(data))
		if err != nil {
			return fmt.Errorf("workflow %s: decode sleep checkpoint %q: %w", w.run.Name, name, err)
		}
	}

	if !time.Now().UTC().Before(deadline) {
		return nil
	}

	w.logger.Debug("suspending run for durable sleep",
		slog.String("run_id", w.run.ID.String()),
		slog.String("sleep", name),
		slog.Time("wake_at", deadline),
	)
	return w.suspend("", &deadline)
}

// ── Parallel Groups ─────────────────────────────────

// Parallel executes multiple step functions concurrently and requires
// all of them to succeed; the first failure cancels the siblings. Each
// sub-step is checkpointed as "parallel:<group>:<index>" under the
// default retry policy, and a group-level checkpoint marks overall
// completion for replay. For independent tasks whose failures should
// degrade rather than abort, use FanOut.
func (w *Workflow) Parallel(groupName string, steps ...func(ctx context.Context) error) error {
	groupKey := "parallel:" + groupName

	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, groupKey)
	if err != nil {
		return fmt.Errorf("workflow %s: get parallel checkpoint %q: %w", w.run.Name, groupName, err)
	}
	if data != nil {
		w.logger.Debug("replaying checkpointed parallel group",
			slog.String("run_id", w.run.ID.String()),
			slog.String("group", groupName),
		)
		return nil
	}

	g, gctx := errgroup.WithContext(w.ctx)

	for i, step := range steps {
		stepName := fmt.Sprintf("parallel:%s:%d", groupName, i)
		fn := step
		g.Go(func() error {
			_, stepErr := w.executeStep(gctx, stepName, w.resolveStepOptions(), func(ctx context.Context) (any, error) {
				return nil, fn(ctx)
			})
			return stepErr
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		return fmt.Errorf("workflow %s parallel %q: %w", w.run.Name, groupName, waitErr)
	}

	return w.store.SaveCheckpoint(w.ctx, w.run.ID, groupKey, []byte{})
}
