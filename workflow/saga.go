package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ── Saga Compensations ──────────────────────────────

// Compensation is a registered undo action for a completed step. When
// the run fails, compensations execute in reverse registration order
// (LIFO). Compensations are at-least-once: a crash during the failure
// unwind re-registers and re-runs them on the next claim, so they must
// be idempotent like any step.
type Compensation struct {
	// StepName is the step this compensation undoes.
	StepName string
	// Compensate reverses the step's side effects.
	Compensate func(ctx context.Context) error
}

// StepWithCompensation executes a named step and, on success, pushes a
// compensation onto the saga stack. If the workflow later fails, the
// stack unwinds newest-first to undo completed work.
func (w *Workflow) StepWithCompensation(
	name string,
	execute func(ctx context.Context) error,
	compensate func(ctx context.Context) error,
	opts ...StepOption,
) error {
	if err := w.Step(name, execute, opts...); err != nil {
		return err
	}
	w.compensations = append(w.compensations, Compensation{
		StepName:   name,
		Compensate: compensate,
	})
	return nil
}

// StepResultWithCompensation is StepResult with a compensation pushed
// on success.
func StepResultWithCompensation[T any](
	w *Workflow,
	name string,
	execute func(ctx context.Context) (T, error),
	compensate func(ctx context.Context) error,
	opts ...StepOption,
) (T, error) {
	result, err := StepResult(w, name, execute, opts...)
	if err != nil {
		return result, err
	}
	w.compensations = append(w.compensations, Compensation{
		StepName:   name,
		Compensate: compensate,
	})
	return result, nil
}

// Compensations returns the registered compensation stack in
// registration order.
func (w *Workflow) Compensations() []Compensation {
	return w.compensations
}

// RunCompensations executes all registered compensations in reverse
// order. Every compensation runs even if earlier ones fail; the
// failures are joined into the returned error. Called by the runner
// when the workflow fails.
func (w *Workflow) RunCompensations() error {
	var errs []error
	for i := len(w.compensations) - 1; i >= 0; i-- {
		c := w.compensations[i]
		w.logger.Debug("running compensation",
			slog.String("run_id", w.run.ID.String()),
			slog.String("step", c.StepName),
		)
		if err := c.Compensate(w.ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate %q: %w", c.StepName, err))
		}
	}
	return errors.Join(errs...)
}
