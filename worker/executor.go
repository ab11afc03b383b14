// Package worker provides the run execution engine — an Executor that
// drives claimed runs through the workflow runner, and a Pool that
// manages concurrent worker goroutines polling the store for claimable
// runs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Executor executes a single claimed run through the workflow runner.
// Its job is the last line of defense around handler code: a panic in
// workflow code outside any step (step panics are converted to fatal
// errors by the Recover middleware) is caught here and persisted as a
// run failure instead of killing the worker goroutine.
type Executor struct {
	runner *workflow.Runner
	store  workflow.Store
	logger *slog.Logger
}

// NewExecutor creates an Executor around the given runner.
func NewExecutor(runner *workflow.Runner, store workflow.Store, logger *slog.Logger) *Executor {
	return &Executor{
		runner: runner,
		store:  store,
		logger: logger,
	}
}

// Runner returns the underlying workflow runner.
func (e *Executor) Runner() *workflow.Runner { return e.runner }

// Execute drives one claimed run to its next rest state (completed,
// failed, or suspended). The returned error reports execution failures
// for logging; the authoritative outcome is the persisted run status.
func (e *Executor) Execute(ctx context.Context, run *workflow.Run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = e.failPanicked(ctx, run, rec)
		}
	}()

	return e.runner.ExecuteClaimed(ctx, run)
}

// failPanicked persists the run as failed after a panic escaped the
// handler. Checkpoints are left intact so a retriggered run can still
// replay past completed steps.
func (e *Executor) failPanicked(ctx context.Context, run *workflow.Run, rec any) error {
	e.logger.Error("workflow handler panicked",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.Name),
		slog.Any("panic", rec),
		slog.String("stack", string(debug.Stack())),
	)

	now := time.Now().UTC()
	run.Status = workflow.StatusFailed
	run.Error = fmt.Sprintf("panic: %v", rec)
	run.CompletedAt = &now
	run.ClearClaim()
	run.Touch()

	if updateErr := e.store.UpdateRun(ctx, run); updateErr != nil {
		e.logger.Error("failed to persist panicked run",
			slog.String("run_id", run.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	return fmt.Errorf("workflow %q run %s: panic: %v", run.Name, run.ID, rec)
}
