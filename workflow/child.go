package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ── Child Workflow Composition ──────────────────────

// SpawnChild starts a child workflow run linked to this run by
// ParentRunID and returns the child's run ID. The child executes
// independently on the pool; use the store's GetRun or ListChildRuns
// to observe it. The child run ID is checkpointed, so replay returns
// the original child instead of spawning a second one.
func SpawnChild[T any](w *Workflow, name string, input T) (id.RunID, error) {
	stepName := "spawn:" + name

	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, stepName)
	if err != nil {
		return id.Nil, fmt.Errorf("workflow %s: get spawn checkpoint %q: %w", w.run.Name, name, err)
	}
	if data != nil {
		runID, parseErr := id.ParseRunID(string(data))
		if parseErr != nil {
			return id.Nil, fmt.Errorf("workflow %s: decode spawn checkpoint %q: %w", w.run.Name, name, parseErr)
		}
		w.logger.Debug("replaying checkpointed spawn",
			slog.String("run_id", w.run.ID.String()),
			slog.String("child", name),
			slog.String("child_run_id", runID.String()),
		)
		return runID, nil
	}

	if w.childStarter == nil {
		return id.Nil, fmt.Errorf("workflow %s: child starter not configured", w.run.Name)
	}

	inputData, err := w.codec.Marshal(input)
	if err != nil {
		return id.Nil, fmt.Errorf("workflow %s: encode spawn input %q: %w", w.run.Name, name, err)
	}

	childRun, err := w.childStarter.SpawnChildRaw(w.ctx, w.run.ID, name, inputData)
	if err != nil {
		return id.Nil, fmt.Errorf("workflow %s spawn %q: %w", w.run.Name, name, err)
	}

	if err := w.store.SaveCheckpoint(w.ctx, w.run.ID, stepName, []byte(childRun.ID.String())); err != nil {
		return id.Nil, fmt.Errorf("workflow %s: save spawn checkpoint %q: %w", w.run.Name, name, err)
	}

	return childRun.ID, nil
}

// ChildRuns returns this run's children, oldest first.
func (w *Workflow) ChildRuns(ctx context.Context) ([]*Run, error) {
	return w.store.ListChildRuns(ctx, w.run.ID)
}
