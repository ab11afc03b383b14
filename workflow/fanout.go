package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work dispatched by FanOut. Each task is an
// independent step with its own retry/backoff/timeout policy.
type Task struct {
	// Name identifies the task inside the group; it becomes part of
	// the task's checkpoint key and the Worker field of its result.
	Name string
	// Fn is the task body. Its return value is codec-encoded into
	// TaskResult.Output.
	Fn func(ctx context.Context) (any, error)
	// Opts overrides the default step policy for this task.
	Opts []StepOption
}

// TaskResult is the outcome of one fan-out task. A failed task reports
// its error here instead of aborting the group; the consolidation step
// decides whether degraded data is fatal. Ownership of the result
// vector passes to the consolidation step's input.
type TaskResult struct {
	// Worker is the task name the result belongs to.
	Worker string `json:"worker"`
	// Output is the codec-encoded task return value. Decode it with
	// Workflow.Decode.
	Output []byte `json:"output,omitempty"`
	// Err is empty on success and carries the terminal task error
	// otherwise.
	Err string `json:"err,omitempty"`
}

// OK reports whether the task succeeded.
func (r TaskResult) OK() bool { return r.Err == "" }

// FanOut dispatches all tasks concurrently and joins on every one of
// them. Each task executes as its own checkpointed step
// ("<name>:task:<i>:<taskName>") under its own retry policy; sibling
// failures do not cancel in-flight tasks and are reported inside the
// corresponding TaskResult. The group checkpoint ("fanout:<name>")
// commits the whole result vector, so replay returns it without
// re-dispatching.
//
// The returned slice is dispatch-ordered: results[i] belongs to
// tasks[i] regardless of completion order.
func FanOut(w *Workflow, name string, tasks ...Task) ([]TaskResult, error) {
	groupKey := "fanout:" + name

	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, groupKey)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: get fanout checkpoint %q: %w", w.run.Name, name, err)
	}
	if data != nil {
		var results []TaskResult
		if decErr := w.codec.Unmarshal(data, &results); decErr != nil {
			return nil, fmt.Errorf("workflow %s: decode fanout checkpoint %q: %w", w.run.Name, name, decErr)
		}
		w.logger.Debug("replaying checkpointed fanout group",
			slog.String("run_id", w.run.ID.String()),
			slog.String("group", name),
		)
		return results, nil
	}

	results := make([]TaskResult, len(tasks))
	g, gctx := errgroup.WithContext(w.ctx)

	for i, task := range tasks {
		idx := i
		t := task
		stepName := fmt.Sprintf("%s:task:%d:%s", name, idx, t.Name)
		g.Go(func() error {
			out, stepErr := w.executeStep(gctx, stepName, w.resolveStepOptions(t.Opts...), t.Fn)
			results[idx] = TaskResult{Worker: t.Name}
			if stepErr != nil {
				results[idx].Err = stepErr.Error()
				return nil
			}
			results[idx].Output = out
			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		return nil, fmt.Errorf("workflow %s fanout %q: %w", w.run.Name, name, waitErr)
	}

	// A cancelled run context converts in-flight tasks to errors. Those
	// results describe the shutdown, not the sources, so they must not
	// become the durable group outcome; redelivery re-dispatches instead.
	if ctxErr := w.ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("workflow %s fanout %q: %w", w.run.Name, name, ctxErr)
	}

	enc, encErr := w.codec.Marshal(results)
	if encErr != nil {
		return nil, fmt.Errorf("workflow %s: encode fanout checkpoint %q: %w", w.run.Name, name, encErr)
	}
	if saveErr := w.store.SaveCheckpoint(w.ctx, w.run.ID, groupKey, enc); saveErr != nil {
		return nil, fmt.Errorf("workflow %s: save fanout checkpoint %q: %w", w.run.Name, name, saveErr)
	}

	return results, nil
}
