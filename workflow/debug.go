package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// TimelineEntry is one row in a run's debug timeline: a committed
// checkpoint or an audit event, interleaved chronologically.
type TimelineEntry struct {
	// Kind is "checkpoint" or "event".
	Kind string `json:"kind"`
	// Name is the step name for checkpoints, the event type for events.
	Name      string    `json:"name"`
	HookToken string    `json:"hook_token,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Timeline kinds.
const (
	TimelineCheckpoint = "checkpoint"
	TimelineEvent      = "event"
)

// Timeline returns a run's execution history: every checkpoint and
// every audit event, merged and sorted by creation time. Checkpoint
// data is the codec-encoded step result; event data is JSON.
func (r *Runner) Timeline(ctx context.Context, runID id.RunID) ([]TimelineEntry, error) {
	checkpoints, err := r.store.ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for run %s: %w", runID, err)
	}

	entries := make([]TimelineEntry, 0, len(checkpoints))
	for _, cp := range checkpoints {
		entries = append(entries, TimelineEntry{
			Kind:      TimelineCheckpoint,
			Name:      cp.StepName,
			Data:      cp.Data,
			CreatedAt: cp.CreatedAt,
		})
	}

	if r.events != nil {
		evts, err := r.events.List(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("list events for run %s: %w", runID, err)
		}
		for _, evt := range evts {
			entries = append(entries, TimelineEntry{
				Kind:      TimelineEvent,
				Name:      string(evt.Type),
				HookToken: evt.HookToken,
				Data:      evt.Payload,
				CreatedAt: evt.CreatedAt,
			})
		}
	}

	// Events sort after checkpoints at equal timestamps: the checkpoint
	// commit precedes its completion event.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Kind == TimelineCheckpoint && entries[j].Kind == TimelineEvent
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}

// InspectStep returns the raw committed checkpoint for one step,
// allowing the stored result to be decoded and examined.
func (r *Runner) InspectStep(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	data, err := r.store.GetCheckpoint(ctx, runID, stepName)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %q for run %s: %w", stepName, runID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("no checkpoint %q for run %s", stepName, runID)
	}
	return data, nil
}

// ReplayFrom rewinds a run to just before the named step: the step's
// checkpoint and every later one are deleted, the run resets to
// pending, and the pool re-executes it. Earlier checkpoints replay as
// usual; the named step and everything after run live again.
func (r *Runner) ReplayFrom(ctx context.Context, runID id.RunID, fromStep string) (*Run, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	data, err := r.store.GetCheckpoint(ctx, runID, fromStep)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %q for run %s: %w", fromStep, runID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("no checkpoint %q for run %s", fromStep, runID)
	}

	if err := r.store.DeleteCheckpointsFrom(ctx, runID, fromStep); err != nil {
		return nil, fmt.Errorf("delete checkpoints from %q for run %s: %w", fromStep, runID, err)
	}

	run.Status = StatusPending
	run.Error = ""
	run.CompletedAt = nil
	run.AwaitToken = ""
	run.WakeAt = nil
	run.ClearClaim()
	run.Touch()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("reset run %s for replay: %w", runID, err)
	}

	r.wake()
	return run, nil
}

// Retrigger starts a fresh run with the same workflow, version pinning,
// and input as a failed run. The failed run and its partial checkpoint
// stay behind for audit; the new run starts from scratch. Only failed
// runs can be retriggered.
func (r *Runner) Retrigger(ctx context.Context, runID id.RunID) (*Run, error) {
	failed, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if failed.Status != StatusFailed {
		return nil, fmt.Errorf("run %s is %s: %w", runID, failed.Status, orchestration.ErrRunNotResumable)
	}

	fresh, err := r.StartRaw(ctx, failed.Name, failed.Input)
	if err != nil {
		return nil, err
	}

	appendRunEvent(ctx, r.events, r.logger, failed, event.TypeRunRetriggered, "", "", map[string]any{
		"new_run_id": fresh.ID.String(),
	})
	return fresh, nil
}
