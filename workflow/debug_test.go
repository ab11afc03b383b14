package workflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ── Time-Travel Debugging ───────────────────────────

func TestTimeline_InterleavesCheckpointsAndEvents(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("timeline-wf", func(wf *workflow.Workflow, _ struct{}) error {
		if err := wf.Step("step-a", func(_ context.Context) error { return nil }); err != nil {
			return err
		}
		if err := wf.Step("step-b", func(_ context.Context) error { return nil }); err != nil {
			return err
		}
		return wf.Step("step-c", func(_ context.Context) error { return nil })
	}))

	run := startRun(t, runner, "timeline-wf", struct{}{})
	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed", done.Status)
	}

	timeline, tlErr := runner.Timeline(context.Background(), run.ID)
	if tlErr != nil {
		t.Fatalf("Timeline: %v", tlErr)
	}

	// 3 checkpoints plus the audit trail: run.started, three
	// step.completed, run.completed.
	var checkpoints, events []string
	for _, entry := range timeline {
		switch entry.Kind {
		case workflow.TimelineCheckpoint:
			checkpoints = append(checkpoints, entry.Name)
		case workflow.TimelineEvent:
			events = append(events, entry.Name)
		default:
			t.Errorf("unexpected timeline kind %q", entry.Kind)
		}
		if entry.CreatedAt.IsZero() {
			t.Errorf("timeline entry %q has zero CreatedAt", entry.Name)
		}
	}

	wantCheckpoints := []string{"step-a", "step-b", "step-c"}
	if len(checkpoints) != len(wantCheckpoints) {
		t.Fatalf("checkpoint entries = %v, want %v", checkpoints, wantCheckpoints)
	}
	for i, name := range wantCheckpoints {
		if checkpoints[i] != name {
			t.Errorf("checkpoints[%d] = %q, want %q", i, checkpoints[i], name)
		}
	}

	if len(events) != 5 {
		t.Fatalf("event entries = %d, want 5: %v", len(events), events)
	}
	if events[0] != string(event.TypeRunStarted) {
		t.Errorf("events[0] = %q, want %q", events[0], event.TypeRunStarted)
	}
	if events[len(events)-1] != string(event.TypeRunCompleted) {
		t.Errorf("last event = %q, want %q", events[len(events)-1], event.TypeRunCompleted)
	}

	// Entries are chronological.
	for i := 1; i < len(timeline); i++ {
		if timeline[i].CreatedAt.Before(timeline[i-1].CreatedAt) {
			t.Errorf("timeline[%d] (%v) is before timeline[%d] (%v)",
				i, timeline[i].CreatedAt, i-1, timeline[i-1].CreatedAt)
		}
	}
}

func TestInspectStep_ReturnsCheckpointData(t *testing.T) {
	runner, reg, _ := newTestRunner()

	type computeResult struct {
		Score int    `json:"score"`
		Label string `json:"label"`
	}

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("inspect-wf", func(wf *workflow.Workflow, _ struct{}) error {
		_, err := workflow.StepResult(wf, "compute", func(_ context.Context) (computeResult, error) {
			return computeResult{Score: 100, Label: "perfect"}, nil
		})
		return err
	}))

	run := startRun(t, runner, "inspect-wf", struct{}{})
	executeRun(t, runner, run.ID)

	data, inspErr := runner.InspectStep(context.Background(), run.ID, "compute")
	if inspErr != nil {
		t.Fatalf("InspectStep: %v", inspErr)
	}
	if data == nil {
		t.Fatal("expected non-nil checkpoint data")
	}

	var result computeResult
	if decErr := json.Unmarshal(data, &result); decErr != nil {
		t.Fatalf("decode checkpoint: %v", decErr)
	}
	if result.Score != 100 {
		t.Errorf("Score = %d, want 100", result.Score)
	}
	if result.Label != "perfect" {
		t.Errorf("Label = %q, want %q", result.Label, "perfect")
	}
}

func TestInspectStep_NotFound(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("inspect-missing", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	run := startRun(t, runner, "inspect-missing", struct{}{})
	executeRun(t, runner, run.ID)

	_, inspErr := runner.InspectStep(context.Background(), run.ID, "nonexistent")
	if inspErr == nil {
		t.Fatal("expected error for missing step")
	}
}

func TestReplayFrom_RewindsToNamedStep(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var step1Calls, step2Calls, step3Calls atomic.Int32
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("replay-wf", func(wf *workflow.Workflow, _ struct{}) error {
		if err := wf.Step("step-1", func(_ context.Context) error { step1Calls.Add(1); return nil }); err != nil {
			return err
		}
		if err := wf.Step("step-2", func(_ context.Context) error { step2Calls.Add(1); return nil }); err != nil {
			return err
		}
		return wf.Step("step-3", func(_ context.Context) error { step3Calls.Add(1); return nil })
	}))

	run := startRun(t, runner, "replay-wf", struct{}{})
	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed", done.Status)
	}
	if step1Calls.Load() != 1 || step2Calls.Load() != 1 || step3Calls.Load() != 1 {
		t.Fatalf("initial: s1=%d s2=%d s3=%d, want 1/1/1", step1Calls.Load(), step2Calls.Load(), step3Calls.Load())
	}

	step1Calls.Store(0)
	step2Calls.Store(0)
	step3Calls.Store(0)

	// Rewind to just before step-2: its checkpoint and step-3's are
	// deleted, step-1's survives, and the run goes back to pending.
	rewound, replayErr := runner.ReplayFrom(context.Background(), run.ID, "step-2")
	if replayErr != nil {
		t.Fatalf("ReplayFrom: %v", replayErr)
	}
	if rewound.Status != workflow.StatusPending {
		t.Fatalf("rewound status = %q, want pending", rewound.Status)
	}

	replayed := executeRun(t, runner, run.ID)

	if step1Calls.Load() != 0 {
		t.Errorf("step1 after replay = %d, want 0 (checkpoint preserved)", step1Calls.Load())
	}
	if step2Calls.Load() != 1 {
		t.Errorf("step2 after replay = %d, want 1 (re-executed)", step2Calls.Load())
	}
	if step3Calls.Load() != 1 {
		t.Errorf("step3 after replay = %d, want 1 (re-executed)", step3Calls.Load())
	}
	if replayed.Status != workflow.StatusCompleted {
		t.Errorf("replayed status = %q, want completed", replayed.Status)
	}
}

func TestReplayFrom_UnknownStep(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("replay-unknown", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("only-step", func(_ context.Context) error { return nil })
	}))

	run := startRun(t, runner, "replay-unknown", struct{}{})
	executeRun(t, runner, run.ID)

	if _, err := runner.ReplayFrom(context.Background(), run.ID, "never-ran"); err == nil {
		t.Fatal("expected error replaying from a step with no checkpoint")
	}
}

// ── Retrigger ───────────────────────────────────────

func TestRetrigger_StartsFreshRunFromFailed(t *testing.T) {
	runner, reg, _ := newTestRunner()

	type retriggerInput struct {
		Target string `json:"target"`
	}

	var attempts atomic.Int32
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("retrigger-wf", func(wf *workflow.Workflow, in retriggerInput) error {
		return wf.Step("flaky", func(_ context.Context) error {
			if attempts.Add(1) == 1 {
				return orchestration.Fatalf("transient outage for %s", in.Target)
			}
			return nil
		})
	}))

	run := startRun(t, runner, "retrigger-wf", retriggerInput{Target: "acme.com"})
	failed := executeRun(t, runner, run.ID)
	if failed.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want failed", failed.Status)
	}

	fresh, err := runner.Retrigger(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Retrigger: %v", err)
	}
	if fresh.ID == failed.ID {
		t.Fatal("retrigger should mint a new run, not reuse the failed one")
	}
	if fresh.Status != workflow.StatusPending {
		t.Errorf("fresh status = %q, want pending", fresh.Status)
	}
	if fresh.Name != failed.Name {
		t.Errorf("fresh name = %q, want %q", fresh.Name, failed.Name)
	}
	if !bytes.Equal(fresh.Input, failed.Input) {
		t.Errorf("fresh input = %s, want %s", fresh.Input, failed.Input)
	}

	// The fresh run starts from scratch and succeeds this time.
	redone := executeRun(t, runner, fresh.ID)
	if redone.Status != workflow.StatusCompleted {
		t.Errorf("retriggered status = %q, want completed", redone.Status)
	}

	// The failed run keeps its history plus a retrigger marker.
	timeline, tlErr := runner.Timeline(context.Background(), run.ID)
	if tlErr != nil {
		t.Fatalf("Timeline: %v", tlErr)
	}
	var marked bool
	for _, entry := range timeline {
		if entry.Kind == workflow.TimelineEvent && entry.Name == string(event.TypeRunRetriggered) {
			marked = true
		}
	}
	if !marked {
		t.Error("expected run.retriggered event on the failed run")
	}
}

func TestRetrigger_RejectsNonFailedRun(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("retrigger-done", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	run := startRun(t, runner, "retrigger-done", struct{}{})
	executeRun(t, runner, run.ID)

	_, err := runner.Retrigger(context.Background(), run.ID)
	if !errors.Is(err, orchestration.ErrRunNotResumable) {
		t.Fatalf("err = %v, want ErrRunNotResumable", err)
	}
}
