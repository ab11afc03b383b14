package workflow_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ── Fan-Out ─────────────────────────────────────────

type findingOutput struct {
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

func TestFanOut_CollectsAllResults(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var results []workflow.TaskResult
	var decoded []findingOutput
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("gather-wf", func(wf *workflow.Workflow, _ struct{}) error {
		// Sleeps invert completion order: the first dispatch finishes
		// last, so completion-ordered results would come back reversed.
		r, err := workflow.FanOut(wf, "gather",
			workflow.Task{Name: "legal", Fn: func(_ context.Context) (any, error) {
				time.Sleep(40 * time.Millisecond)
				return findingOutput{Source: "legal", Confidence: 0.9}, nil
			}},
			workflow.Task{Name: "web", Fn: func(_ context.Context) (any, error) {
				time.Sleep(20 * time.Millisecond)
				return findingOutput{Source: "web", Confidence: 0.7}, nil
			}},
			workflow.Task{Name: "registry", Fn: func(_ context.Context) (any, error) {
				return findingOutput{Source: "registry", Confidence: 0.95}, nil
			}},
		)
		if err != nil {
			return err
		}
		results = r
		for _, tr := range r {
			var f findingOutput
			if decErr := wf.Decode(tr.Output, &f); decErr != nil {
				return decErr
			}
			decoded = append(decoded, f)
		}
		return nil
	}))

	run := startRun(t, runner, "gather-wf", struct{}{})
	done := executeRun(t, runner, run.ID)

	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed, error = %q", done.Status, done.Error)
	}
	if len(results) != 3 {
		t.Fatalf("results len = %d, want 3", len(results))
	}

	// Results are dispatch-ordered regardless of completion order.
	wantWorkers := []string{"legal", "web", "registry"}
	for i, tr := range results {
		if tr.Worker != wantWorkers[i] {
			t.Errorf("results[%d].Worker = %q, want %q", i, tr.Worker, wantWorkers[i])
		}
		if !tr.OK() {
			t.Errorf("results[%d].Err = %q, want success", i, tr.Err)
		}
	}
	if decoded[2].Confidence != 0.95 {
		t.Errorf("registry confidence = %v, want 0.95", decoded[2].Confidence)
	}
}

func TestFanOut_TaskFailureIsIsolated(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var results []workflow.TaskResult
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("degraded-wf", func(wf *workflow.Workflow, _ struct{}) error {
		r, err := workflow.FanOut(wf, "gather",
			workflow.Task{Name: "ok-1", Fn: func(_ context.Context) (any, error) {
				return "fine", nil
			}},
			workflow.Task{Name: "broken", Fn: func(_ context.Context) (any, error) {
				return nil, orchestration.Fatalf("source unreachable")
			}},
			workflow.Task{Name: "ok-2", Fn: func(_ context.Context) (any, error) {
				return "also fine", nil
			}},
		)
		if err != nil {
			return err
		}
		results = r
		return nil
	}))

	run := startRun(t, runner, "degraded-wf", struct{}{})
	done := executeRun(t, runner, run.ID)

	// One failed source degrades the data; it does not abort the group.
	// The consolidation step decides what degraded data means.
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed, error = %q", done.Status, done.Error)
	}
	if len(results) != 3 {
		t.Fatalf("results len = %d, want 3", len(results))
	}
	if !results[0].OK() || !results[2].OK() {
		t.Errorf("sibling results affected by failure: %q / %q", results[0].Err, results[2].Err)
	}
	if results[1].OK() {
		t.Fatal("expected the broken task to report its error")
	}
	if !strings.Contains(results[1].Err, "source unreachable") {
		t.Errorf("results[1].Err = %q, want the task error", results[1].Err)
	}
}

func TestFanOut_ReplaySkipsTasks(t *testing.T) {
	runner, reg, s := newTestRunner()

	var taskCalls atomic.Int32
	var secondValue int
	var resultCount int
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("fanout-replay", func(wf *workflow.Workflow, _ struct{}) error {
		r, err := workflow.FanOut(wf, "gather",
			workflow.Task{Name: "a", Fn: func(_ context.Context) (any, error) {
				taskCalls.Add(1)
				return 1, nil
			}},
			workflow.Task{Name: "b", Fn: func(_ context.Context) (any, error) {
				taskCalls.Add(1)
				return 2, nil
			}},
		)
		if err != nil {
			return err
		}
		resultCount = len(r)
		return wf.Decode(r[1].Output, &secondValue)
	}))

	run := startRun(t, runner, "fanout-replay", struct{}{})
	done := executeRun(t, runner, run.ID)
	if taskCalls.Load() != 2 {
		t.Fatalf("taskCalls = %d, want 2", taskCalls.Load())
	}

	// Replay returns the committed result vector without re-dispatching.
	taskCalls.Store(0)
	secondValue = 0
	resultCount = 0
	markRunning(t, s, done)
	executeRun(t, runner, run.ID)

	if taskCalls.Load() != 0 {
		t.Errorf("taskCalls after replay = %d, want 0", taskCalls.Load())
	}
	if resultCount != 2 {
		t.Fatalf("replayed results len = %d, want 2", resultCount)
	}
	if secondValue != 2 {
		t.Errorf("replayed results[1] = %d, want 2", secondValue)
	}
}

func TestFanOut_CancelledRunSkipsGroupCheckpoint(t *testing.T) {
	runner, reg, s := newTestRunner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("shutdown-wf", func(wf *workflow.Workflow, _ struct{}) error {
		_, err := workflow.FanOut(wf, "gather",
			workflow.Task{Name: "fast", Fn: func(_ context.Context) (any, error) {
				return "done", nil
			}},
			workflow.Task{Name: "interrupted", Fn: func(tctx context.Context) (any, error) {
				cancel()
				<-tctx.Done()
				return nil, orchestration.Fatal(tctx.Err())
			}},
		)
		return err
	}))

	run := startRun(t, runner, "shutdown-wf", struct{}{})
	claimed, err := runner.Store().GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if execErr := runner.ExecuteClaimed(ctx, claimed); execErr == nil {
		t.Fatal("expected the cancelled fan-out to surface an error")
	}

	// Results shaped by the shutdown never become the durable group
	// outcome; redelivery re-dispatches the tasks instead.
	data, err := s.GetCheckpoint(context.Background(), run.ID, "fanout:gather")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if data != nil {
		t.Fatal("group checkpoint committed for a cancelled run")
	}
}

// ── Child Workflows ─────────────────────────────────

func TestSpawnChild_LinksParent(t *testing.T) {
	runner, reg, s := newTestRunner()

	var childInput string
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("child-wf", func(_ *workflow.Workflow, input string) error {
		childInput = input
		return nil
	}))

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("parent-wf", func(wf *workflow.Workflow, _ struct{}) error {
		_, err := workflow.SpawnChild(wf, "child-wf", "hello child")
		return err
	}))

	parent := startRun(t, runner, "parent-wf", struct{}{})
	doneParent := executeRun(t, runner, parent.ID)
	if doneParent.Status != workflow.StatusCompleted {
		t.Fatalf("parent status = %q, want completed, error = %q", doneParent.Status, doneParent.Error)
	}

	// The child is persisted pending; the pool picks it up separately.
	children, err := s.ListChildRuns(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("ListChildRuns: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("children = %d, want 1", len(children))
	}
	child := children[0]
	if child.Status != workflow.StatusPending {
		t.Errorf("child status = %q, want pending", child.Status)
	}
	if child.ParentRunID == nil || child.ParentRunID.String() != parent.ID.String() {
		t.Errorf("child.ParentRunID = %v, want %s", child.ParentRunID, parent.ID)
	}

	doneChild := executeRun(t, runner, child.ID)
	if doneChild.Status != workflow.StatusCompleted {
		t.Fatalf("child status = %q, want completed, error = %q", doneChild.Status, doneChild.Error)
	}
	if childInput != "hello child" {
		t.Errorf("child input = %q, want %q", childInput, "hello child")
	}
}

func TestSpawnChild_ReplayReturnsSameChild(t *testing.T) {
	runner, reg, s := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("cheap-child", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	var spawnedID string
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("spawn-once", func(wf *workflow.Workflow, _ struct{}) error {
		childID, err := workflow.SpawnChild(wf, "cheap-child", struct{}{})
		if err != nil {
			return err
		}
		spawnedID = childID.String()
		return nil
	}))

	parent := startRun(t, runner, "spawn-once", struct{}{})
	done := executeRun(t, runner, parent.ID)
	first := spawnedID

	// Replay must not spawn a second child: the child run ID is
	// checkpointed on the first pass.
	spawnedID = ""
	markRunning(t, s, done)
	executeRun(t, runner, parent.ID)

	if spawnedID != first {
		t.Errorf("spawned ID after replay = %q, want %q", spawnedID, first)
	}
	children, err := s.ListChildRuns(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("ListChildRuns: %v", err)
	}
	if len(children) != 1 {
		t.Errorf("children after replay = %d, want 1", len(children))
	}
}

func TestSpawnChild_UnknownWorkflowFails(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("bad-parent", func(wf *workflow.Workflow, _ struct{}) error {
		_, err := workflow.SpawnChild(wf, "never-registered", struct{}{})
		return err
	}))

	run := startRun(t, runner, "bad-parent", struct{}{})
	done := executeRun(t, runner, run.ID)

	if done.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if !strings.Contains(done.Error, "workflow not found") {
		t.Errorf("error = %q, want workflow-not-found", done.Error)
	}
}
