package workflow_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/scope"
	"github.com/bcorn-cely/Agent-Orchestration/store/memory"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

type orderInput struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

// wakeSpy counts pool wake signals.
type wakeSpy struct {
	count atomic.Int32
}

func (w *wakeSpy) Wake() { w.count.Add(1) }

func TestRunner_StartReturnsPending(t *testing.T) {
	runner, reg, s := newTestRunner()

	var handlerCalls atomic.Int32
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("order-wf", func(_ *workflow.Workflow, _ orderInput) error {
		handlerCalls.Add(1)
		return nil
	}))

	run := startRun(t, runner, "order-wf", orderInput{OrderID: "ord_99", Amount: 500})

	// Start persists the run; it never executes the handler inline.
	if run.Status != workflow.StatusPending {
		t.Errorf("status = %q, want %q", run.Status, workflow.StatusPending)
	}
	if run.StartedAt != nil {
		t.Error("expected StartedAt to be unset before execution")
	}
	if handlerCalls.Load() != 0 {
		t.Errorf("handler calls = %d, want 0 before execution", handlerCalls.Load())
	}

	stored, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != workflow.StatusPending {
		t.Errorf("stored status = %q, want %q", stored.Status, workflow.StatusPending)
	}
	if stored.Version != 1 {
		t.Errorf("stored version = %d, want 1", stored.Version)
	}
}

func TestRunner_ExecuteCompletesRun(t *testing.T) {
	runner, reg, s := newTestRunner()

	var gotInput orderInput
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("order-wf", func(wf *workflow.Workflow, input orderInput) error {
		gotInput = input
		return wf.SetOutput(map[string]any{"charged": input.Amount})
	}))

	run := startRun(t, runner, "order-wf", orderInput{OrderID: "ord_99", Amount: 500})
	done := executeRun(t, runner, run.ID)

	if done.Status != workflow.StatusCompleted {
		t.Errorf("status = %q, want %q, error = %q", done.Status, workflow.StatusCompleted, done.Error)
	}
	if done.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if done.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}
	if gotInput.OrderID != "ord_99" {
		t.Errorf("OrderID = %q, want %q", gotInput.OrderID, "ord_99")
	}
	if len(done.Output) == 0 {
		t.Error("expected run output to be persisted")
	}

	stored, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != workflow.StatusCompleted {
		t.Errorf("stored status = %q, want %q", stored.Status, workflow.StatusCompleted)
	}
}

func TestRunner_ExecuteFailsRun(t *testing.T) {
	runner, reg, s := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("fail-wf", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("explode", func(_ context.Context) error {
			return orchestration.Fatalf("intentional failure")
		}, workflow.WithMaxRetries(1))
	}))

	run := startRun(t, runner, "fail-wf", struct{}{})
	done := executeRun(t, runner, run.ID)

	if done.Status != workflow.StatusFailed {
		t.Errorf("status = %q, want %q", done.Status, workflow.StatusFailed)
	}
	if !strings.Contains(done.Error, "intentional failure") {
		t.Errorf("run error = %q, want it to mention the cause", done.Error)
	}
	if done.CompletedAt == nil {
		t.Error("expected CompletedAt on failed run")
	}

	stored, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != workflow.StatusFailed {
		t.Errorf("stored status = %q, want %q", stored.Status, workflow.StatusFailed)
	}
}

func TestRunner_StartUnknownWorkflow(t *testing.T) {
	runner, _, _ := newTestRunner()

	_, err := workflow.Start(context.Background(), runner, "nonexistent", struct{}{})
	if err == nil {
		t.Fatal("expected error for unknown workflow")
	}
}

func TestRunner_ReplayAfterCrash(t *testing.T) {
	runner, reg, s := newTestRunner()

	var step1Calls, step2Calls atomic.Int32
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("replay-wf", func(wf *workflow.Workflow, _ struct{}) error {
		if stepErr := wf.Step("step-1", func(_ context.Context) error {
			step1Calls.Add(1)
			return nil
		}); stepErr != nil {
			return stepErr
		}
		return wf.Step("step-2", func(_ context.Context) error {
			step2Calls.Add(1)
			return nil
		})
	}))

	run := startRun(t, runner, "replay-wf", struct{}{})

	// First claim: both steps execute.
	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed, error = %q", done.Status, done.Error)
	}
	if step1Calls.Load() != 1 || step2Calls.Load() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", step1Calls.Load(), step2Calls.Load())
	}

	// Simulate a crash after the last checkpoint and re-execute:
	// both steps replay from their checkpoints without re-invoking.
	step1Calls.Store(0)
	step2Calls.Store(0)
	markRunning(t, s, done)

	replayed := executeRun(t, runner, run.ID)
	if replayed.Status != workflow.StatusCompleted {
		t.Fatalf("replayed status = %q, want completed", replayed.Status)
	}
	if step1Calls.Load() != 0 {
		t.Errorf("step1 calls after replay = %d, want 0 (checkpointed)", step1Calls.Load())
	}
	if step2Calls.Load() != 0 {
		t.Errorf("step2 calls after replay = %d, want 0 (checkpointed)", step2Calls.Load())
	}
}

func TestRunner_ScopeCapturedAndRestored(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var seenAppID, seenOrgID string
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("scoped-wf", func(wf *workflow.Workflow, _ struct{}) error {
		seenAppID, seenOrgID = scope.Capture(wf.Context())
		return nil
	}))

	ctx := scope.WithScope(context.Background(), scope.Scope{AppID: "app_1", OrgID: "org_7"})
	run, err := workflow.Start(ctx, runner, "scoped-wf", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if run.ScopeAppID != "app_1" || run.ScopeOrgID != "org_7" {
		t.Errorf("run scope = %q/%q, want app_1/org_7", run.ScopeAppID, run.ScopeOrgID)
	}

	// Execution restores the captured scope even without ambient context.
	executeRun(t, runner, run.ID)
	if seenAppID != "app_1" || seenOrgID != "org_7" {
		t.Errorf("handler scope = %q/%q, want app_1/org_7", seenAppID, seenOrgID)
	}
}

func TestRunner_StartWakesPool(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	spy := &wakeSpy{}
	runner := workflow.NewRunner(reg, s, s, event.NewLog(s),
		workflow.WithLogger(testLogger()),
		workflow.WithWaker(spy),
	)

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("wake-wf", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	startRun(t, runner, "wake-wf", struct{}{})

	if spy.count.Load() != 1 {
		t.Errorf("wake count = %d, want 1", spy.count.Load())
	}
}
