package worker_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/store/memory"
	"github.com/bcorn-cely/Agent-Orchestration/worker"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *workflow.Registry, *workflow.Runner,
) {
	t.Helper()
	s := memory.New()
	reg := workflow.NewRegistry()
	runner := workflow.NewRunner(reg, s, s, event.NewLog(s),
		workflow.WithLogger(testLogger()),
	)

	executor := worker.NewExecutor(runner, s, testLogger())

	all := append([]worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
	}, opts...)
	pool := worker.NewPool(s, executor, testLogger(), all...)
	runner.SetWaker(pool)

	return pool, s, reg, runner
}

// waitForStatus polls the store until the run reaches the wanted status.
func waitForStatus(t *testing.T, s *memory.Store, runID id.RunID, want workflow.Status) *workflow.Run {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		run, err := s.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status == want {
			return run
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %q, run is %q", want, run.Status)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ExecutesPendingRun(t *testing.T) {
	pool, s, reg, runner := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("greet",
		func(wf *workflow.Workflow, input struct{ Name string }) error {
			if input.Name != "Alice" {
				t.Errorf("input.Name = %q, want %q", input.Name, "Alice")
			}
			return wf.Step("record", func(_ context.Context) error {
				processed.Store(true)
				return nil
			})
		}))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	run, err := workflow.Start(context.Background(), runner, "greet", struct{ Name string }{Name: "Alice"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := waitForStatus(t, s, run.ID, workflow.StatusCompleted)
	if !processed.Load() {
		t.Error("expected the step to have executed")
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if !got.WorkerID.IsNil() {
		t.Error("expected claim to be cleared on completion")
	}
}

func TestPool_FailedRunPersisted(t *testing.T) {
	pool, s, reg, runner := setupTestPool(t, 1, 10*time.Millisecond)

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("doomed",
		func(wf *workflow.Workflow, _ struct{}) error {
			return wf.Step("explode", func(_ context.Context) error {
				return orchestration.Fatalf("invalid account")
			})
		}))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	run, err := workflow.Start(context.Background(), runner, "doomed", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := waitForStatus(t, s, run.ID, workflow.StatusFailed)
	if got.Error == "" {
		t.Error("expected Error to be set")
	}
	if !strings.Contains(got.Error, "invalid account") {
		t.Errorf("Error = %q, want it to mention the cause", got.Error)
	}
}

func TestPool_PanicOutsideStepFailsRun(t *testing.T) {
	pool, s, reg, runner := setupTestPool(t, 1, 10*time.Millisecond)

	// Panic in orchestration code, outside any step: the executor's
	// recovery path persists the failure instead of killing the worker.
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("panicky",
		func(_ *workflow.Workflow, _ struct{}) error {
			panic("bug in orchestration code")
		}))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	run, err := workflow.Start(context.Background(), runner, "panicky", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := waitForStatus(t, s, run.ID, workflow.StatusFailed)
	if !strings.Contains(got.Error, "panic") {
		t.Errorf("Error = %q, want panic mention", got.Error)
	}

	// The pool must still be operational after the panic.
	var survived atomic.Bool
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("survivor",
		func(wf *workflow.Workflow, _ struct{}) error {
			return wf.Step("noop", func(_ context.Context) error {
				survived.Store(true)
				return nil
			})
		}))
	run2, err := workflow.Start(context.Background(), runner, "survivor", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run2.ID, workflow.StatusCompleted)
	if !survived.Load() {
		t.Error("expected the pool to keep executing runs after a panic")
	}
}

func TestPool_WakeSkipsPollDelay(t *testing.T) {
	// Long poll interval: without Wake the run would sit for 2s.
	pool, s, reg, runner := setupTestPool(t, 1, 2*time.Second)

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("prompt",
		func(wf *workflow.Workflow, _ struct{}) error {
			return wf.Step("noop", func(_ context.Context) error { return nil })
		}))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	started := time.Now()
	run, err := workflow.Start(context.Background(), runner, "prompt", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForStatus(t, s, run.ID, workflow.StatusCompleted)
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("run took %s, want well under the 2s poll interval", elapsed)
	}
}

// denyGate blocks one workflow name and admits everything else.
type denyGate struct {
	blocked string
	denied  atomic.Int64
}

func (g *denyGate) Acquire(wf, _ string) bool {
	if wf == g.blocked {
		g.denied.Add(1)
		return false
	}
	return true
}

func (g *denyGate) Release(_, _ string) {}

func TestPool_GateDefersRun(t *testing.T) {
	gate := &denyGate{blocked: "throttled"}
	pool, s, reg, runner := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithGateManager(gate),
	)

	var executed atomic.Bool
	handler := func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("noop", func(_ context.Context) error {
			executed.Store(true)
			return nil
		})
	}
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("throttled", handler))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("admitted", handler))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	blocked, err := workflow.Start(context.Background(), runner, "throttled", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give the pool a few poll cycles; the blocked run must not execute.
	deadline := time.After(300 * time.Millisecond)
	for gate.denied.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("gate was never consulted")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	got, err := s.GetRun(context.Background(), blocked.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != workflow.StatusPending {
		t.Errorf("blocked run status = %q, want pending", got.Status)
	}
	if executed.Load() {
		t.Error("blocked run must not have executed")
	}

	// A different workflow passes the gate and completes normally.
	admitted, err := workflow.Start(context.Background(), runner, "admitted", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, admitted.ID, workflow.StatusCompleted)
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _, _ := setupTestPool(t, 4, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start polling.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}

func TestPool_ReaperReturnsStaleRuns(t *testing.T) {
	// No workers executing; only the reaper runs.
	pool, s, reg, runner := setupTestPool(t, 0, 10*time.Millisecond,
		worker.WithReapInterval(20*time.Millisecond),
	)

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("stale",
		func(wf *workflow.Workflow, _ struct{}) error {
			return wf.Step("noop", func(_ context.Context) error { return nil })
		}))

	run, err := workflow.Start(context.Background(), runner, "stale", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Simulate a crashed worker: claimed with an already-expired lease.
	past := time.Now().UTC().Add(-time.Minute)
	claimed, err := s.DequeueRuns(context.Background(), id.NewWorkerID(), 1, past, past.Add(time.Second))
	if err != nil || len(claimed) != 1 {
		t.Fatalf("DequeueRuns: %v (%d runs)", err, len(claimed))
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	// The reaper clears the expired claim.
	deadline := time.After(2 * time.Second)
	for {
		got, getErr := s.GetRun(context.Background(), run.ID)
		if getErr != nil {
			t.Fatalf("GetRun: %v", getErr)
		}
		if got.WorkerID.IsNil() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reaper never cleared the stale claim")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
