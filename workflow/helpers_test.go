package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/store/memory"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// noopEmitter implements workflow.RunEmitter with no-ops.
type noopEmitter struct{}

func (noopEmitter) EmitStepCompleted(_ context.Context, _ *workflow.Run, _ string, _ time.Duration) {
}
func (noopEmitter) EmitStepRetried(_ context.Context, _ *workflow.Run, _ string, _ int, _ time.Duration) {
}
func (noopEmitter) EmitStepFailed(_ context.Context, _ *workflow.Run, _ string, _ error)  {}
func (noopEmitter) EmitHookCreated(_ context.Context, _ *workflow.Run, _ *hook.Hook)      {}
func (noopEmitter) EmitHookResolved(_ context.Context, _ *workflow.Run, _ *hook.Hook)     {}
func (noopEmitter) EmitHookExpired(_ context.Context, _ *workflow.Run, _ *hook.Hook)      {}
func (noopEmitter) EmitRunStarted(_ context.Context, _ *workflow.Run)                     {}
func (noopEmitter) EmitRunSuspended(_ context.Context, _ *workflow.Run)                   {}
func (noopEmitter) EmitRunResumed(_ context.Context, _ *workflow.Run)                     {}
func (noopEmitter) EmitRunCompleted(_ context.Context, _ *workflow.Run, _ time.Duration)  {}
func (noopEmitter) EmitRunFailed(_ context.Context, _ *workflow.Run, _ error)             {}

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRunnerWithStore creates a runner using an explicit store.
func newTestRunnerWithStore(s *memory.Store) (*workflow.Runner, *workflow.Registry) {
	reg := workflow.NewRegistry()
	runner := workflow.NewRunner(reg, s, s, event.NewLog(s),
		workflow.WithLogger(testLogger()),
	)
	return runner, reg
}

// newTestRunner creates a runner backed by a fresh memory store.
func newTestRunner() (*workflow.Runner, *workflow.Registry, *memory.Store) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s)
	return runner, reg, s
}

// executeRun drives one claim of a run the way the pool would: fetch it,
// execute the handler, and return the run as persisted afterwards. The
// handler's error surfaces through the run status, so tests assert on that.
func executeRun(t *testing.T, runner *workflow.Runner, runID id.RunID) *workflow.Run {
	t.Helper()

	run, err := runner.Store().GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	_ = runner.ExecuteClaimed(context.Background(), run)

	updated, err := runner.Store().GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun after execute: %v", err)
	}
	return updated
}

// startRun starts a run and fails the test on error.
func startRun[T any](t *testing.T, runner *workflow.Runner, name string, input T) *workflow.Run {
	t.Helper()

	run, err := workflow.Start(context.Background(), runner, name, input)
	if err != nil {
		t.Fatalf("Start %q: %v", name, err)
	}
	return run
}

// markRunning rewinds a run to running with no completion timestamp,
// simulating a worker crash after the last checkpoint commit.
func markRunning(t *testing.T, s *memory.Store, run *workflow.Run) {
	t.Helper()

	run.Status = workflow.StatusRunning
	run.CompletedAt = nil
	if err := s.UpdateRun(context.Background(), run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
}
