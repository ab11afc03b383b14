package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/ext"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnRunStarted(_ context.Context, _ *workflow.Run) error {
	e.calls = append(e.calls, "OnRunStarted")
	return nil
}

func (e *allHooksExt) OnRunSuspended(_ context.Context, _ *workflow.Run) error {
	e.calls = append(e.calls, "OnRunSuspended")
	return nil
}

func (e *allHooksExt) OnRunResumed(_ context.Context, _ *workflow.Run) error {
	e.calls = append(e.calls, "OnRunResumed")
	return nil
}

func (e *allHooksExt) OnRunCompleted(_ context.Context, _ *workflow.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunCompleted")
	return nil
}

func (e *allHooksExt) OnRunFailed(_ context.Context, _ *workflow.Run, _ error) error {
	e.calls = append(e.calls, "OnRunFailed")
	return nil
}

func (e *allHooksExt) OnStepCompleted(_ context.Context, _ *workflow.Run, _ string, _ time.Duration) error {
	e.calls = append(e.calls, "OnStepCompleted")
	return nil
}

func (e *allHooksExt) OnStepRetried(_ context.Context, _ *workflow.Run, _ string, _ int, _ time.Duration) error {
	e.calls = append(e.calls, "OnStepRetried")
	return nil
}

func (e *allHooksExt) OnStepFailed(_ context.Context, _ *workflow.Run, _ string, _ error) error {
	e.calls = append(e.calls, "OnStepFailed")
	return nil
}

func (e *allHooksExt) OnHookCreated(_ context.Context, _ *workflow.Run, _ *hook.Hook) error {
	e.calls = append(e.calls, "OnHookCreated")
	return nil
}

func (e *allHooksExt) OnHookResolved(_ context.Context, _ *workflow.Run, _ *hook.Hook) error {
	e.calls = append(e.calls, "OnHookResolved")
	return nil
}

func (e *allHooksExt) OnHookExpired(_ context.Context, _ *workflow.Run, _ *hook.Hook) error {
	e.calls = append(e.calls, "OnHookExpired")
	return nil
}

func (e *allHooksExt) OnScheduleFired(_ context.Context, _ string, _ id.RunID) error {
	e.calls = append(e.calls, "OnScheduleFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// runOnlyExt only implements run-level hooks.
type runOnlyExt struct {
	calls []string
}

func (e *runOnlyExt) Name() string { return "run-only" }

func (e *runOnlyExt) OnRunStarted(_ context.Context, _ *workflow.Run) error {
	e.calls = append(e.calls, "OnRunStarted")
	return nil
}

func (e *runOnlyExt) OnRunCompleted(_ context.Context, _ *workflow.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnRunStarted(_ context.Context, _ *workflow.Run) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	ro := &runOnlyExt{}
	r.Register(all)
	r.Register(ro)

	ctx := context.Background()
	run := &workflow.Run{Name: "test-wf"}

	// Both implement OnRunStarted → both called.
	r.EmitRunStarted(ctx, run)
	if len(all.calls) != 1 || all.calls[0] != "OnRunStarted" {
		t.Fatalf("all: expected [OnRunStarted], got %v", all.calls)
	}
	if len(ro.calls) != 1 || ro.calls[0] != "OnRunStarted" {
		t.Fatalf("ro: expected [OnRunStarted], got %v", ro.calls)
	}

	// Only all implements OnRunSuspended → ro not called.
	r.EmitRunSuspended(ctx, run)
	if len(all.calls) != 2 || all.calls[1] != "OnRunSuspended" {
		t.Fatalf("all: expected OnRunSuspended as 2nd, got %v", all.calls)
	}
	if len(ro.calls) != 1 {
		t.Fatalf("ro: should still have 1 call, got %v", ro.calls)
	}
}

func TestRegistry_AllRunHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	run := &workflow.Run{Name: "test-wf"}

	r.EmitRunStarted(ctx, run)
	r.EmitRunSuspended(ctx, run)
	r.EmitRunResumed(ctx, run)
	r.EmitRunCompleted(ctx, run, time.Second)
	r.EmitRunFailed(ctx, run, errors.New("fail"))

	expected := []string{
		"OnRunStarted", "OnRunSuspended", "OnRunResumed",
		"OnRunCompleted", "OnRunFailed",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_StepAndHookEventsFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	run := &workflow.Run{Name: "test-wf"}
	h := &hook.Hook{Name: "approve"}

	r.EmitStepCompleted(ctx, run, "step1", time.Second)
	r.EmitStepRetried(ctx, run, "step2", 1, time.Second)
	r.EmitStepFailed(ctx, run, "step3", errors.New("step fail"))
	r.EmitHookCreated(ctx, run, h)
	r.EmitHookResolved(ctx, run, h)
	r.EmitHookExpired(ctx, run, h)

	expected := []string{
		"OnStepCompleted", "OnStepRetried", "OnStepFailed",
		"OnHookCreated", "OnHookResolved", "OnHookExpired",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_ScheduleAndShutdownHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitScheduleFired(ctx, "daily-report", id.NewRunID())
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d: %v", len(all.calls), all.calls)
	}
	if all.calls[0] != "OnScheduleFired" {
		t.Errorf("call[0] = %q, want OnScheduleFired", all.calls[0])
	}
	if all.calls[1] != "OnShutdown" {
		t.Errorf("call[1] = %q, want OnShutdown", all.calls[1])
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	run := &workflow.Run{Name: "test-wf"}

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitRunStarted(ctx, run)

	if len(all.calls) != 1 || all.calls[0] != "OnRunStarted" {
		t.Fatalf("all: expected [OnRunStarted] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	// None of these should panic or error.
	r.EmitRunStarted(ctx, &workflow.Run{})
	r.EmitRunSuspended(ctx, &workflow.Run{})
	r.EmitRunResumed(ctx, &workflow.Run{})
	r.EmitRunCompleted(ctx, &workflow.Run{}, time.Second)
	r.EmitRunFailed(ctx, &workflow.Run{}, errors.New("x"))
	r.EmitStepCompleted(ctx, &workflow.Run{}, "s", time.Second)
	r.EmitStepRetried(ctx, &workflow.Run{}, "s", 1, time.Second)
	r.EmitStepFailed(ctx, &workflow.Run{}, "s", errors.New("x"))
	r.EmitHookCreated(ctx, &workflow.Run{}, &hook.Hook{})
	r.EmitHookResolved(ctx, &workflow.Run{}, &hook.Hook{})
	r.EmitHookExpired(ctx, &workflow.Run{}, &hook.Hook{})
	r.EmitScheduleFired(ctx, "test", id.NewRunID())
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ext1 := &allHooksExt{}
	ext2 := &allHooksExt{}
	r.Register(ext1)
	r.Register(ext2)

	ctx := context.Background()
	r.EmitRunStarted(ctx, &workflow.Run{})

	// Both should be called.
	if len(ext1.calls) != 1 {
		t.Errorf("ext1: expected 1 call, got %d", len(ext1.calls))
	}
	if len(ext2.calls) != 1 {
		t.Errorf("ext2: expected 1 call, got %d", len(ext2.calls))
	}
}
