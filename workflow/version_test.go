package workflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ── Workflow Versioning ─────────────────────────────

func TestVersionedRegistration(t *testing.T) {
	reg := workflow.NewRegistry()

	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("versioned-wf", 1,
		func(_ *workflow.Workflow, _ struct{}) error { return nil },
	))
	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("versioned-wf", 2,
		func(_ *workflow.Workflow, _ struct{}) error { return nil },
	))

	if v := reg.LatestVersion("versioned-wf"); v != 2 {
		t.Errorf("LatestVersion = %d, want 2", v)
	}

	r, ok := reg.Get("versioned-wf")
	if !ok {
		t.Fatal("expected Get to return runner")
	}
	if r == nil {
		t.Fatal("expected non-nil runner")
	}

	rv1, ok := reg.GetVersion("versioned-wf", 1)
	if !ok {
		t.Fatal("expected GetVersion(1) to return runner")
	}
	if rv1 == nil {
		t.Fatal("expected non-nil v1 runner")
	}

	rv2, ok := reg.GetVersion("versioned-wf", 2)
	if !ok {
		t.Fatal("expected GetVersion(2) to return runner")
	}
	if rv2 == nil {
		t.Fatal("expected non-nil v2 runner")
	}

	if _, ok := reg.GetVersion("versioned-wf", 3); ok {
		t.Error("expected GetVersion(3) to return false")
	}
}

func TestNewRunUsesLatestVersion(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("auto-latest", 1,
		func(_ *workflow.Workflow, _ struct{}) error { return nil },
	))
	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("auto-latest", 2,
		func(_ *workflow.Workflow, _ struct{}) error { return nil },
	))

	run := startRun(t, runner, "auto-latest", struct{}{})
	if run.Version != 2 {
		t.Errorf("run.Version = %d, want 2", run.Version)
	}

	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Errorf("status = %q, want completed", done.Status)
	}
}

func TestReplayPreservesPinnedVersion(t *testing.T) {
	runner, reg, s := newTestRunner()

	var v1Calls, v2Calls atomic.Int32

	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("resume-ver", 1,
		func(wf *workflow.Workflow, _ struct{}) error {
			v1Calls.Add(1)
			return wf.Step("s1", func(_ context.Context) error { return nil })
		},
	))

	run := startRun(t, runner, "resume-ver", struct{}{})
	if run.Version != 1 {
		t.Fatalf("run.Version = %d, want 1", run.Version)
	}
	done := executeRun(t, runner, run.ID)
	if v1Calls.Load() != 1 {
		t.Fatalf("v1Calls = %d, want 1", v1Calls.Load())
	}

	// A newer version arrives while the run is in flight.
	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("resume-ver", 2,
		func(wf *workflow.Workflow, _ struct{}) error {
			v2Calls.Add(1)
			return wf.Step("s1", func(_ context.Context) error { return nil })
		},
	))

	v1Calls.Store(0)
	v2Calls.Store(0)

	// Crash recovery replays on the version stamped on the run, not the
	// latest registration.
	markRunning(t, s, done)
	executeRun(t, runner, run.ID)

	if v1Calls.Load() != 1 {
		t.Errorf("v1Calls after replay = %d, want 1 (pinned version)", v1Calls.Load())
	}
	if v2Calls.Load() != 0 {
		t.Errorf("v2Calls after replay = %d, want 0", v2Calls.Load())
	}
}

func TestMigrateRun(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var v1Calls, v2Calls atomic.Int32
	var s1Calls, s2Calls atomic.Int32

	// Only v1 exists at start time, so the run pins version 1. It parks
	// on an approval gate after its first step, which is where a stuck
	// fleet typically sits when a new version ships.
	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("migrate-wf", 1,
		func(wf *workflow.Workflow, _ struct{}) error {
			v1Calls.Add(1)
			if err := wf.Step("s1", func(_ context.Context) error { s1Calls.Add(1); return nil }); err != nil {
				return err
			}
			h, err := wf.ApprovalHook("legacy-gate", "apvl", hook.WithTimeout(time.Hour))
			if err != nil {
				return err
			}
			_, err = wf.AwaitDecision(h)
			return err
		},
	))

	run := startRun(t, runner, "migrate-wf", struct{}{})
	if run.Version != 1 {
		t.Fatalf("run.Version = %d, want 1", run.Version)
	}
	parked := executeRun(t, runner, run.ID)
	if parked.Status != workflow.StatusSuspended {
		t.Fatalf("status = %q, want suspended", parked.Status)
	}
	if v1Calls.Load() != 1 || s1Calls.Load() != 1 {
		t.Fatalf("v1Calls = %d, s1Calls = %d, want 1/1", v1Calls.Load(), s1Calls.Load())
	}

	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("migrate-wf", 2,
		func(wf *workflow.Workflow, _ struct{}) error {
			v2Calls.Add(1)
			if err := wf.Step("s1", func(_ context.Context) error { s1Calls.Add(1); return nil }); err != nil {
				return err
			}
			return wf.Step("s2-new", func(_ context.Context) error { s2Calls.Add(1); return nil })
		},
	))

	v1Calls.Store(0)
	v2Calls.Store(0)
	s1Calls.Store(0)
	s2Calls.Store(0)

	migrated, migrateErr := runner.MigrateRun(context.Background(), run.ID, 2)
	if migrateErr != nil {
		t.Fatalf("MigrateRun: %v", migrateErr)
	}
	if migrated.Version != 2 {
		t.Fatalf("migrated.Version = %d, want 2", migrated.Version)
	}
	if migrated.Status != workflow.StatusPending {
		t.Fatalf("migrated status = %q, want pending", migrated.Status)
	}

	done := executeRun(t, runner, run.ID)

	// The v2 handler runs; the shared step replays from its checkpoint
	// while the new step executes live.
	if v2Calls.Load() != 1 {
		t.Errorf("v2Calls after migrate = %d, want 1", v2Calls.Load())
	}
	if v1Calls.Load() != 0 {
		t.Errorf("v1Calls after migrate = %d, want 0", v1Calls.Load())
	}
	if s1Calls.Load() != 0 {
		t.Errorf("s1Calls after migrate = %d, want 0 (checkpoint preserved)", s1Calls.Load())
	}
	if s2Calls.Load() != 1 {
		t.Errorf("s2Calls after migrate = %d, want 1 (new step)", s2Calls.Load())
	}
	if done.Version != 2 {
		t.Errorf("done.Version = %d, want 2", done.Version)
	}
	if done.Status != workflow.StatusCompleted {
		t.Errorf("done status = %q, want completed", done.Status)
	}
}

func TestMigrateRun_TerminalRunRejected(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("migrate-done", 1,
		func(_ *workflow.Workflow, _ struct{}) error { return nil },
	))
	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("migrate-done", 2,
		func(_ *workflow.Workflow, _ struct{}) error { return nil },
	))

	run := startRun(t, runner, "migrate-done", struct{}{})
	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed", done.Status)
	}

	// A finished run never re-enters the queue, even through migration.
	_, err := runner.MigrateRun(context.Background(), run.ID, 2)
	if !errors.Is(err, orchestration.ErrRunNotResumable) {
		t.Fatalf("err = %v, want ErrRunNotResumable", err)
	}

	after, err := runner.Store().GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if after.Version != 1 || after.Status != workflow.StatusCompleted {
		t.Errorf("run after rejected migrate = v%d/%q, want v1/completed", after.Version, after.Status)
	}
}

func TestMigrateRun_UnknownVersion(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflowV("migrate-missing", 1,
		func(_ *workflow.Workflow, _ struct{}) error { return nil },
	))

	run := startRun(t, runner, "migrate-missing", struct{}{})
	executeRun(t, runner, run.ID)

	_, err := runner.MigrateRun(context.Background(), run.ID, 9)
	if !errors.Is(err, orchestration.ErrWorkflowNotFound) {
		t.Fatalf("err = %v, want ErrWorkflowNotFound", err)
	}
}

func TestDefaultVersionIsOne(t *testing.T) {
	reg := workflow.NewRegistry()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("default-ver",
		func(_ *workflow.Workflow, _ struct{}) error { return nil },
	))

	if v := reg.LatestVersion("default-ver"); v != 1 {
		t.Errorf("LatestVersion = %d, want 1", v)
	}
	if _, ok := reg.GetVersion("default-ver", 1); !ok {
		t.Error("expected GetVersion(1) to return runner for default version")
	}
}
