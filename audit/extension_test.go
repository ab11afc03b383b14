package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/audit"
	"github.com/bcorn-cely/Agent-Orchestration/ext"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestRun() *workflow.Run {
	return &workflow.Run{
		ID:         id.NewRunID(),
		Name:       "org-validation",
		Version:    1,
		ScopeAppID: "app-1",
		ScopeOrgID: "org-1",
	}
}

func newTestHook(runID id.RunID) *hook.Hook {
	return &hook.Hook{
		ID:        id.NewHookID(),
		RunID:     runID,
		Name:      "legal-approval",
		Kind:      "apvl",
		State:     hook.StatePending,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtensionName(t *testing.T) {
	e := audit.New(&mockRecorder{})
	if e.Name() != "audit" {
		t.Errorf("Name() = %q, want %q", e.Name(), "audit")
	}
}

func TestRunStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	r := newTestRun()

	if err := e.OnRunStarted(context.Background(), r); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != audit.ActionRunStarted {
		t.Errorf("Action = %q, want %q", evt.Action, audit.ActionRunStarted)
	}
	if evt.Resource != audit.ResourceRun {
		t.Errorf("Resource = %q, want %q", evt.Resource, audit.ResourceRun)
	}
	if evt.Category != audit.CategoryRun {
		t.Errorf("Category = %q, want %q", evt.Category, audit.CategoryRun)
	}
	if evt.ResourceID != r.ID.String() {
		t.Errorf("ResourceID = %q, want %q", evt.ResourceID, r.ID.String())
	}
	if evt.Severity != audit.SeverityInfo {
		t.Errorf("Severity = %q, want %q", evt.Severity, audit.SeverityInfo)
	}
	if evt.Outcome != audit.OutcomeSuccess {
		t.Errorf("Outcome = %q, want %q", evt.Outcome, audit.OutcomeSuccess)
	}
	if evt.Metadata["workflow_name"] != "org-validation" {
		t.Errorf("Metadata[workflow_name] = %v", evt.Metadata["workflow_name"])
	}
}

func TestRunSuspendedCarriesToken(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	r := newTestRun()
	r.AwaitToken = "apvl_01h2x"

	if err := e.OnRunSuspended(context.Background(), r); err != nil {
		t.Fatalf("OnRunSuspended: %v", err)
	}

	evt := rec.last()
	if evt.Metadata["await_token"] != "apvl_01h2x" {
		t.Errorf("Metadata[await_token] = %v, want %q", evt.Metadata["await_token"], "apvl_01h2x")
	}
}

func TestRunCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	if err := e.OnRunCompleted(context.Background(), newTestRun(), 2*time.Second); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionRunCompleted {
		t.Errorf("Action = %q, want %q", evt.Action, audit.ActionRunCompleted)
	}
	if evt.Metadata["elapsed_ms"] != int64(2000) {
		t.Errorf("Metadata[elapsed_ms] = %v, want 2000", evt.Metadata["elapsed_ms"])
	}
}

func TestRunFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	runErr := errors.New("verification rejected")

	if err := e.OnRunFailed(context.Background(), newTestRun(), runErr); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != audit.SeverityCritical {
		t.Errorf("Severity = %q, want %q", evt.Severity, audit.SeverityCritical)
	}
	if evt.Outcome != audit.OutcomeFailure {
		t.Errorf("Outcome = %q, want %q", evt.Outcome, audit.OutcomeFailure)
	}
	if evt.Reason != "verification rejected" {
		t.Errorf("Reason = %q", evt.Reason)
	}
	if evt.Metadata["error"] != "verification rejected" {
		t.Errorf("Metadata[error] = %v", evt.Metadata["error"])
	}
}

func TestStepRetried(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	if err := e.OnStepRetried(context.Background(), newTestRun(), "fetch-registry", 2, 500*time.Millisecond); err != nil {
		t.Fatalf("OnStepRetried: %v", err)
	}

	evt := rec.last()
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity = %q, want %q", evt.Severity, audit.SeverityWarning)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt] = %v, want 2", evt.Metadata["attempt"])
	}
	if evt.Metadata["step_name"] != "fetch-registry" {
		t.Errorf("Metadata[step_name] = %v", evt.Metadata["step_name"])
	}
}

func TestStepFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	if err := e.OnStepFailed(context.Background(), newTestRun(), "charge", errors.New("declined")); err != nil {
		t.Fatalf("OnStepFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionStepFailed {
		t.Errorf("Action = %q, want %q", evt.Action, audit.ActionStepFailed)
	}
	if evt.Reason != "declined" {
		t.Errorf("Reason = %q, want %q", evt.Reason, "declined")
	}
}

func TestHookResolvedCarriesResolver(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	r := newTestRun()
	h := newTestHook(r.ID)
	h.State = hook.StateResolved
	h.ResolvedBy = "msr-1"

	if err := e.OnHookResolved(context.Background(), r, h); err != nil {
		t.Fatalf("OnHookResolved: %v", err)
	}

	evt := rec.last()
	if evt.Resource != audit.ResourceHook {
		t.Errorf("Resource = %q, want %q", evt.Resource, audit.ResourceHook)
	}
	if evt.ResourceID != h.Token() {
		t.Errorf("ResourceID = %q, want token %q", evt.ResourceID, h.Token())
	}
	if evt.Metadata["resolved_by"] != "msr-1" {
		t.Errorf("Metadata[resolved_by] = %v, want %q", evt.Metadata["resolved_by"], "msr-1")
	}
}

func TestHookExpiredIsWarning(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	r := newTestRun()

	if err := e.OnHookExpired(context.Background(), r, newTestHook(r.ID)); err != nil {
		t.Fatalf("OnHookExpired: %v", err)
	}

	evt := rec.last()
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity = %q, want %q", evt.Severity, audit.SeverityWarning)
	}
	if evt.Outcome != audit.OutcomeFailure {
		t.Errorf("Outcome = %q, want %q", evt.Outcome, audit.OutcomeFailure)
	}
}

func TestScheduleFired(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	runID := id.NewRunID()

	if err := e.OnScheduleFired(context.Background(), "nightly-revalidate", runID); err != nil {
		t.Fatalf("OnScheduleFired: %v", err)
	}

	evt := rec.last()
	if evt.Resource != audit.ResourceSchedule {
		t.Errorf("Resource = %q, want %q", evt.Resource, audit.ResourceSchedule)
	}
	if evt.ResourceID != "nightly-revalidate" {
		t.Errorf("ResourceID = %q", evt.ResourceID)
	}
	if evt.Metadata["run_id"] != runID.String() {
		t.Errorf("Metadata[run_id] = %v, want %q", evt.Metadata["run_id"], runID.String())
	}
}

func TestWithActionsFiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionRunFailed, audit.ActionHookResolved))

	ctx := context.Background()
	r := newTestRun()

	// Started is not enabled and must be skipped silently.
	if err := e.OnRunStarted(ctx, r); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("count = %d, want 0 after disabled action", rec.count())
	}

	if err := e.OnRunFailed(ctx, r, errors.New("boom")); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("count = %d, want 1", rec.count())
	}

	if err := e.OnHookResolved(ctx, r, newTestHook(r.ID)); err != nil {
		t.Fatalf("OnHookResolved: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("count = %d, want 2", rec.count())
	}
}

func TestRecorderFunc(t *testing.T) {
	var captured *audit.Event
	fn := audit.RecorderFunc(func(_ context.Context, evt *audit.Event) error {
		captured = evt
		return nil
	})

	e := audit.New(fn)
	if err := e.OnRunStarted(context.Background(), newTestRun()); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != audit.ActionRunStarted {
		t.Errorf("Action = %q, want %q", captured.Action, audit.ActionRunStarted)
	}
}

func TestRecorderErrorDoesNotPropagate(t *testing.T) {
	failing := audit.RecorderFunc(func(_ context.Context, _ *audit.Event) error {
		return errors.New("trail backend down")
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := audit.New(failing, audit.WithLogger(logger))

	// A broken audit backend must never fail the lifecycle hook.
	if err := e.OnRunStarted(context.Background(), newTestRun()); err != nil {
		t.Fatalf("OnRunStarted returned %v, want nil", err)
	}
}

func TestViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	r := newTestRun()
	h := newTestHook(r.ID)

	reg.EmitRunStarted(ctx, r)
	reg.EmitRunSuspended(ctx, r)
	reg.EmitRunResumed(ctx, r)
	reg.EmitRunCompleted(ctx, r, 2*time.Second)
	reg.EmitRunFailed(ctx, r, errors.New("fail"))
	reg.EmitStepCompleted(ctx, r, "step-1", time.Second)
	reg.EmitStepRetried(ctx, r, "step-2", 1, time.Second)
	reg.EmitStepFailed(ctx, r, "step-3", errors.New("bad"))
	reg.EmitHookCreated(ctx, r, h)
	reg.EmitHookResolved(ctx, r, h)
	reg.EmitHookExpired(ctx, r, h)
	reg.EmitScheduleFired(ctx, "hourly", id.NewRunID())

	allActions := audit.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("recorded %d events, want %d", rec.count(), len(allActions))
	}
	for _, action := range allActions {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

func TestAllActions(t *testing.T) {
	if got := len(audit.AllActions()); got != 12 {
		t.Errorf("AllActions() len = %d, want 12", got)
	}
}
