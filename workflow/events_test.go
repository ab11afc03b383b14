package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ── Audit Trail ─────────────────────────────────────

func eventTypes(events []*event.Event) []event.Type {
	types := make([]event.Type, len(events))
	for i, evt := range events {
		types[i] = evt.Type
	}
	return types
}

func wantTrail(t *testing.T, got []*event.Event, want ...event.Type) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("trail = %v, want %v", eventTypes(got), want)
	}
	for i, typ := range want {
		if got[i].Type != typ {
			t.Errorf("trail[%d] = %q, want %q", i, got[i].Type, typ)
		}
	}
}

func TestAuditTrail_CompletedRun(t *testing.T) {
	runner, reg, s := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("audit-ok", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("only-step", func(_ context.Context) error { return nil })
	}))

	run := startRun(t, runner, "audit-ok", struct{}{})
	executeRun(t, runner, run.ID)

	events, err := s.ListEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	wantTrail(t, events, event.TypeRunStarted, event.TypeStepCompleted, event.TypeRunCompleted)

	for i, evt := range events {
		if evt.RunID != run.ID {
			t.Errorf("events[%d].RunID = %s, want %s", i, evt.RunID, run.ID)
		}
		if evt.ID.IsNil() {
			t.Errorf("events[%d] has nil ID", i)
		}
		if evt.CreatedAt.IsZero() {
			t.Errorf("events[%d] has zero CreatedAt", i)
		}
	}

	completed := events[1]
	if completed.StepName != "only-step" {
		t.Errorf("step event StepName = %q, want %q", completed.StepName, "only-step")
	}
	var payload struct {
		Attempt int `json:"attempt"`
	}
	if err := json.Unmarshal(completed.Payload, &payload); err != nil {
		t.Fatalf("decode step payload: %v", err)
	}
	if payload.Attempt != 1 {
		t.Errorf("step payload attempt = %d, want 1", payload.Attempt)
	}
}

func TestAuditTrail_FailedRun(t *testing.T) {
	runner, reg, s := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("audit-fail", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("doomed", func(_ context.Context) error {
			return orchestration.Fatalf("boom")
		})
	}))

	run := startRun(t, runner, "audit-fail", struct{}{})
	executeRun(t, runner, run.ID)

	events, err := s.ListEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	wantTrail(t, events, event.TypeRunStarted, event.TypeRunFailed)

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(events[1].Payload, &payload); err != nil {
		t.Fatalf("decode failure payload: %v", err)
	}
	if !strings.Contains(payload.Error, "boom") {
		t.Errorf("failure payload error = %q, want the cause", payload.Error)
	}
}

func TestAuditTrail_SuspendResumeCycle(t *testing.T) {
	runner, reg, s := newTestRunner()

	var decision hook.Decision
	var token string
	approvalWorkflow(reg, "audit-approval", &decision, &token)

	run := startRun(t, runner, "audit-approval", struct{}{})
	parked := executeRun(t, runner, run.ID)
	if parked.Status != workflow.StatusSuspended {
		t.Fatalf("status = %q, want suspended", parked.Status)
	}

	events, err := s.ListEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	wantTrail(t, events, event.TypeRunStarted, event.TypeHookCreated, event.TypeRunSuspended)
	if events[1].HookToken != token {
		t.Errorf("hook.created token = %q, want %q", events[1].HookToken, token)
	}
	if events[1].StepName != "legal-review" {
		t.Errorf("hook.created step = %q, want %q", events[1].StepName, "legal-review")
	}
	if events[2].HookToken != token {
		t.Errorf("run.suspended token = %q, want %q", events[2].HookToken, token)
	}

	if _, err := runner.ResumeHook(context.Background(), token, []byte(`{"approved":true,"by":"alice"}`), "alice"); err != nil {
		t.Fatalf("ResumeHook: %v", err)
	}
	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed", done.Status)
	}

	events, err = s.ListEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	wantTrail(t, events,
		event.TypeRunStarted,
		event.TypeHookCreated,
		event.TypeRunSuspended,
		event.TypeHookResolved,
		event.TypeRunResumed,
		event.TypeRunCompleted,
	)
	if events[3].HookToken != token {
		t.Errorf("hook.resolved token = %q, want %q", events[3].HookToken, token)
	}
}

func TestAuditTrail_StepRetried(t *testing.T) {
	runner, reg, s := newTestRunner()

	var attempts atomic.Int32
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("audit-retry", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("flaky", func(_ context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient glitch")
			}
			return nil
		}, workflow.WithMaxRetries(5), fastRetry())
	}))

	run := startRun(t, runner, "audit-retry", struct{}{})
	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed", done.Status)
	}

	events, err := s.ListEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}

	var retried []*event.Event
	for _, evt := range events {
		if evt.Type == event.TypeStepRetried {
			retried = append(retried, evt)
		}
	}
	if len(retried) != 2 {
		t.Fatalf("step.retried events = %d, want 2", len(retried))
	}
	for i, evt := range retried {
		if evt.StepName != "flaky" {
			t.Errorf("retried[%d].StepName = %q, want %q", i, evt.StepName, "flaky")
		}
		var payload struct {
			Attempt int    `json:"attempt"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			t.Fatalf("decode retry payload: %v", err)
		}
		if payload.Attempt != i+1 {
			t.Errorf("retried[%d] attempt = %d, want %d", i, payload.Attempt, i+1)
		}
		if !strings.Contains(payload.Error, "transient glitch") {
			t.Errorf("retried[%d] error = %q, want the step error", i, payload.Error)
		}
	}
}
