package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/notify"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// approvalWorkflow registers a workflow that gates on one approval hook
// and records the decision it observed.
func approvalWorkflow(reg *workflow.Registry, name string, decision *hook.Decision, token *string) {
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(name, func(wf *workflow.Workflow, _ struct{}) error {
		h, err := wf.ApprovalHook("legal-review", "apvl", hook.WithTimeout(time.Hour))
		if err != nil {
			return err
		}
		if token != nil {
			*token = h.Token()
		}
		d, err := wf.AwaitDecision(h)
		if err != nil {
			return err
		}
		*decision = d
		if !d.Approved {
			return wf.SetOutput(map[string]any{"approved": false})
		}
		return wf.SetOutput(map[string]any{"approved": true})
	}))
}

// ── Hook Creation ───────────────────────────────────

func TestCreateHook_PersistsPendingHook(t *testing.T) {
	runner, reg, s := newTestRunner()

	var decision hook.Decision
	var token string
	approvalWorkflow(reg, "approval-wf", &decision, &token)

	run := startRun(t, runner, "approval-wf", struct{}{})
	parked := executeRun(t, runner, run.ID)

	if parked.Status != workflow.StatusSuspended {
		t.Fatalf("status = %q, want suspended", parked.Status)
	}
	if token == "" {
		t.Fatal("expected hook token")
	}
	if !strings.HasPrefix(token, "apvl_") {
		t.Errorf("token = %q, want apvl_ prefix (kind routes the resume)", token)
	}

	parsed, err := hook.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	stored, err := s.GetHook(context.Background(), parsed)
	if err != nil {
		t.Fatalf("GetHook: %v", err)
	}
	if stored.State != hook.StatePending {
		t.Errorf("hook state = %q, want pending", stored.State)
	}
	if stored.RunID.String() != run.ID.String() {
		t.Errorf("hook run = %s, want %s", stored.RunID, run.ID)
	}
	if len(stored.Schema) == 0 {
		t.Error("expected the approval schema on the hook record")
	}
}

func TestCreateHook_TokenStableAcrossReplay(t *testing.T) {
	runner, reg, s := newTestRunner()

	var decision hook.Decision
	var token string
	approvalWorkflow(reg, "stable-token-wf", &decision, &token)

	run := startRun(t, runner, "stable-token-wf", struct{}{})
	executeRun(t, runner, run.ID)
	first := token

	// Crash before the resume arrives and re-execute: hook creation is
	// checkpointed, so the replayed claim sees the same token.
	token = ""
	parked, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	markRunning(t, s, parked)
	executeRun(t, runner, run.ID)

	if token != first {
		t.Errorf("token after replay = %q, want %q (stable across replay)", token, first)
	}

	hooks, err := s.ListHooksByRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListHooksByRun: %v", err)
	}
	if len(hooks) != 1 {
		t.Errorf("hooks for run = %d, want 1 (replay must not mint a second)", len(hooks))
	}
}

func TestCreateHook_InsideStepRejected(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var hookErr error
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("hook-misuse", func(wf *workflow.Workflow, _ struct{}) error {
		return wf.Step("outer", func(_ context.Context) error {
			_, hookErr = wf.CreateHook("inner")
			return orchestration.Fatal(hookErr)
		}, workflow.WithMaxRetries(1))
	}))

	run := startRun(t, runner, "hook-misuse", struct{}{})
	done := executeRun(t, runner, run.ID)

	if done.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if !errors.Is(hookErr, orchestration.ErrHookInsideStep) {
		t.Errorf("error = %v, want ErrHookInsideStep", hookErr)
	}
}

// ── Awaiting and Resuming ───────────────────────────

func TestAwaitHook_SuspendsOnPendingHook(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var decision hook.Decision
	var token string
	approvalWorkflow(reg, "suspend-wf", &decision, &token)

	run := startRun(t, runner, "suspend-wf", struct{}{})
	parked := executeRun(t, runner, run.ID)

	if parked.Status != workflow.StatusSuspended {
		t.Fatalf("status = %q, want suspended", parked.Status)
	}
	if parked.AwaitToken != token {
		t.Errorf("AwaitToken = %q, want %q", parked.AwaitToken, token)
	}
	// The run wakes on its own when the hook's expiry passes.
	if parked.WakeAt == nil {
		t.Error("expected WakeAt to carry the hook expiry")
	}
	if !parked.WorkerID.IsNil() {
		t.Error("expected the claim to be released on suspension")
	}
}

func TestResumeHook_DeliversDecision(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var decision hook.Decision
	var token string
	approvalWorkflow(reg, "resume-wf", &decision, &token)

	run := startRun(t, runner, "resume-wf", struct{}{})
	executeRun(t, runner, run.ID)

	resumed, err := runner.ResumeHook(context.Background(),
		token, []byte(`{"approved":true,"comment":"lgtm"}`), "alice")
	if err != nil {
		t.Fatalf("ResumeHook: %v", err)
	}
	if resumed.Status != workflow.StatusPending {
		t.Errorf("status after resume = %q, want pending", resumed.Status)
	}
	if resumed.AwaitToken != "" {
		t.Errorf("AwaitToken after resume = %q, want empty", resumed.AwaitToken)
	}

	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed, error = %q", done.Status, done.Error)
	}
	if !decision.Approved {
		t.Error("expected the handler to observe the approval")
	}
	if decision.Comment != "lgtm" {
		t.Errorf("comment = %q, want %q", decision.Comment, "lgtm")
	}
}

func TestResumeHook_SecondCallLoses(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var decision hook.Decision
	var token string
	approvalWorkflow(reg, "once-wf", &decision, &token)

	run := startRun(t, runner, "once-wf", struct{}{})
	executeRun(t, runner, run.ID)

	if _, err := runner.ResumeHook(context.Background(),
		token, []byte(`{"approved":true}`), "alice"); err != nil {
		t.Fatalf("first ResumeHook: %v", err)
	}

	// The loser sees not-found, never a double-apply.
	_, err := runner.ResumeHook(context.Background(),
		token, []byte(`{"approved":false}`), "bob")
	if !errors.Is(err, orchestration.ErrHookNotFound) {
		t.Fatalf("second ResumeHook error = %v, want ErrHookNotFound", err)
	}

	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed, error = %q", done.Status, done.Error)
	}
	if !decision.Approved {
		t.Error("first resolution must stand; the handler saw the loser's payload")
	}
}

func TestResumeHook_ConcurrentResumesResolveOnce(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var decision hook.Decision
	var token string
	approvalWorkflow(reg, "contended-wf", &decision, &token)

	run := startRun(t, runner, "contended-wf", struct{}{})
	executeRun(t, runner, run.ID)

	// All resumes carry valid payloads and race the same token; the
	// resolution CAS lets exactly one through.
	const resumers = 8
	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range resumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := runner.ResumeHook(context.Background(),
				token, []byte(`{"approved":true}`), fmt.Sprintf("approver-%d", i))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, orchestration.ErrHookNotFound):
				losses.Add(1)
			default:
				t.Errorf("ResumeHook: unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winning resumes = %d, want exactly 1", wins.Load())
	}
	if losses.Load() != resumers-1 {
		t.Errorf("losing resumes = %d, want %d", losses.Load(), resumers-1)
	}

	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed, error = %q", done.Status, done.Error)
	}
	if !decision.Approved {
		t.Error("expected the handler to observe the single winning approval")
	}
}

func TestResumeHook_UnknownToken(t *testing.T) {
	runner, _, _ := newTestRunner()

	_, err := runner.ResumeHook(context.Background(), "apvl_01h2xcejqtf2nbrexx3vqjhp41", []byte(`{}`), "")
	if !errors.Is(err, orchestration.ErrHookNotFound) {
		t.Errorf("error = %v, want ErrHookNotFound", err)
	}

	_, err = runner.ResumeHook(context.Background(), "not a token", []byte(`{}`), "")
	if !errors.Is(err, orchestration.ErrHookNotFound) {
		t.Errorf("garbage token error = %v, want ErrHookNotFound", err)
	}
}

func TestResumeHook_SchemaRejectsBadPayload(t *testing.T) {
	runner, reg, s := newTestRunner()

	var decision hook.Decision
	var token string
	approvalWorkflow(reg, "schema-wf", &decision, &token)

	run := startRun(t, runner, "schema-wf", struct{}{})
	executeRun(t, runner, run.ID)

	// "approved" must be a boolean; a string violates the schema.
	_, err := runner.ResumeHook(context.Background(),
		token, []byte(`{"approved":"yes"}`), "alice")
	if err == nil {
		t.Fatal("expected schema violation error")
	}
	// Validation failures are the caller's bug, not a missing hook:
	// API layers map them to 400, not 404.
	if errors.Is(err, orchestration.ErrHookNotFound) {
		t.Errorf("schema violation mapped to ErrHookNotFound; want a distinct error")
	}

	// The hook survives the rejected attempt.
	parsed, _ := hook.ParseToken(token)
	stored, getErr := s.GetHook(context.Background(), parsed)
	if getErr != nil {
		t.Fatalf("GetHook: %v", getErr)
	}
	if stored.State != hook.StatePending {
		t.Fatalf("hook state after rejected payload = %q, want pending", stored.State)
	}

	// A valid payload still goes through.
	if _, err := runner.ResumeHook(context.Background(),
		token, []byte(`{"approved":true}`), "alice"); err != nil {
		t.Fatalf("valid ResumeHook after rejection: %v", err)
	}
}

func TestResumeHook_NormalizesMangledTokens(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var decision hook.Decision
	var token string
	approvalWorkflow(reg, "mangled-wf", &decision, &token)

	run := startRun(t, runner, "mangled-wf", struct{}{})
	executeRun(t, runner, run.ID)

	// Tokens arrive percent-encoded and quote-wrapped from emails and URLs.
	mangled := url.QueryEscape(`"` + token + `",`)
	if _, err := runner.ResumeHook(context.Background(),
		mangled, []byte(`{"approved":true}`), "alice"); err != nil {
		t.Fatalf("ResumeHook with mangled token: %v", err)
	}

	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Errorf("status = %q, want completed, error = %q", done.Status, done.Error)
	}
}

// ── Expiry ──────────────────────────────────────────

func TestAwaitDecision_ExpiryIsNegativeDecision(t *testing.T) {
	runner, reg, s := newTestRunner()

	var decision hook.Decision
	var token string
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("expiring-wf", func(wf *workflow.Workflow, _ struct{}) error {
		h, err := wf.ApprovalHook("review", "apvl", hook.WithTimeout(20*time.Millisecond))
		if err != nil {
			return err
		}
		token = h.Token()
		d, err := wf.AwaitDecision(h)
		if err != nil {
			return err
		}
		decision = d
		return nil
	}))

	run := startRun(t, runner, "expiring-wf", struct{}{})
	parked := executeRun(t, runner, run.ID)
	if parked.Status != workflow.StatusSuspended {
		t.Fatalf("status = %q, want suspended", parked.Status)
	}

	// Let the expiry win, then redeliver: the timeout branch is an
	// explicit negative decision, not a crash.
	time.Sleep(30 * time.Millisecond)
	done := executeRun(t, runner, run.ID)

	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed, error = %q", done.Status, done.Error)
	}
	if decision.Approved {
		t.Error("expected the timeout branch to deny")
	}
	if decision.Comment != "timeout" {
		t.Errorf("comment = %q, want %q", decision.Comment, "timeout")
	}

	parsed, _ := hook.ParseToken(token)
	stored, err := s.GetHook(context.Background(), parsed)
	if err != nil {
		t.Fatalf("GetHook: %v", err)
	}
	if stored.State != hook.StateExpired {
		t.Errorf("hook state = %q, want expired", stored.State)
	}
}

func TestResumeHook_AfterExpiryNotFound(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var decision hook.Decision
	_ = decision
	var token string
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("late-wf", func(wf *workflow.Workflow, _ struct{}) error {
		h, err := wf.ApprovalHook("review", "apvl", hook.WithTimeout(10*time.Millisecond))
		if err != nil {
			return err
		}
		token = h.Token()
		d, err := wf.AwaitDecision(h)
		if err != nil {
			return err
		}
		decision = d
		return nil
	}))

	run := startRun(t, runner, "late-wf", struct{}{})
	executeRun(t, runner, run.ID)

	time.Sleep(20 * time.Millisecond)

	// The deadline has passed; a late approval loses.
	_, err := runner.ResumeHook(context.Background(), token, []byte(`{"approved":true}`), "alice")
	if !errors.Is(err, orchestration.ErrHookNotFound) {
		t.Errorf("late resume error = %v, want ErrHookNotFound", err)
	}
}

// ── Await Replay ────────────────────────────────────

func TestAwaitHook_ReplayUsesCommittedOutcome(t *testing.T) {
	runner, reg, s := newTestRunner()

	var awaits atomic.Int32
	var decision hook.Decision
	var token string
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("await-replay", func(wf *workflow.Workflow, _ struct{}) error {
		h, err := wf.ApprovalHook("review", "apvl", hook.WithTimeout(time.Hour))
		if err != nil {
			return err
		}
		token = h.Token()
		awaits.Add(1)
		d, err := wf.AwaitDecision(h)
		if err != nil {
			return err
		}
		decision = d
		return wf.Step("after-gate", func(_ context.Context) error {
			return nil
		})
	}))

	run := startRun(t, runner, "await-replay", struct{}{})
	executeRun(t, runner, run.ID)

	if _, err := runner.ResumeHook(context.Background(),
		token, []byte(`{"approved":true,"by":"carol"}`), "carol"); err != nil {
		t.Fatalf("ResumeHook: %v", err)
	}
	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed, error = %q", done.Status, done.Error)
	}

	// Crash after completion and replay once more: the await outcome is
	// checkpointed, so the decision returns without touching hook state.
	decision = hook.Decision{}
	markRunning(t, s, done)
	executeRun(t, runner, run.ID)

	if !decision.Approved || decision.By != "carol" {
		t.Errorf("replayed decision = %+v, want the committed approval", decision)
	}
}

// ── Notification Delivery ───────────────────────────

func TestApprovalNotification_CarriesResumeURL(t *testing.T) {
	runner, reg, _ := newTestRunner()

	rec := &notify.Recorder{}
	var decision hook.Decision
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("notify-wf", func(wf *workflow.Workflow, _ struct{}) error {
		h, err := wf.ApprovalHook("contract-review", "apvl", hook.WithTimeout(time.Hour))
		if err != nil {
			return err
		}
		if err := wf.Step("notify-approver", func(ctx context.Context) error {
			return rec.Send(ctx, notify.Message{
				To:      "legal@example.com",
				Subject: "Contract awaiting review",
				Body:    "A contract needs your decision.",
				URL:     "https://approvals.example.com/hooks/" + h.Token(),
			})
		}); err != nil {
			return err
		}
		d, err := wf.AwaitDecision(h)
		if err != nil {
			return err
		}
		decision = d
		return nil
	}))

	run := startRun(t, runner, "notify-wf", struct{}{})
	parked := executeRun(t, runner, run.ID)
	if parked.Status != workflow.StatusSuspended {
		t.Fatalf("status = %q, want suspended", parked.Status)
	}

	// The approver resumes with the token fished out of the message, the
	// way a human follows the emailed link.
	msg := rec.Last()
	if msg.To != "legal@example.com" {
		t.Fatalf("message to = %q, want the approver address", msg.To)
	}
	token := strings.TrimPrefix(msg.URL, "https://approvals.example.com/hooks/")
	if !strings.HasPrefix(token, "apvl_") {
		t.Fatalf("notified URL %q does not embed the hook token", msg.URL)
	}

	if _, err := runner.ResumeHook(context.Background(),
		token, []byte(`{"approved":true}`), "legal"); err != nil {
		t.Fatalf("ResumeHook: %v", err)
	}
	done := executeRun(t, runner, run.ID)
	if done.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, want completed, error = %q", done.Status, done.Error)
	}
	if !decision.Approved {
		t.Error("expected the handler to observe the approval")
	}

	// The send rides inside a checkpointed step: the resumed pass replays
	// it instead of notifying twice.
	if n := len(rec.Messages()); n != 1 {
		t.Errorf("messages sent = %d, want 1", n)
	}
}
