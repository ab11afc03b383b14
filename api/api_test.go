package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/api"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/store/memory"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAPI builds the full HTTP handler on a fresh memory store with
// schedules and workers enabled.
func newTestAPI(t *testing.T) (http.Handler, *workflow.Runner, *workflow.Registry, *memory.Store) {
	t.Helper()
	s := memory.New()
	reg := workflow.NewRegistry()
	runner := workflow.NewRunner(reg, s, s, event.NewLog(s), workflow.WithLogger(testLogger()))

	a := api.New(runner,
		api.WithSchedules(s),
		api.WithWorkers(s),
		api.WithLogger(testLogger()),
	)
	return a.Handler(), runner, reg, s
}

// do executes a request against the handler and decodes the JSON body
// into out when out is non-nil.
func do(t *testing.T, h http.Handler, method, target, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v\nbody: %s", method, target, err, rec.Body.String())
		}
	}
	return rec
}

// executeRun drives one claim of a run the way the pool would.
func executeRun(t *testing.T, runner *workflow.Runner, runID id.RunID) *workflow.Run {
	t.Helper()
	ctx := context.Background()

	run, err := runner.Store().GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	_ = runner.ExecuteClaimed(ctx, run)

	run, err = runner.Store().GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun after execute: %v", err)
	}
	return run
}

func TestHealthz(t *testing.T) {
	h, _, _, _ := newTestAPI(t)

	var body map[string]string
	rec := do(t, h, http.MethodGet, "/healthz", "", &body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _, _ := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// ── Run routes ────────────────────────────────────────

func TestStartRun(t *testing.T) {
	h, _, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("greet", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	var body map[string]string
	rec := do(t, h, http.MethodPost, "/api/workflows/greet/runs", `{"who":"world"}`, &body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202\nbody: %s", rec.Code, rec.Body.String())
	}
	if body["run_id"] == "" {
		t.Error("expected non-empty run_id")
	}
	if body["status"] != string(workflow.StatusPending) {
		t.Errorf("status = %q, want pending", body["status"])
	}
}

func TestStartRunUnknownWorkflow(t *testing.T) {
	h, _, _, _ := newTestAPI(t)

	var body map[string]string
	rec := do(t, h, http.MethodPost, "/api/workflows/nope/runs", `{}`, &body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body["error"] == "" {
		t.Error("expected structured error body")
	}
}

func TestListWorkflows(t *testing.T) {
	h, _, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("alpha", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	var body map[string][]string
	rec := do(t, h, http.MethodGet, "/api/workflows", "", &body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(body["workflows"]) != 1 || body["workflows"][0] != "alpha" {
		t.Errorf("workflows = %v, want [alpha]", body["workflows"])
	}
}

func TestGetRun(t *testing.T) {
	h, runner, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("lookup", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	run, err := runner.StartRaw(context.Background(), "lookup", []byte(`{}`))
	if err != nil {
		t.Fatalf("StartRaw: %v", err)
	}

	var got workflow.Run
	rec := do(t, h, http.MethodGet, "/api/runs/"+run.ID.String(), "", &got)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	if got.Name != "lookup" {
		t.Errorf("name = %q, want lookup", got.Name)
	}
}

func TestGetRunInvalidID(t *testing.T) {
	h, _, _, _ := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/api/runs/not-an-id", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	h, _, _, _ := newTestAPI(t)

	var body map[string]string
	rec := do(t, h, http.MethodGet, "/api/runs/"+id.NewRunID().String(), "", &body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body["run_id"] == "" {
		t.Error("expected run_id in error body")
	}
}

func TestListRuns(t *testing.T) {
	h, runner, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("bulk", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	for range 3 {
		if _, err := runner.StartRaw(context.Background(), "bulk", []byte(`{}`)); err != nil {
			t.Fatalf("StartRaw: %v", err)
		}
	}

	var runs []*workflow.Run
	rec := do(t, h, http.MethodGet, "/api/runs?state=pending&limit=2", "", &runs)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(runs) != 2 {
		t.Errorf("len(runs) = %d, want 2", len(runs))
	}
}

func TestRunTimeline(t *testing.T) {
	h, runner, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("pipeline", func(wf *workflow.Workflow, _ struct{}) error {
		if _, err := workflow.StepResult(wf, "fetch", func(_ context.Context) (string, error) {
			return "data", nil
		}); err != nil {
			return err
		}
		_, err := workflow.StepResult(wf, "transform", func(_ context.Context) (string, error) {
			return "done", nil
		})
		return err
	}))

	run, err := runner.StartRaw(context.Background(), "pipeline", []byte(`{}`))
	if err != nil {
		t.Fatalf("StartRaw: %v", err)
	}
	executeRun(t, runner, run.ID)

	var entries []map[string]any
	rec := do(t, h, http.MethodGet, "/api/runs/"+run.ID.String()+"/timeline", "", &entries)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}

	checkpoints := 0
	for _, e := range entries {
		if e["kind"] == "checkpoint" {
			checkpoints++
		}
	}
	if checkpoints != 2 {
		t.Errorf("checkpoint entries = %d, want 2", checkpoints)
	}
}

func TestReplayRun(t *testing.T) {
	h, runner, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("replayable", func(wf *workflow.Workflow, _ struct{}) error {
		if _, err := workflow.StepResult(wf, "first", func(_ context.Context) (int, error) {
			return 1, nil
		}); err != nil {
			return err
		}
		_, err := workflow.StepResult(wf, "second", func(_ context.Context) (int, error) {
			return 2, nil
		})
		return err
	}))

	run, err := runner.StartRaw(context.Background(), "replayable", []byte(`{}`))
	if err != nil {
		t.Fatalf("StartRaw: %v", err)
	}
	executeRun(t, runner, run.ID)

	var got workflow.Run
	rec := do(t, h, http.MethodPost, "/api/runs/"+run.ID.String()+"/replay", `{"from_step":"second"}`, &got)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	if got.Status != workflow.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestReplayRunRequiresFromStep(t *testing.T) {
	h, runner, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("noop", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	run, err := runner.StartRaw(context.Background(), "noop", []byte(`{}`))
	if err != nil {
		t.Fatalf("StartRaw: %v", err)
	}

	rec := do(t, h, http.MethodPost, "/api/runs/"+run.ID.String()+"/replay", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRetriggerRun(t *testing.T) {
	h, runner, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("doomed", func(wf *workflow.Workflow, _ struct{}) error {
		_, err := workflow.StepResult(wf, "explode", func(_ context.Context) (string, error) {
			return "", orchestration.Fatal(context.DeadlineExceeded)
		})
		return err
	}))

	run, err := runner.StartRaw(context.Background(), "doomed", []byte(`{}`))
	if err != nil {
		t.Fatalf("StartRaw: %v", err)
	}
	failed := executeRun(t, runner, run.ID)
	if failed.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want failed", failed.Status)
	}

	var body map[string]string
	rec := do(t, h, http.MethodPost, "/api/runs/"+run.ID.String()+"/retrigger", "", &body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202\nbody: %s", rec.Code, rec.Body.String())
	}
	if body["run_id"] == "" || body["run_id"] == run.ID.String() {
		t.Errorf("run_id = %q, want a fresh ID", body["run_id"])
	}
}

func TestRetriggerNonFailedRunConflicts(t *testing.T) {
	h, runner, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("healthy", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	run, err := runner.StartRaw(context.Background(), "healthy", []byte(`{}`))
	if err != nil {
		t.Fatalf("StartRaw: %v", err)
	}

	rec := do(t, h, http.MethodPost, "/api/runs/"+run.ID.String()+"/retrigger", "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

// ── Hook resume ───────────────────────────────────────

func suspendedRunWithHook(t *testing.T, s *memory.Store) (*workflow.Run, *hook.Hook) {
	t.Helper()
	ctx := context.Background()

	run := &workflow.Run{
		Entity: orchestration.NewEntity(),
		ID:     id.NewRunID(),
		Name:   "approval-flow",
		Status: workflow.StatusSuspended,
	}
	pending := &hook.Hook{
		Entity:    orchestration.NewEntity(),
		ID:        id.NewHookID(),
		RunID:     run.ID,
		Name:      "manager-signoff",
		Kind:      hook.DefaultKind,
		State:     hook.StatePending,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	run.AwaitToken = pending.Token()

	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateHook(ctx, pending); err != nil {
		t.Fatalf("CreateHook: %v", err)
	}
	return run, pending
}

func TestResumeHook(t *testing.T) {
	h, _, _, s := newTestAPI(t)
	run, pending := suspendedRunWithHook(t, s)

	var body map[string]any
	rec := do(t, h, http.MethodPost, "/api/hooks/resume",
		`{"token":"`+pending.Token()+`","approved":true,"by":"reviewer@example.com"}`, &body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	if body["ok"] != true {
		t.Errorf("ok = %v, want true", body["ok"])
	}
	if body["run_id"] != run.ID.String() {
		t.Errorf("run_id = %v, want %s", body["run_id"], run.ID)
	}

	// The payload strips transport fields before reaching the hook.
	resolved, err := s.GetHook(context.Background(), pending.ID)
	if err != nil {
		t.Fatalf("GetHook: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(resolved.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["approved"] != true {
		t.Errorf("payload approved = %v, want true", payload["approved"])
	}
	if _, hasToken := payload["token"]; hasToken {
		t.Error("payload should not contain the transport token field")
	}
	if resolved.ResolvedBy != "reviewer@example.com" {
		t.Errorf("ResolvedBy = %q, want reviewer@example.com", resolved.ResolvedBy)
	}

	// A second resume finds nothing.
	rec = do(t, h, http.MethodPost, "/api/hooks/resume",
		`{"token":"`+pending.Token()+`","approved":false}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second resume status = %d, want 404", rec.Code)
	}
}

func TestResumeHookTokenViaQuery(t *testing.T) {
	h, _, _, s := newTestAPI(t)
	_, pending := suspendedRunWithHook(t, s)

	rec := do(t, h, http.MethodPost, "/api/hooks/resume?token="+pending.Token(),
		`{"approved":true}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
}

func TestResumeHookMissingToken(t *testing.T) {
	h, _, _, _ := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/hooks/resume", `{"approved":true}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestResumeHookUnknownToken(t *testing.T) {
	h, _, _, _ := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/hooks/resume",
		`{"token":"`+id.NewHookID().String()+`"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// ── Schedule routes ───────────────────────────────────

func TestScheduleLifecycle(t *testing.T) {
	h, _, _, _ := newTestAPI(t)

	var created map[string]any
	rec := do(t, h, http.MethodPost, "/api/schedules",
		`{"name":"nightly","expr":"@every 1h","workflow":"report"}`, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201\nbody: %s", rec.Code, rec.Body.String())
	}
	scheduleID, _ := created["id"].(string)
	if scheduleID == "" {
		t.Fatal("expected schedule id")
	}
	if created["enabled"] != true {
		t.Errorf("enabled = %v, want true", created["enabled"])
	}

	// Duplicate name conflicts.
	rec = do(t, h, http.MethodPost, "/api/schedules",
		`{"name":"nightly","expr":"@every 1h","workflow":"report"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	var schedules []map[string]any
	rec = do(t, h, http.MethodGet, "/api/schedules", "", &schedules)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	if len(schedules) != 1 {
		t.Fatalf("len(schedules) = %d, want 1", len(schedules))
	}

	var disabled map[string]any
	rec = do(t, h, http.MethodPost, "/api/schedules/"+scheduleID+"/disable", "", &disabled)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, want 200", rec.Code)
	}
	if disabled["enabled"] != false {
		t.Errorf("enabled after disable = %v, want false", disabled["enabled"])
	}

	var enabled map[string]any
	rec = do(t, h, http.MethodPost, "/api/schedules/"+scheduleID+"/enable", "", &enabled)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, want 200", rec.Code)
	}
	if enabled["enabled"] != true {
		t.Errorf("enabled after enable = %v, want true", enabled["enabled"])
	}

	rec = do(t, h, http.MethodDelete, "/api/schedules/"+scheduleID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/schedules/"+scheduleID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestCreateScheduleRejectsBadExpr(t *testing.T) {
	h, _, _, _ := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/schedules",
		`{"name":"broken","expr":"not a cron","workflow":"report"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSchedulesNotEnabled(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	runner := workflow.NewRunner(reg, s, s, event.NewLog(s), workflow.WithLogger(testLogger()))
	h := api.New(runner, api.WithLogger(testLogger())).Handler()

	rec := do(t, h, http.MethodGet, "/api/schedules", "", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

// ── Worker routes ─────────────────────────────────────

func TestListWorkers(t *testing.T) {
	h, _, _, s := newTestAPI(t)

	w := &cluster.Worker{
		ID:          id.NewWorkerID(),
		Hostname:    "node-1",
		Workflows:   []string{"report"},
		Concurrency: 4,
		State:       cluster.WorkerActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.RegisterWorker(context.Background(), w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	var workers []*cluster.Worker
	rec := do(t, h, http.MethodGet, "/api/workers", "", &workers)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(workers) != 1 || workers[0].Hostname != "node-1" {
		t.Errorf("workers = %+v, want one node-1", workers)
	}
}

func TestWatchRunNotEnabled(t *testing.T) {
	h, runner, reg, _ := newTestAPI(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("watched", func(_ *workflow.Workflow, _ struct{}) error {
		return nil
	}))

	run, err := runner.StartRaw(context.Background(), "watched", []byte(`{}`))
	if err != nil {
		t.Fatalf("StartRaw: %v", err)
	}

	rec := do(t, h, http.MethodGet, "/api/runs/"+run.ID.String()+"/watch", "", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}
