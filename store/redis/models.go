package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// timeLayout is RFC 3339 with a fixed nine-digit fraction. Unlike
// RFC3339Nano it never trims trailing zeros, so lexicographic comparison
// of two stored timestamps (in Go or in Lua) matches time comparison.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// fmtTimePtr renders an optional timestamp. Empty string means unset.
func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return fmtTime(*t)
}

func nowText() string { return fmtTime(time.Now()) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("orchestration/redis: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// millis converts a timestamp to the epoch-millisecond scores used by the
// sorted set indexes.
func millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalMap(s string) map[string]string {
	if s == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// ── Run conversion ──

func runToMap(r *workflow.Run) map[string]any {
	var workerID string
	if !r.WorkerID.IsNil() {
		workerID = r.WorkerID.String()
	}
	var parentID string
	if r.ParentRunID != nil {
		parentID = r.ParentRunID.String()
	}

	return map[string]any{
		"id":            r.ID.String(),
		"name":          r.Name,
		"version":       strconv.Itoa(r.Version),
		"status":        string(r.Status),
		"input":         string(r.Input),
		"output":        string(r.Output),
		"error":         r.Error,
		"parent_run_id": parentID,
		"scope_app_id":  r.ScopeAppID,
		"scope_org_id":  r.ScopeOrgID,
		"worker_id":     workerID,
		"lease_until":   fmtTimePtr(r.LeaseUntil),
		"await_token":   r.AwaitToken,
		"wake_at":       fmtTimePtr(r.WakeAt),
		"started_at":    fmtTimePtr(r.StartedAt),
		"completed_at":  fmtTimePtr(r.CompletedAt),
		"created_at":    fmtTime(r.CreatedAt),
		"updated_at":    fmtTime(r.UpdatedAt),
	}
}

func mapToRun(m map[string]string) (*workflow.Run, error) {
	runID, err := id.ParseRunID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: parse run id: %w", err)
	}

	createdAt, err := parseTime(m["created_at"])
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m["updated_at"])
	if err != nil {
		return nil, err
	}

	version, _ := strconv.Atoi(m["version"])

	r := &workflow.Run{
		Entity:     orchestration.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:         runID,
		Name:       m["name"],
		Version:    version,
		Status:     workflow.Status(m["status"]),
		Error:      m["error"],
		ScopeAppID: m["scope_app_id"],
		ScopeOrgID: m["scope_org_id"],
		AwaitToken: m["await_token"],
	}

	if v := m["input"]; v != "" {
		r.Input = []byte(v)
	}
	if v := m["output"]; v != "" {
		r.Output = []byte(v)
	}
	if v := m["parent_run_id"]; v != "" {
		parent, pErr := id.ParseRunID(v)
		if pErr != nil {
			return nil, fmt.Errorf("orchestration/redis: parse parent run id: %w", pErr)
		}
		r.ParentRunID = &parent
	}
	if v := m["worker_id"]; v != "" {
		workerID, wErr := id.ParseWorkerID(v)
		if wErr != nil {
			return nil, fmt.Errorf("orchestration/redis: parse worker id: %w", wErr)
		}
		r.WorkerID = workerID
	}

	if r.LeaseUntil, err = parseTimePtr(m["lease_until"]); err != nil {
		return nil, err
	}
	if r.WakeAt, err = parseTimePtr(m["wake_at"]); err != nil {
		return nil, err
	}
	if r.StartedAt, err = parseTimePtr(m["started_at"]); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = parseTimePtr(m["completed_at"]); err != nil {
		return nil, err
	}
	return r, nil
}

// ── Checkpoint conversion ──

func mapToCheckpoint(m map[string]string) (*workflow.Checkpoint, error) {
	cpID, err := id.ParseCheckpointID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: parse checkpoint id: %w", err)
	}
	runID, err := id.ParseRunID(m["run_id"])
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: parse checkpoint run id: %w", err)
	}
	createdAt, err := parseTime(m["created_at"])
	if err != nil {
		return nil, err
	}
	seq, _ := strconv.Atoi(m["seq"])

	return &workflow.Checkpoint{
		ID:        cpID,
		RunID:     runID,
		StepName:  m["step_name"],
		Seq:       seq,
		Data:      []byte(m["data"]),
		CreatedAt: createdAt,
	}, nil
}

// ── Hook conversion ──

func hookToMap(h *hook.Hook) map[string]any {
	return map[string]any{
		"id":          h.ID.String(),
		"run_id":      h.RunID.String(),
		"name":        h.Name,
		"kind":        h.Kind,
		"state":       string(h.State),
		"schema":      string(h.Schema),
		"payload":     string(h.Payload),
		"resolved_by": h.ResolvedBy,
		"expires_at":  fmtTime(h.ExpiresAt),
		"resolved_at": fmtTimePtr(h.ResolvedAt),
		"created_at":  fmtTime(h.CreatedAt),
		"updated_at":  fmtTime(h.UpdatedAt),
	}
}

func mapToHook(m map[string]string) (*hook.Hook, error) {
	token, err := id.ParseAny(m["id"])
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: parse hook token: %w", err)
	}
	runID, err := id.ParseRunID(m["run_id"])
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: parse hook run id: %w", err)
	}

	createdAt, err := parseTime(m["created_at"])
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m["updated_at"])
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseTime(m["expires_at"])
	if err != nil {
		return nil, err
	}

	h := &hook.Hook{
		Entity:     orchestration.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:         token,
		RunID:      runID,
		Name:       m["name"],
		Kind:       m["kind"],
		State:      hook.State(m["state"]),
		ResolvedBy: m["resolved_by"],
		ExpiresAt:  expiresAt,
	}

	if v := m["schema"]; v != "" {
		h.Schema = json.RawMessage(v)
	}
	if v := m["payload"]; v != "" {
		h.Payload = []byte(v)
	}
	if h.ResolvedAt, err = parseTimePtr(m["resolved_at"]); err != nil {
		return nil, err
	}
	return h, nil
}

// ── Event conversion ──

func eventToMap(evt *event.Event) map[string]any {
	return map[string]any{
		"id":           evt.ID.String(),
		"run_id":       evt.RunID.String(),
		"type":         string(evt.Type),
		"step_name":    evt.StepName,
		"hook_token":   evt.HookToken,
		"payload":      string(evt.Payload),
		"scope_app_id": evt.ScopeAppID,
		"scope_org_id": evt.ScopeOrgID,
		"created_at":   fmtTime(evt.CreatedAt),
	}
}

func mapToEvent(m map[string]string) (*event.Event, error) {
	evtID, err := id.ParseEventID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: parse event id: %w", err)
	}
	runID, err := id.ParseRunID(m["run_id"])
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: parse event run id: %w", err)
	}
	createdAt, err := parseTime(m["created_at"])
	if err != nil {
		return nil, err
	}

	evt := &event.Event{
		ID:         evtID,
		RunID:      runID,
		Type:       event.Type(m["type"]),
		StepName:   m["step_name"],
		HookToken:  m["hook_token"],
		ScopeAppID: m["scope_app_id"],
		ScopeOrgID: m["scope_org_id"],
		CreatedAt:  createdAt,
	}
	if v := m["payload"]; v != "" {
		evt.Payload = []byte(v)
	}
	return evt, nil
}

// ── Schedule conversion ──

func scheduleToMap(sched *cron.Schedule) map[string]any {
	return map[string]any{
		"id":           sched.ID.String(),
		"name":         sched.Name,
		"expr":         sched.Expr,
		"workflow":     sched.Workflow,
		"input":        string(sched.Input),
		"scope_app_id": sched.ScopeAppID,
		"scope_org_id": sched.ScopeOrgID,
		"last_run_at":  fmtTimePtr(sched.LastRunAt),
		"next_run_at":  fmtTimePtr(sched.NextRunAt),
		"locked_by":    sched.LockedBy,
		"locked_until": fmtTimePtr(sched.LockedUntil),
		"enabled":      boolToStr(sched.Enabled),
		"created_at":   fmtTime(sched.CreatedAt),
		"updated_at":   fmtTime(sched.UpdatedAt),
	}
}

func mapToSchedule(m map[string]string) (*cron.Schedule, error) {
	schedID, err := id.ParseScheduleID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: parse schedule id: %w", err)
	}

	createdAt, err := parseTime(m["created_at"])
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m["updated_at"])
	if err != nil {
		return nil, err
	}

	sched := &cron.Schedule{
		Entity:     orchestration.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:         schedID,
		Name:       m["name"],
		Expr:       m["expr"],
		Workflow:   m["workflow"],
		ScopeAppID: m["scope_app_id"],
		ScopeOrgID: m["scope_org_id"],
		LockedBy:   m["locked_by"],
		Enabled:    m["enabled"] == "1",
	}

	if v := m["input"]; v != "" {
		sched.Input = []byte(v)
	}
	if sched.LastRunAt, err = parseTimePtr(m["last_run_at"]); err != nil {
		return nil, err
	}
	if sched.NextRunAt, err = parseTimePtr(m["next_run_at"]); err != nil {
		return nil, err
	}
	if sched.LockedUntil, err = parseTimePtr(m["locked_until"]); err != nil {
		return nil, err
	}
	return sched, nil
}

// ── Worker conversion ──

func workerToMap(w *cluster.Worker) map[string]any {
	return map[string]any{
		"id":          w.ID.String(),
		"hostname":    w.Hostname,
		"workflows":   marshalJSON(w.Workflows),
		"concurrency": strconv.Itoa(w.Concurrency),
		"state":       string(w.State),
		"last_seen":   fmtTime(w.LastSeen),
		"metadata":    marshalJSON(w.Metadata),
		"created_at":  fmtTime(w.CreatedAt),
	}
}

func mapToWorker(m map[string]string) (*cluster.Worker, error) {
	workerID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: parse worker id: %w", err)
	}

	lastSeen, err := parseTime(m["last_seen"])
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(m["created_at"])
	if err != nil {
		return nil, err
	}
	concurrency, _ := strconv.Atoi(m["concurrency"])

	return &cluster.Worker{
		ID:          workerID,
		Hostname:    m["hostname"],
		Workflows:   unmarshalStrings(m["workflows"]),
		Concurrency: concurrency,
		State:       cluster.WorkerState(m["state"]),
		LastSeen:    lastSeen,
		Metadata:    unmarshalMap(m["metadata"]),
		CreatedAt:   createdAt,
	}, nil
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
