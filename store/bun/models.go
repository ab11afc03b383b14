package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ── Run model ─────────────────────────────────────────────────────

type runModel struct {
	bun.BaseModel `bun:"table:orch_runs"`

	ID          string     `bun:"id,pk"`
	Name        string     `bun:"name,notnull"`
	Version     int        `bun:"version,notnull,default:0"`
	Status      string     `bun:"status,notnull,default:'pending'"`
	Input       []byte     `bun:"input,type:bytea"`
	Output      []byte     `bun:"output,type:bytea"`
	Error       string     `bun:"error,notnull,default:''"`
	ParentRunID *string    `bun:"parent_run_id"`
	ScopeAppID  string     `bun:"scope_app_id"`
	ScopeOrgID  string     `bun:"scope_org_id"`
	WorkerID    *string    `bun:"worker_id"`
	LeaseUntil  *time.Time `bun:"lease_until"`
	AwaitToken  string     `bun:"await_token"`
	WakeAt      *time.Time `bun:"wake_at"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

func toRunModel(r *workflow.Run) *runModel {
	m := &runModel{
		ID:          r.ID.String(),
		Name:        r.Name,
		Version:     r.Version,
		Status:      string(r.Status),
		Input:       r.Input,
		Output:      r.Output,
		Error:       r.Error,
		ScopeAppID:  r.ScopeAppID,
		ScopeOrgID:  r.ScopeOrgID,
		LeaseUntil:  r.LeaseUntil,
		AwaitToken:  r.AwaitToken,
		WakeAt:      r.WakeAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.ParentRunID != nil {
		parent := r.ParentRunID.String()
		m.ParentRunID = &parent
	}
	if !r.WorkerID.IsNil() {
		worker := r.WorkerID.String()
		m.WorkerID = &worker
	}
	return m
}

func fromRunModel(m *runModel) (*workflow.Run, error) {
	runID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: parse run id %q: %w", m.ID, err)
	}

	r := &workflow.Run{
		Entity: orchestration.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          runID,
		Name:        m.Name,
		Version:     m.Version,
		Status:      workflow.Status(m.Status),
		Input:       m.Input,
		Output:      m.Output,
		Error:       m.Error,
		ScopeAppID:  m.ScopeAppID,
		ScopeOrgID:  m.ScopeOrgID,
		LeaseUntil:  m.LeaseUntil,
		AwaitToken:  m.AwaitToken,
		WakeAt:      m.WakeAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}

	if m.ParentRunID != nil {
		parent, pErr := id.ParseRunID(*m.ParentRunID)
		if pErr != nil {
			return nil, fmt.Errorf("orchestration/bun: parse parent run id %q: %w", *m.ParentRunID, pErr)
		}
		r.ParentRunID = &parent
	}
	if m.WorkerID != nil {
		workerID, wErr := id.ParseWorkerID(*m.WorkerID)
		if wErr != nil {
			return nil, fmt.Errorf("orchestration/bun: parse worker id %q: %w", *m.WorkerID, wErr)
		}
		r.WorkerID = workerID
	}
	return r, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	bun.BaseModel `bun:"table:orch_checkpoints"`

	ID        string    `bun:"id,pk"`
	RunID     string    `bun:"run_id,notnull"`
	StepName  string    `bun:"step_name,notnull"`
	Seq       int       `bun:"seq,notnull"`
	Data      []byte    `bun:"data,type:bytea"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func fromCheckpointModel(m *checkpointModel) (*workflow.Checkpoint, error) {
	cpID, err := id.ParseCheckpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: parse checkpoint id %q: %w", m.ID, err)
	}
	runID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: parse run id %q: %w", m.RunID, err)
	}

	return &workflow.Checkpoint{
		ID:        cpID,
		RunID:     runID,
		StepName:  m.StepName,
		Seq:       m.Seq,
		Data:      m.Data,
		CreatedAt: m.CreatedAt,
	}, nil
}

// ── Hook model ────────────────────────────────────────────────────

type hookModel struct {
	bun.BaseModel `bun:"table:orch_hooks"`

	ID         string     `bun:"id,pk"`
	RunID      string     `bun:"run_id,notnull"`
	Name       string     `bun:"name,notnull"`
	Kind       string     `bun:"kind,notnull"`
	State      string     `bun:"state,notnull,default:'pending'"`
	Schema     []byte     `bun:"schema,type:jsonb"`
	Payload    []byte     `bun:"payload,type:bytea"`
	ResolvedBy string     `bun:"resolved_by"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull"`
	ResolvedAt *time.Time `bun:"resolved_at"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull"`
}

func toHookModel(h *hook.Hook) *hookModel {
	return &hookModel{
		ID:         h.ID.String(),
		RunID:      h.RunID.String(),
		Name:       h.Name,
		Kind:       h.Kind,
		State:      string(h.State),
		Schema:     h.Schema,
		Payload:    h.Payload,
		ResolvedBy: h.ResolvedBy,
		ExpiresAt:  h.ExpiresAt,
		ResolvedAt: h.ResolvedAt,
		CreatedAt:  h.CreatedAt,
		UpdatedAt:  h.UpdatedAt,
	}
}

func fromHookModel(m *hookModel) (*hook.Hook, error) {
	token, err := id.ParseAny(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: parse hook token %q: %w", m.ID, err)
	}
	runID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: parse run id %q: %w", m.RunID, err)
	}

	h := &hook.Hook{
		Entity: orchestration.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         token,
		RunID:      runID,
		Name:       m.Name,
		Kind:       m.Kind,
		State:      hook.State(m.State),
		Payload:    m.Payload,
		ResolvedBy: m.ResolvedBy,
		ExpiresAt:  m.ExpiresAt,
		ResolvedAt: m.ResolvedAt,
	}
	if len(m.Schema) > 0 {
		h.Schema = json.RawMessage(m.Schema)
	}
	return h, nil
}

// ── Event model ───────────────────────────────────────────────────

type eventModel struct {
	bun.BaseModel `bun:"table:orch_events"`

	Seq        int64     `bun:"seq,pk,autoincrement"`
	ID         string    `bun:"id,notnull,unique"`
	RunID      string    `bun:"run_id,notnull"`
	Type       string    `bun:"type,notnull"`
	StepName   string    `bun:"step_name"`
	HookToken  string    `bun:"hook_token"`
	Payload    []byte    `bun:"payload,type:bytea"`
	ScopeAppID string    `bun:"scope_app_id"`
	ScopeOrgID string    `bun:"scope_org_id"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:         evt.ID.String(),
		RunID:      evt.RunID.String(),
		Type:       string(evt.Type),
		StepName:   evt.StepName,
		HookToken:  evt.HookToken,
		Payload:    evt.Payload,
		ScopeAppID: evt.ScopeAppID,
		ScopeOrgID: evt.ScopeOrgID,
		CreatedAt:  evt.CreatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: parse event id %q: %w", m.ID, err)
	}
	runID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: parse run id %q: %w", m.RunID, err)
	}

	return &event.Event{
		ID:         evtID,
		RunID:      runID,
		Type:       event.Type(m.Type),
		StepName:   m.StepName,
		HookToken:  m.HookToken,
		Payload:    m.Payload,
		ScopeAppID: m.ScopeAppID,
		ScopeOrgID: m.ScopeOrgID,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// ── Schedule model ────────────────────────────────────────────────

type scheduleModel struct {
	bun.BaseModel `bun:"table:orch_schedules"`

	ID          string     `bun:"id,pk"`
	Name        string     `bun:"name,notnull,unique"`
	Expr        string     `bun:"expr,notnull"`
	Workflow    string     `bun:"workflow,notnull"`
	Input       []byte     `bun:"input,type:bytea"`
	ScopeAppID  string     `bun:"scope_app_id"`
	ScopeOrgID  string     `bun:"scope_org_id"`
	LastRunAt   *time.Time `bun:"last_run_at"`
	NextRunAt   *time.Time `bun:"next_run_at"`
	LockedBy    string     `bun:"locked_by"`
	LockedUntil *time.Time `bun:"locked_until"`
	Enabled     bool       `bun:"enabled,notnull,default:true"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

func toScheduleModel(sched *cron.Schedule) *scheduleModel {
	return &scheduleModel{
		ID:          sched.ID.String(),
		Name:        sched.Name,
		Expr:        sched.Expr,
		Workflow:    sched.Workflow,
		Input:       sched.Input,
		ScopeAppID:  sched.ScopeAppID,
		ScopeOrgID:  sched.ScopeOrgID,
		LastRunAt:   sched.LastRunAt,
		NextRunAt:   sched.NextRunAt,
		LockedBy:    sched.LockedBy,
		LockedUntil: sched.LockedUntil,
		Enabled:     sched.Enabled,
		CreatedAt:   sched.CreatedAt,
		UpdatedAt:   sched.UpdatedAt,
	}
}

func fromScheduleModel(m *scheduleModel) (*cron.Schedule, error) {
	schedID, err := id.ParseScheduleID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: parse schedule id %q: %w", m.ID, err)
	}

	return &cron.Schedule{
		Entity: orchestration.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          schedID,
		Name:        m.Name,
		Expr:        m.Expr,
		Workflow:    m.Workflow,
		Input:       m.Input,
		ScopeAppID:  m.ScopeAppID,
		ScopeOrgID:  m.ScopeOrgID,
		LastRunAt:   m.LastRunAt,
		NextRunAt:   m.NextRunAt,
		LockedBy:    m.LockedBy,
		LockedUntil: m.LockedUntil,
		Enabled:     m.Enabled,
	}, nil
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	bun.BaseModel `bun:"table:orch_workers"`

	ID          string            `bun:"id,pk"`
	Hostname    string            `bun:"hostname,notnull"`
	Workflows   []string          `bun:"workflows,array"`
	Concurrency int               `bun:"concurrency,notnull,default:0"`
	State       string            `bun:"state,notnull,default:'active'"`
	Metadata    map[string]string `bun:"metadata,type:jsonb"`
	LastSeen    time.Time         `bun:"last_seen,notnull"`
	CreatedAt   time.Time         `bun:"created_at,notnull"`
}

func toWorkerModel(w *cluster.Worker) *workerModel {
	return &workerModel{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		Workflows:   w.Workflows,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		Metadata:    w.Metadata,
		LastSeen:    w.LastSeen,
		CreatedAt:   w.CreatedAt,
	}
}

func fromWorkerModel(m *workerModel) (*cluster.Worker, error) {
	workerID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: parse worker id %q: %w", m.ID, err)
	}

	return &cluster.Worker{
		ID:          workerID,
		Hostname:    m.Hostname,
		Workflows:   m.Workflows,
		Concurrency: m.Concurrency,
		State:       cluster.WorkerState(m.State),
		LastSeen:    m.LastSeen,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}, nil
}

// ── Leader model ──────────────────────────────────────────────────

// leaderModel is the single row in orch_leader. Leadership is derived
// from it at read time; worker rows never store it.
type leaderModel struct {
	bun.BaseModel `bun:"table:orch_leader"`

	ID       int       `bun:"id,pk"`
	WorkerID string    `bun:"worker_id,notnull"`
	Until    time.Time `bun:"until,notnull"`
}
