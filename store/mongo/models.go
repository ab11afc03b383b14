package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ── Run model ──

type runModel struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Version     int        `bson:"version"`
	Status      string     `bson:"status"`
	Input       []byte     `bson:"input,omitempty"`
	Output      []byte     `bson:"output,omitempty"`
	Error       string     `bson:"error"`
	ParentRunID string     `bson:"parent_run_id,omitempty"`
	ScopeAppID  string     `bson:"scope_app_id,omitempty"`
	ScopeOrgID  string     `bson:"scope_org_id,omitempty"`
	WorkerID    string     `bson:"worker_id"`
	LeaseUntil  *time.Time `bson:"lease_until,omitempty"`
	AwaitToken  string     `bson:"await_token,omitempty"`
	WakeAt      *time.Time `bson:"wake_at,omitempty"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
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
		m.ParentRunID = r.ParentRunID.String()
	}
	if !r.WorkerID.IsNil() {
		m.WorkerID = r.WorkerID.String()
	}
	return m
}

func fromRunModel(m *runModel) (*workflow.Run, error) {
	runID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: parse run id %q: %w", m.ID, err)
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

	if m.ParentRunID != "" {
		parent, pErr := id.ParseRunID(m.ParentRunID)
		if pErr != nil {
			return nil, fmt.Errorf("orchestration/mongo: parse parent run id %q: %w", m.ParentRunID, pErr)
		}
		r.ParentRunID = &parent
	}
	if m.WorkerID != "" {
		workerID, wErr := id.ParseWorkerID(m.WorkerID)
		if wErr != nil {
			return nil, fmt.Errorf("orchestration/mongo: parse worker id %q: %w", m.WorkerID, wErr)
		}
		r.WorkerID = workerID
	}
	return r, nil
}

// ── Checkpoint model ──

type checkpointModel struct {
	ID        string    `bson:"_id"`
	RunID     string    `bson:"run_id"`
	StepName  string    `bson:"step_name"`
	Seq       int64     `bson:"seq"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

func fromCheckpointModel(m *checkpointModel) (*workflow.Checkpoint, error) {
	cpID, err := id.ParseCheckpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: parse checkpoint id %q: %w", m.ID, err)
	}
	runID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: parse run id %q: %w", m.RunID, err)
	}

	return &workflow.Checkpoint{
		ID:        cpID,
		RunID:     runID,
		StepName:  m.StepName,
		Seq:       int(m.Seq),
		Data:      m.Data,
		CreatedAt: m.CreatedAt,
	}, nil
}

// ── Hook model ──

type hookModel struct {
	ID         string     `bson:"_id"`
	RunID      string     `bson:"run_id"`
	Name       string     `bson:"name"`
	Kind       string     `bson:"kind"`
	State      string     `bson:"state"`
	Schema     []byte     `bson:"schema,omitempty"`
	Payload    []byte     `bson:"payload,omitempty"`
	ResolvedBy string     `bson:"resolved_by,omitempty"`
	ExpiresAt  time.Time  `bson:"expires_at"`
	ResolvedAt *time.Time `bson:"resolved_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
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
		return nil, fmt.Errorf("orchestration/mongo: parse hook token %q: %w", m.ID, err)
	}
	runID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: parse run id %q: %w", m.RunID, err)
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

// ── Event model ──

type eventModel struct {
	ID         string    `bson:"_id"`
	Seq        int64     `bson:"seq"`
	RunID      string    `bson:"run_id"`
	Type       string    `bson:"type"`
	StepName   string    `bson:"step_name,omitempty"`
	HookToken  string    `bson:"hook_token,omitempty"`
	Payload    []byte    `bson:"payload,omitempty"`
	ScopeAppID string    `bson:"scope_app_id,omitempty"`
	ScopeOrgID string    `bson:"scope_org_id,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: parse event id %q: %w", m.ID, err)
	}
	runID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: parse run id %q: %w", m.RunID, err)
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

// ── Schedule model ──

type scheduleModel struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Expr        string     `bson:"expr"`
	Workflow    string     `bson:"workflow"`
	Input       []byte     `bson:"input,omitempty"`
	ScopeAppID  string     `bson:"scope_app_id,omitempty"`
	ScopeOrgID  string     `bson:"scope_org_id,omitempty"`
	LastRunAt   *time.Time `bson:"last_run_at,omitempty"`
	NextRunAt   *time.Time `bson:"next_run_at,omitempty"`
	LockedBy    string     `bson:"locked_by"`
	LockedUntil *time.Time `bson:"locked_until,omitempty"`
	Enabled     bool       `bson:"enabled"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
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
		return nil, fmt.Errorf("orchestration/mongo: parse schedule id %q: %w", m.ID, err)
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

// ── Worker model ──

type workerModel struct {
	ID          string            `bson:"_id"`
	Hostname    string            `bson:"hostname"`
	Workflows   []string          `bson:"workflows"`
	Concurrency int               `bson:"concurrency"`
	State       string            `bson:"state"`
	LastSeen    time.Time         `bson:"last_seen"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
}

func toWorkerModel(w *cluster.Worker) *workerModel {
	return &workerModel{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		Workflows:   w.Workflows,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		LastSeen:    w.LastSeen,
		Metadata:    w.Metadata,
		CreatedAt:   w.CreatedAt,
	}
}

func fromWorkerModel(m *workerModel) (*cluster.Worker, error) {
	workerID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: parse worker id %q: %w", m.ID, err)
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

// ── Leader model ──

// leaderModel is the single document in orch_leader. Leadership is
// derived from it at read time; worker documents never store it.
type leaderModel struct {
	ID       string    `bson:"_id"`
	WorkerID string    `bson:"worker_id"`
	Until    time.Time `bson:"until"`
}

const leaderDocID = "leader"
