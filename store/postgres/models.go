package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows, so one scan
// helper serves single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...any) error
}

// idOrNil converts an optional ID pointer into a query parameter:
// NULL when the pointer is nil, the ID otherwise.
func idOrNil(v *id.ID) any {
	if v == nil {
		return nil
	}
	return *v
}

const runColumns = `id, name, version, status, input, output, error,
	parent_run_id, scope_app_id, scope_org_id,
	worker_id, lease_until, await_token, wake_at,
	started_at, completed_at, created_at, updated_at`

func scanRun(rs rowScanner) (*workflow.Run, error) {
	var (
		run    workflow.Run
		status string
		parent id.RunID
	)

	err := rs.Scan(
		&run.ID, &run.Name, &run.Version, &status, &run.Input, &run.Output, &run.Error,
		&parent, &run.ScopeAppID, &run.ScopeOrgID,
		&run.WorkerID, &run.LeaseUntil, &run.AwaitToken, &run.WakeAt,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = workflow.Status(status)
	if !parent.IsNil() {
		run.ParentRunID = &parent
	}
	return &run, nil
}

const checkpointColumns = `id, run_id, step_name, seq, data, created_at`

func scanCheckpoint(rs rowScanner) (*workflow.Checkpoint, error) {
	var cp workflow.Checkpoint
	err := rs.Scan(&cp.ID, &cp.RunID, &cp.StepName, &cp.Seq, &cp.Data, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

const hookColumns = `id, run_id, name, kind, state, schema, payload,
	resolved_by, expires_at, resolved_at, created_at, updated_at`

func scanHook(rs rowScanner) (*hook.Hook, error) {
	var (
		h      hook.Hook
		state  string
		schema []byte
	)

	err := rs.Scan(
		&h.ID, &h.RunID, &h.Name, &h.Kind, &state, &schema, &h.Payload,
		&h.ResolvedBy, &h.ExpiresAt, &h.ResolvedAt, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	h.State = hook.State(state)
	if len(schema) > 0 {
		h.Schema = json.RawMessage(schema)
	}
	return &h, nil
}

const eventColumns = `id, run_id, type, step_name, hook_token, payload,
	scope_app_id, scope_org_id, created_at`

func scanEvent(rs rowScanner) (*event.Event, error) {
	var (
		evt     event.Event
		evtType string
	)

	err := rs.Scan(
		&evt.ID, &evt.RunID, &evtType, &evt.StepName, &evt.HookToken, &evt.Payload,
		&evt.ScopeAppID, &evt.ScopeOrgID, &evt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	evt.Type = event.Type(evtType)
	return &evt, nil
}

const scheduleColumns = `id, name, expr, workflow, input, scope_app_id, scope_org_id,
	last_run_at, next_run_at, locked_by, locked_until, enabled, created_at, updated_at`

func scanSchedule(rs rowScanner) (*cron.Schedule, error) {
	var s cron.Schedule
	err := rs.Scan(
		&s.ID, &s.Name, &s.Expr, &s.Workflow, &s.Input, &s.ScopeAppID, &s.ScopeOrgID,
		&s.LastRunAt, &s.NextRunAt, &s.LockedBy, &s.LockedUntil, &s.Enabled,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const workerColumns = `id, hostname, workflows, concurrency, state, metadata, last_seen, created_at`

func scanWorker(rs rowScanner) (*cluster.Worker, error) {
	var (
		w        cluster.Worker
		state    string
		metadata []byte
	)

	err := rs.Scan(
		&w.ID, &w.Hostname, &w.Workflows, &w.Concurrency, &state, &metadata,
		&w.LastSeen, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.State = cluster.WorkerState(state)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &w.Metadata); err != nil {
			return nil, fmt.Errorf("orchestration/postgres: decode worker metadata: %w", err)
		}
	}
	return &w, nil
}
