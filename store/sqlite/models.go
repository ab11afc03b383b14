package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// timeLayout pads fractional seconds to nine digits so stored UTC
// timestamps sort chronologically under plain string comparison.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowText() string {
	return time.Now().UTC().Format(timeLayout)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// fmtTimePtr renders an optional time as a query parameter: NULL when nil.
func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("orchestration/sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// idOrNil converts an optional ID pointer into a query parameter:
// NULL when the pointer is nil, the ID otherwise.
func idOrNil(v *id.ID) any {
	if v == nil {
		return nil
	}
	return *v
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const runColumns = `id, name, version, status, input, output, error,
	parent_run_id, scope_app_id, scope_org_id,
	worker_id, lease_until, await_token, wake_at,
	started_at, completed_at, created_at, updated_at`

func scanRun(rs rowScanner) (*workflow.Run, error) {
	var (
		run                  workflow.Run
		status               string
		parent               id.RunID
		leaseUntil, wakeAt   sql.NullString
		startedAt, completed sql.NullString
		createdAt, updatedAt string
	)

	err := rs.Scan(
		&run.ID, &run.Name, &run.Version, &status, &run.Input, &run.Output, &run.Error,
		&parent, &run.ScopeAppID, &run.ScopeOrgID,
		&run.WorkerID, &leaseUntil, &run.AwaitToken, &wakeAt,
		&startedAt, &completed, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = workflow.Status(status)
	if !parent.IsNil() {
		run.ParentRunID = &parent
	}
	if run.LeaseUntil, err = parseTimePtr(leaseUntil); err != nil {
		return nil, err
	}
	if run.WakeAt, err = parseTimePtr(wakeAt); err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

const checkpointColumns = `id, run_id, step_name, seq, data, created_at`

func scanCheckpoint(rs rowScanner) (*workflow.Checkpoint, error) {
	var (
		cp        workflow.Checkpoint
		createdAt string
	)

	err := rs.Scan(&cp.ID, &cp.RunID, &cp.StepName, &cp.Seq, &cp.Data, &createdAt)
	if err != nil {
		return nil, err
	}
	if cp.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &cp, nil
}

const hookColumns = `id, run_id, name, kind, state, schema, payload,
	resolved_by, expires_at, resolved_at, created_at, updated_at`

func scanHook(rs rowScanner) (*hook.Hook, error) {
	var (
		h                    hook.Hook
		state                string
		schema               sql.NullString
		expiresAt            string
		resolvedAt           sql.NullString
		createdAt, updatedAt string
	)

	err := rs.Scan(
		&h.ID, &h.RunID, &h.Name, &h.Kind, &state, &schema, &h.Payload,
		&h.ResolvedBy, &expiresAt, &resolvedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	h.State = hook.State(state)
	if schema.Valid && schema.String != "" {
		h.Schema = json.RawMessage(schema.String)
	}
	if h.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if h.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return nil, err
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if h.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

const eventColumns = `id, run_id, type, step_name, hook_token, payload,
	scope_app_id, scope_org_id, created_at`

func scanEvent(rs rowScanner) (*event.Event, error) {
	var (
		evt       event.Event
		evtType   string
		createdAt string
	)

	err := rs.Scan(
		&evt.ID, &evt.RunID, &evtType, &evt.StepName, &evt.HookToken, &evt.Payload,
		&evt.ScopeAppID, &evt.ScopeOrgID, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	evt.Type = event.Type(evtType)
	if evt.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &evt, nil
}

const scheduleColumns = `id, name, expr, workflow, input, scope_app_id, scope_org_id,
	last_run_at, next_run_at, locked_by, locked_until, enabled, created_at, updated_at`

func scanSchedule(rs rowScanner) (*cron.Schedule, error) {
	var (
		s                    cron.Schedule
		lastRun, nextRun     sql.NullString
		lockedUntil          sql.NullString
		createdAt, updatedAt string
	)

	err := rs.Scan(
		&s.ID, &s.Name, &s.Expr, &s.Workflow, &s.Input, &s.ScopeAppID, &s.ScopeOrgID,
		&lastRun, &nextRun, &s.LockedBy, &lockedUntil, &s.Enabled,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.LastRunAt, err = parseTimePtr(lastRun); err != nil {
		return nil, err
	}
	if s.NextRunAt, err = parseTimePtr(nextRun); err != nil {
		return nil, err
	}
	if s.LockedUntil, err = parseTimePtr(lockedUntil); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

const workerColumns = `id, hostname, workflows, concurrency, state, metadata, last_seen, created_at`

func scanWorker(rs rowScanner) (*cluster.Worker, error) {
	var (
		w         cluster.Worker
		state     string
		workflows string
		metadata  sql.NullString
		lastSeen  string
		createdAt string
	)

	err := rs.Scan(
		&w.ID, &w.Hostname, &workflows, &w.Concurrency, &state, &metadata,
		&lastSeen, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	w.State = cluster.WorkerState(state)
	if workflows != "" {
		if err := json.Unmarshal([]byte(workflows), &w.Workflows); err != nil {
			return nil, fmt.Errorf("orchestration/sqlite: decode worker workflows: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &w.Metadata); err != nil {
			return nil, fmt.Errorf("orchestration/sqlite: decode worker metadata: %w", err)
		}
	}
	if w.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &w, nil
}
