package sqlite

import (
	"context"
	"fmt"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterSchedule persists a new schedule. Schedule names are unique.
func (s *Store) RegisterSchedule(ctx context.Context, sched *cron.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_schedules (
			id, name, expr, workflow, input, scope_app_id, scope_org_id,
			last_run_at, next_run_at, locked_by, locked_until, enabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sched.ID, sched.Name, sched.Expr, sched.Workflow, sched.Input,
		sched.ScopeAppID, sched.ScopeOrgID,
		fmtTimePtr(sched.LastRunAt), fmtTimePtr(sched.NextRunAt),
		sched.LockedBy, fmtTimePtr(sched.LockedUntil), sched.Enabled,
		fmtTime(sched.CreatedAt), fmtTime(sched.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return orchestration.ErrDuplicateSchedule
		}
		return fmt.Errorf("orchestration/sqlite: register schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*cron.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM orch_schedules WHERE id = ?`, scheduleID)

	sched, err := scanSchedule(row)
	if err != nil {
		if isNoRows(err) {
			return nil, orchestration.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("orchestration/sqlite: get schedule: %w", err)
	}
	return sched, nil
}

// ListSchedules returns all schedules, oldest first.
func (s *Store) ListSchedules(ctx context.Context) ([]*cron.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM orch_schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: list schedules: %w", err)
	}
	defer rows.Close()

	var result []*cron.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/sqlite: scan schedule: %w", err)
		}
		result = append(result, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: iterate schedules: %w", err)
	}
	return result, nil
}

// AcquireScheduleLock attempts to acquire the distributed lock for a
// schedule.
func (s *Store) AcquireScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_schedules SET locked_by = ?, locked_until = ?
		WHERE id = ?
		  AND (locked_by = ''
		       OR locked_by = ?
		       OR locked_until IS NULL
		       OR locked_until <= ?)
	`, workerID.String(), fmtTime(now.Add(ttl)), scheduleID, workerID.String(), fmtTime(now))
	if err != nil {
		return false, fmt.Errorf("orchestration/sqlite: acquire schedule lock: %w", err)
	}
	if rowsAffected(res) == 0 {
		// Locked by another worker, or the schedule is gone.
		if _, getErr := s.GetSchedule(ctx, scheduleID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// ReleaseScheduleLock releases the distributed lock for a schedule.
// Releasing a lock held by another worker is a no-op.
func (s *Store) ReleaseScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_schedules SET locked_by = '', locked_until = NULL
		WHERE id = ? AND locked_by = ?
	`, scheduleID, workerID.String())
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: release schedule lock: %w", err)
	}
	if rowsAffected(res) == 0 {
		if _, getErr := s.GetSchedule(ctx, scheduleID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// UpdateScheduleLastRun records when a schedule last fired.
func (s *Store) UpdateScheduleLastRun(ctx context.Context, scheduleID id.ScheduleID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_schedules SET last_run_at = ?, updated_at = ?
		WHERE id = ?
	`, fmtTime(at), nowText(), scheduleID)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: update schedule last run: %w", err)
	}
	return requireRowAffected(res, orchestration.ErrScheduleNotFound)
}

// UpdateSchedule updates a schedule (Enabled, NextRunAt, etc.).
func (s *Store) UpdateSchedule(ctx context.Context, sched *cron.Schedule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_schedules SET
			name = ?, expr = ?, workflow = ?, input = ?,
			scope_app_id = ?, scope_org_id = ?,
			last_run_at = ?, next_run_at = ?,
			locked_by = ?, locked_until = ?, enabled = ?,
			updated_at = ?
		WHERE id = ?
	`,
		sched.Name, sched.Expr, sched.Workflow, sched.Input,
		sched.ScopeAppID, sched.ScopeOrgID,
		fmtTimePtr(sched.LastRunAt), fmtTimePtr(sched.NextRunAt),
		sched.LockedBy, fmtTimePtr(sched.LockedUntil), sched.Enabled,
		nowText(), sched.ID,
	)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: update schedule: %w", err)
	}
	return requireRowAffected(res, orchestration.ErrScheduleNotFound)
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM orch_schedules WHERE id = ?`, scheduleID)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: delete schedule: %w", err)
	}
	return requireRowAffected(res, orchestration.ErrScheduleNotFound)
}
