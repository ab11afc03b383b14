package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterSchedule persists a new schedule. Schedule names are unique.
func (s *Store) RegisterSchedule(ctx context.Context, sched *cron.Schedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orch_schedules (
			id, name, expr, workflow, input, scope_app_id, scope_org_id,
			last_run_at, next_run_at, locked_by, locked_until, enabled,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		sched.ID, sched.Name, sched.Expr, sched.Workflow, sched.Input,
		sched.ScopeAppID, sched.ScopeOrgID,
		sched.LastRunAt, sched.NextRunAt, sched.LockedBy, sched.LockedUntil,
		sched.Enabled, sched.CreatedAt, sched.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return orchestration.ErrDuplicateSchedule
		}
		return fmt.Errorf("orchestration/postgres: register schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*cron.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM orch_schedules WHERE id = $1`, scheduleID)

	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orchestration.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("orchestration/postgres: get schedule: %w", err)
	}
	return sched, nil
}

// ListSchedules returns all schedules, oldest first.
func (s *Store) ListSchedules(ctx context.Context) ([]*cron.Schedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM orch_schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("orchestration/postgres: list schedules: %w", err)
	}
	defer rows.Close()

	var result []*cron.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/postgres: scan schedule: %w", err)
		}
		result = append(result, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/postgres: iterate schedules: %w", err)
	}
	return result, nil
}

// AcquireScheduleLock attempts to acquire the distributed lock for a
// schedule. The conditional UPDATE succeeds for the first worker in,
// for the current holder re-acquiring, or once the previous hold lapses.
func (s *Store) AcquireScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		UPDATE orch_schedules SET locked_by = $2, locked_until = $3
		WHERE id = $1
		  AND (locked_by = ''
		       OR locked_by = $2
		       OR locked_until IS NULL
		       OR locked_until <= $4)
	`, scheduleID, workerID.String(), now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("orchestration/postgres: acquire schedule lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE orch_schedules SET locked_by = '', locked_until = NULL
		WHERE id = $1 AND locked_by = $2
	`, scheduleID, workerID.String())
	if err != nil {
		return fmt.Errorf("orchestration/postgres: release schedule lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetSchedule(ctx, scheduleID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// UpdateScheduleLastRun records when a schedule last fired.
func (s *Store) UpdateScheduleLastRun(ctx context.Context, scheduleID id.ScheduleID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orch_schedules SET last_run_at = $2, updated_at = NOW()
		WHERE id = $1
	`, scheduleID, at)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: update schedule last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}

// UpdateSchedule updates a schedule (Enabled, NextRunAt, etc.).
func (s *Store) UpdateSchedule(ctx context.Context, sched *cron.Schedule) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orch_schedules SET
			name = $2, expr = $3, workflow = $4, input = $5,
			scope_app_id = $6, scope_org_id = $7,
			last_run_at = $8, next_run_at = $9,
			locked_by = $10, locked_until = $11, enabled = $12,
			updated_at = NOW()
		WHERE id = $1
	`,
		sched.ID, sched.Name, sched.Expr, sched.Workflow, sched.Input,
		sched.ScopeAppID, sched.ScopeOrgID,
		sched.LastRunAt, sched.NextRunAt,
		sched.LockedBy, sched.LockedUntil, sched.Enabled,
	)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orch_schedules WHERE id = $1`, scheduleID)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}
