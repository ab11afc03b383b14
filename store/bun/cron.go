package bunstore

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
	_, err := s.db.NewInsert().Model(toScheduleModel(sched)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return orchestration.ErrDuplicateSchedule
		}
		return fmt.Errorf("orchestration/bun: register schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*cron.Schedule, error) {
	m := new(scheduleModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", scheduleID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, orchestration.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("orchestration/bun: get schedule: %w", err)
	}
	return fromScheduleModel(m)
}

// ListSchedules returns all schedules, oldest first.
func (s *Store) ListSchedules(ctx context.Context) ([]*cron.Schedule, error) {
	var models []scheduleModel
	err := s.db.NewSelect().Model(&models).
		OrderExpr("created_at, id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: list schedules: %w", err)
	}

	var result []*cron.Schedule
	for i := range models {
		sched, err := fromScheduleModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, sched)
	}
	return result, nil
}

// AcquireScheduleLock attempts to acquire the distributed lock for a
// schedule. The conditional UPDATE succeeds for the first worker in,
// for the current holder re-acquiring, or once the previous hold lapses.
func (s *Store) AcquireScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	res, err := s.db.NewUpdate().Model((*scheduleModel)(nil)).
		Set("locked_by = ?", workerID.String()).
		Set("locked_until = ?", now.Add(ttl)).
		Where("id = ?", scheduleID.String()).
		Where("(locked_by = '' OR locked_by = ? OR locked_until IS NULL OR locked_until <= ?)",
			workerID.String(), now).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("orchestration/bun: acquire schedule lock: %w", err)
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
	res, err := s.db.NewUpdate().Model((*scheduleModel)(nil)).
		Set("locked_by = ''").
		Set("locked_until = NULL").
		Where("id = ?", scheduleID.String()).
		Where("locked_by = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: release schedule lock: %w", err)
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
	res, err := s.db.NewUpdate().Model((*scheduleModel)(nil)).
		Set("last_run_at = ?", at).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", scheduleID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: update schedule last run: %w", err)
	}
	if rowsAffected(res) == 0 {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}

// UpdateSchedule updates a schedule (Enabled, NextRunAt, etc.).
func (s *Store) UpdateSchedule(ctx context.Context, sched *cron.Schedule) error {
	m := toScheduleModel(sched)
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: update schedule: %w", err)
	}
	if rowsAffected(res) == 0 {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	res, err := s.db.NewDelete().Model((*scheduleModel)(nil)).
		Where("id = ?", scheduleID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: delete schedule: %w", err)
	}
	if rowsAffected(res) == 0 {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}
