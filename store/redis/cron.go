package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterSchedule persists a new schedule. The HSETNX on the name index
// is the duplicate gate: only one registration per name wins.
func (s *Store) RegisterSchedule(ctx context.Context, sched *cron.Schedule) error {
	sID := sched.ID.String()

	ok, err := s.client.HSetNX(ctx, scheduleNamesKey, sched.Name, sID).Result()
	if err != nil {
		return fmt.Errorf("orchestration/redis: register schedule name: %w", err)
	}
	if !ok {
		return orchestration.ErrDuplicateSchedule
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, scheduleKey(sID), scheduleToMap(sched))
	pipe.SAdd(ctx, scheduleIDsKey, sID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestration/redis: register schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*cron.Schedule, error) {
	vals, err := s.client.HGetAll(ctx, scheduleKey(scheduleID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: get schedule: %w", err)
	}
	if len(vals) == 0 {
		return nil, orchestration.ErrScheduleNotFound
	}
	return mapToSchedule(vals)
}

// ListSchedules returns all schedules, oldest first.
func (s *Store) ListSchedules(ctx context.Context) ([]*cron.Schedule, error) {
	ids, err := s.client.SMembers(ctx, scheduleIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: list schedules: %w", err)
	}

	schedules := make([]*cron.Schedule, 0, len(ids))
	for _, sID := range ids {
		vals, getErr := s.client.HGetAll(ctx, scheduleKey(sID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("orchestration/redis: list schedules: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		sched, convErr := mapToSchedule(vals)
		if convErr != nil {
			return nil, convErr
		}
		schedules = append(schedules, sched)
	}

	sort.Slice(schedules, func(i, j int) bool {
		if !schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
			return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
		}
		return schedules[i].ID.String() < schedules[j].ID.String()
	})
	return schedules, nil
}

// AcquireScheduleLock attempts to acquire the distributed lock for a
// schedule via the server-side compare-and-swap.
func (s *Store) AcquireScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	outcome, err := acquireScheduleLockScript.Run(ctx, s.client,
		[]string{scheduleKey(scheduleID.String())},
		workerID.String(),
		fmtTime(now.Add(ttl)),
		fmtTime(now),
	).Text()
	if err != nil {
		return false, fmt.Errorf("orchestration/redis: acquire schedule lock: %w", err)
	}

	switch outcome {
	case "ok":
		return true, nil
	case "held":
		return false, nil
	default:
		return false, orchestration.ErrScheduleNotFound
	}
}

// ReleaseScheduleLock releases the distributed lock for a schedule.
// Releasing a lock held by another worker is a no-op.
func (s *Store) ReleaseScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID) error {
	outcome, err := releaseScheduleLockScript.Run(ctx, s.client,
		[]string{scheduleKey(scheduleID.String())},
		workerID.String(),
	).Text()
	if err != nil {
		return fmt.Errorf("orchestration/redis: release schedule lock: %w", err)
	}
	if outcome != "ok" {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}

// UpdateScheduleLastRun records when a schedule last fired.
func (s *Store) UpdateScheduleLastRun(ctx context.Context, scheduleID id.ScheduleID, at time.Time) error {
	key := scheduleKey(scheduleID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("orchestration/redis: update schedule last run: %w", err)
	}
	if exists == 0 {
		return orchestration.ErrScheduleNotFound
	}

	if err := s.client.HSet(ctx, key,
		"last_run_at", fmtTime(at),
		"updated_at", nowText(),
	).Err(); err != nil {
		return fmt.Errorf("orchestration/redis: update schedule last run: %w", err)
	}
	return nil
}

// UpdateSchedule updates a schedule (Enabled, NextRunAt, etc.). Renames
// are not supported; the name index keeps the original binding.
func (s *Store) UpdateSchedule(ctx context.Context, sched *cron.Schedule) error {
	key := scheduleKey(sched.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("orchestration/redis: update schedule: %w", err)
	}
	if exists == 0 {
		return orchestration.ErrScheduleNotFound
	}

	m := scheduleToMap(sched)
	m["updated_at"] = nowText()
	if err := s.client.HSet(ctx, key, m).Err(); err != nil {
		return fmt.Errorf("orchestration/redis: update schedule: %w", err)
	}
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	sID := scheduleID.String()
	key := scheduleKey(sID)

	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("orchestration/redis: delete schedule: %w", err)
	}
	if len(vals) == 0 {
		return orchestration.ErrScheduleNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, scheduleIDsKey, sID)
	pipe.HDel(ctx, scheduleNamesKey, vals["name"])
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestration/redis: delete schedule: %w", err)
	}
	return nil
}
