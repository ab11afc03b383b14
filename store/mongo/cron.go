package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterSchedule persists a new schedule. The unique name index is the
// duplicate gate.
func (s *Store) RegisterSchedule(ctx context.Context, sched *cron.Schedule) error {
	if _, err := s.col(colSchedules).InsertOne(ctx, toScheduleModel(sched)); err != nil {
		if isDuplicateKey(err) {
			return orchestration.ErrDuplicateSchedule
		}
		return fmt.Errorf("orchestration/mongo: register schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*cron.Schedule, error) {
	var m scheduleModel
	err := s.col(colSchedules).FindOne(ctx, bson.M{"_id": scheduleID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, orchestration.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("orchestration/mongo: get schedule: %w", err)
	}
	return fromScheduleModel(&m)
}

// ListSchedules returns all schedules, oldest first.
func (s *Store) ListSchedules(ctx context.Context) ([]*cron.Schedule, error) {
	cursor, err := s.col(colSchedules).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: list schedules: %w", err)
	}

	var models []scheduleModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("orchestration/mongo: list schedules decode: %w", err)
	}

	schedules := make([]*cron.Schedule, 0, len(models))
	for i := range models {
		sched, convErr := fromScheduleModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}

// AcquireScheduleLock attempts to acquire the distributed lock for a
// schedule. The precondition (free, lapsed, or self-held) lives in the
// update filter.
func (s *Store) AcquireScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	t := now()

	res, err := s.col(colSchedules).UpdateOne(ctx,
		bson.M{
			"_id": scheduleID.String(),
			"$or": bson.A{
				bson.M{"locked_by": ""},
				bson.M{"locked_by": workerID.String()},
				bson.M{"locked_until": bson.M{"$exists": false}},
				bson.M{"locked_until": bson.M{"$lte": t}},
			},
		},
		bson.M{"$set": bson.M{
			"locked_by":    workerID.String(),
			"locked_until": t.Add(ttl),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("orchestration/mongo: acquire schedule lock: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	// Locked by another worker, or the schedule is gone.
	if _, getErr := s.GetSchedule(ctx, scheduleID); getErr != nil {
		return false, getErr
	}
	return false, nil
}

// ReleaseScheduleLock releases the distributed lock for a schedule.
// Releasing a lock held by another worker is a no-op.
func (s *Store) ReleaseScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID) error {
	res, err := s.col(colSchedules).UpdateOne(ctx,
		bson.M{"_id": scheduleID.String(), "locked_by": workerID.String()},
		bson.M{
			"$set":   bson.M{"locked_by": ""},
			"$unset": bson.M{"locked_until": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("orchestration/mongo: release schedule lock: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.GetSchedule(ctx, scheduleID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// UpdateScheduleLastRun records when a schedule last fired.
func (s *Store) UpdateScheduleLastRun(ctx context.Context, scheduleID id.ScheduleID, at time.Time) error {
	res, err := s.col(colSchedules).UpdateOne(ctx,
		bson.M{"_id": scheduleID.String()},
		bson.M{"$set": bson.M{"last_run_at": at, "updated_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("orchestration/mongo: update schedule last run: %w", err)
	}
	if res.MatchedCount == 0 {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}

// UpdateSchedule updates a schedule (Enabled, NextRunAt, etc.).
func (s *Store) UpdateSchedule(ctx context.Context, sched *cron.Schedule) error {
	m := toScheduleModel(sched)
	m.UpdatedAt = now()

	res, err := s.col(colSchedules).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("orchestration/mongo: update schedule: %w", err)
	}
	if res.MatchedCount == 0 {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	res, err := s.col(colSchedules).DeleteOne(ctx, bson.M{"_id": scheduleID.String()})
	if err != nil {
		return fmt.Errorf("orchestration/mongo: delete schedule: %w", err)
	}
	if res.DeletedCount == 0 {
		return orchestration.ErrScheduleNotFound
	}
	return nil
}
