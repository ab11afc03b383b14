package cron

import (
	"context"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Store defines the persistence contract for schedules.
type Store interface {
	// RegisterSchedule persists a new schedule. Returns an error if the
	// name already exists.
	RegisterSchedule(ctx context.Context, s *Schedule) error

	// GetSchedule retrieves a schedule by ID.
	GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*Schedule, error)

	// ListSchedules returns all schedules.
	ListSchedules(ctx context.Context) ([]*Schedule, error)

	// AcquireScheduleLock attempts to acquire a distributed lock for a
	// schedule. Returns true if the lock was acquired. The lock expires
	// after ttl.
	AcquireScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseScheduleLock releases the distributed lock for a schedule.
	ReleaseScheduleLock(ctx context.Context, scheduleID id.ScheduleID, workerID id.WorkerID) error

	// UpdateScheduleLastRun records when a schedule last fired.
	UpdateScheduleLastRun(ctx context.Context, scheduleID id.ScheduleID, at time.Time) error

	// UpdateSchedule updates a schedule (Enabled, NextRunAt, etc.).
	UpdateSchedule(ctx context.Context, s *Schedule) error

	// DeleteSchedule removes a schedule by ID.
	DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error
}
