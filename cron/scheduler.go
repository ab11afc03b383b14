package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/scope"
)

// StartFunc is the callback the scheduler uses to start workflow runs.
// This breaks the import cycle: the engine provides the implementation.
type StartFunc func(ctx context.Context, workflow string, input []byte) (id.RunID, error)

// Emitter emits schedule lifecycle events.
// ext.Registry satisfies this interface via EmitScheduleFired.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, scheduleName string, runID id.RunID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due schedules.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-schedule distributed locks.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithLeaderTTL sets the TTL for leader election.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseExpr parses a cron expression and returns the schedule.
// Exported for use by engine.RegisterSchedule.
func ParseExpr(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires due schedules on a tick loop. Only the cluster
// leader executes ticks to prevent double-firing.
type Scheduler struct {
	cronStore    Store
	clusterStore cluster.Store
	start        StartFunc
	emitter      Emitter
	workerID     id.WorkerID
	logger       *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration
	leaderTTL    time.Duration

	// parsedExprs caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	cronStore Store,
	clusterStore cluster.Store,
	start StartFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cronStore:    cronStore,
		clusterStore: clusterStore,
		start:        start,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 1 * time.Second,
		lockTTL:      30 * time.Second,
		leaderTTL:    15 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the leader election and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for goroutines to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// leaderLoop continuously attempts to acquire or renew leadership.
func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	renewInterval := s.leaderTTL / 2
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	// Try once immediately at start.
	s.tryLeadership()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Scheduler) tryLeadership() {
	ctx := context.Background()

	// Try to renew first (cheap if already leader).
	renewed, err := s.clusterStore.RenewLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	// Not leader yet; try to acquire.
	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired scheduler leadership", slog.String("worker_id", s.workerID.String()))
	}
}

// tickLoop fires on each tick interval and processes due schedules.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	// Check if we are the leader.
	leader, err := s.clusterStore.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return
	}
	if leader == nil || leader.ID.String() != s.workerID.String() {
		return // Not the leader; skip.
	}

	// List all schedules.
	schedules, err := s.cronStore.ListSchedules(ctx)
	if err != nil {
		s.logger.Error("list schedules error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if sched.NextRunAt == nil || sched.NextRunAt.After(now) {
			continue
		}
		s.fireSchedule(ctx, sched, now)
	}
}

func (s *Scheduler) fireSchedule(ctx context.Context, sched *Schedule, now time.Time) {
	// Acquire per-schedule lock.
	acquired, err := s.cronStore.AcquireScheduleLock(ctx, sched.ID, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire schedule lock error",
			slog.String("schedule_id", sched.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // Another worker got it.
	}

	// Start the run under the schedule's tenant scope.
	startCtx := scope.Restore(ctx, sched.ScopeAppID, sched.ScopeOrgID)
	runID, startErr := s.start(startCtx, sched.Workflow, sched.Input)
	if startErr != nil {
		s.logger.Error("schedule start error",
			slog.String("schedule_name", sched.Name),
			slog.String("workflow", sched.Workflow),
			slog.String("error", startErr.Error()),
		)
		if relErr := s.cronStore.ReleaseScheduleLock(ctx, sched.ID, s.workerID); relErr != nil {
			s.logger.Error("release schedule lock error",
				slog.String("schedule_id", sched.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
		return
	}

	// Update LastRunAt.
	if updateErr := s.cronStore.UpdateScheduleLastRun(ctx, sched.ID, now); updateErr != nil {
		s.logger.Error("update schedule last run error",
			slog.String("schedule_id", sched.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}

	// Compute and persist NextRunAt.
	parsed, parseErr := s.getOrParseExpr(sched.Expr)
	if parseErr != nil {
		s.logger.Error("parse schedule expr error",
			slog.String("schedule_name", sched.Name),
			slog.String("expr", sched.Expr),
			slog.String("error", parseErr.Error()),
		)
	} else {
		next := parsed.Next(now)
		sched.NextRunAt = &next
		if updateErr := s.cronStore.UpdateSchedule(ctx, sched); updateErr != nil {
			s.logger.Error("update schedule next run error",
				slog.String("schedule_id", sched.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
	}

	// Release lock.
	if relErr := s.cronStore.ReleaseScheduleLock(ctx, sched.ID, s.workerID); relErr != nil {
		s.logger.Error("release schedule lock error",
			slog.String("schedule_id", sched.ID.String()),
			slog.String("error", relErr.Error()),
		)
	}

	// Emit hook.
	if s.emitter != nil {
		s.emitter.EmitScheduleFired(ctx, sched.Name, runID)
	}

	s.logger.Info("schedule fired",
		slog.String("schedule_name", sched.Name),
		slog.String("workflow", sched.Workflow),
		slog.String("run_id", runID.String()),
	)
}

// getOrParseExpr caches parsed cron expressions.
func (s *Scheduler) getOrParseExpr(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	parsed, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return parsed, nil
	}

	parsed, err := ParseExpr(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = parsed
	s.parsedMu.Unlock()
	return parsed, nil
}
