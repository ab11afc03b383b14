package cron_test

import (
	"context"
	"sync"
	"testing"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/store/memory"
)

// stubEmitter records EmitScheduleFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	calls []scheduleFiredCall
}

type scheduleFiredCall struct {
	ScheduleName string
	RunID        id.RunID
}

func (e *stubEmitter) EmitScheduleFired(_ context.Context, scheduleName string, runID id.RunID) {
	e.mu.Lock()
	e.calls = append(e.calls, scheduleFiredCall{ScheduleName: scheduleName, RunID: runID})
	e.mu.Unlock()
}

func (e *stubEmitter) getCalls() []scheduleFiredCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]scheduleFiredCall, len(e.calls))
	copy(out, e.calls)
	return out
}

// startSpy tracks start calls with thread safety.
type startSpy struct {
	mu    sync.Mutex
	calls []startCall
}

type startCall struct {
	Workflow string
	Input    []byte
}

func (s *startSpy) Fn() cron.StartFunc {
	return func(_ context.Context, workflow string, input []byte) (id.RunID, error) {
		s.mu.Lock()
		s.calls = append(s.calls, startCall{Workflow: workflow, Input: input})
		s.mu.Unlock()
		return id.NewRunID(), nil
	}
}

func (s *startSpy) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *startSpy) Workflows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Workflow
	}
	return out
}

func registerDueSchedule(t *testing.T, s *memory.Store, name, workflow string) *cron.Schedule {
	t.Helper()

	past := time.Now().UTC().Add(-1 * time.Second)
	sched := &cron.Schedule{
		Entity:    orchestration.NewEntity(),
		ID:        id.NewScheduleID(),
		Name:      name,
		Expr:      "@every 1s",
		Workflow:  workflow,
		Input:     []byte(`{}`),
		NextRunAt: &past,
		Enabled:   true,
	}

	if err := s.RegisterSchedule(context.Background(), sched); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}
	return sched
}

// newTestScheduler creates a working scheduler with leadership acquired.
func newTestScheduler(t *testing.T) (
	*cron.Scheduler,
	*memory.Store,
	*stubEmitter,
	*startSpy,
) {
	t.Helper()

	s := memory.New()
	emitter := &stubEmitter{}
	workerID := id.NewWorkerID()
	spy := &startSpy{}

	ctx := context.Background()

	// Register this worker and acquire leadership.
	w := &cluster.Worker{
		ID:        workerID,
		Hostname:  "test-host",
		State:     cluster.WorkerActive,
		LastSeen:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	acquired, err := s.AcquireLeadership(ctx, workerID, 30*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership: %v", err)
	}
	if !acquired {
		t.Fatal("failed to acquire leadership")
	}

	sched := cron.NewScheduler(
		s, s, spy.Fn(), emitter, workerID, nil,
		cron.WithTickInterval(50*time.Millisecond),
		cron.WithLeaderTTL(10*time.Second),
	)

	return sched, s, emitter, spy
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestScheduler_FiresOnSchedule(t *testing.T) {
	sched, s, emitter, spy := newTestScheduler(t)

	registerDueSchedule(t, s, "every-second", "nightly-report")

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for at least one fire.
	deadline := time.After(3 * time.Second)
	for spy.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for schedule to fire")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	workflows := spy.Workflows()
	if len(workflows) == 0 {
		t.Fatal("expected at least one start call")
	}
	if workflows[0] != "nightly-report" {
		t.Errorf("started workflow = %q, want %q", workflows[0], "nightly-report")
	}

	// Verify emitter was called.
	calls := emitter.getCalls()
	if len(calls) == 0 {
		t.Error("expected at least one EmitScheduleFired call")
	}
	if len(calls) > 0 && calls[0].ScheduleName != "every-second" {
		t.Errorf("emitter schedule name = %q, want %q", calls[0].ScheduleName, "every-second")
	}
}

func TestScheduler_SkipsDisabled(t *testing.T) {
	sched, s, _, spy := newTestScheduler(t)

	entry := registerDueSchedule(t, s, "disabled-schedule", "noop-workflow")

	// Disable the schedule.
	entry.Enabled = false
	if err := s.UpdateSchedule(context.Background(), entry); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait a bit — should NOT fire.
	time.Sleep(300 * time.Millisecond)

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if spy.Count() != 0 {
		t.Errorf("expected 0 start calls for disabled schedule, got %d", spy.Count())
	}
}

func TestScheduler_NonLeaderSkips(t *testing.T) {
	s := memory.New()
	emitter := &stubEmitter{}
	spy := &startSpy{}

	nonLeaderID := id.NewWorkerID()
	leaderID := id.NewWorkerID()

	ctx := context.Background()

	// Register both workers, but make leaderID the leader.
	for _, wid := range []id.WorkerID{leaderID, nonLeaderID} {
		w := &cluster.Worker{
			ID:        wid,
			Hostname:  "test",
			State:     cluster.WorkerActive,
			LastSeen:  time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	}
	acquired, err := s.AcquireLeadership(ctx, leaderID, 30*time.Second)
	if err != nil || !acquired {
		t.Fatalf("AcquireLeadership: acquired=%v err=%v", acquired, err)
	}

	// Create scheduler for the non-leader worker.
	sched := cron.NewScheduler(
		s, s, spy.Fn(), emitter, nonLeaderID, nil,
		cron.WithTickInterval(50*time.Millisecond),
		cron.WithLeaderTTL(10*time.Second),
	)

	registerDueSchedule(t, s, "leader-only", "test-workflow")

	if startErr := sched.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	// Wait a bit — non-leader should not fire.
	time.Sleep(300 * time.Millisecond)

	if stopErr := sched.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}

	if spy.Count() != 0 {
		t.Errorf("non-leader should not fire schedules, got %d calls", spy.Count())
	}
}

func TestScheduler_ComputesNextRunAt(t *testing.T) {
	sched, s, _, spy := newTestScheduler(t)

	entry := registerDueSchedule(t, s, "update-next", "compute-workflow")
	scheduleID := entry.ID

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for at least one fire.
	deadline := time.After(3 * time.Second)
	for spy.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for schedule to fire")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Verify NextRunAt was updated to a future time.
	updated, err := s.GetSchedule(context.Background(), scheduleID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if updated.NextRunAt == nil {
		t.Fatal("expected NextRunAt to be set")
	}
	// NextRunAt should be in the future (or very recent past due to timing).
	if updated.NextRunAt.Before(time.Now().UTC().Add(-2 * time.Second)) {
		t.Errorf("NextRunAt = %v, expected recent/future time", updated.NextRunAt)
	}

	// Verify LastRunAt was set.
	if updated.LastRunAt == nil {
		t.Error("expected LastRunAt to be set after firing")
	}
}

func TestScheduler_LockPreventsDoubleFire(t *testing.T) {
	s := memory.New()
	emitter := &stubEmitter{}
	spy := &startSpy{}
	workerID := id.NewWorkerID()

	ctx := context.Background()

	// Register worker and acquire leadership.
	w := &cluster.Worker{
		ID:        workerID,
		Hostname:  "test",
		State:     cluster.WorkerActive,
		LastSeen:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	acquired, err := s.AcquireLeadership(ctx, workerID, 30*time.Second)
	if err != nil || !acquired {
		t.Fatalf("AcquireLeadership: acquired=%v err=%v", acquired, err)
	}

	entry := registerDueSchedule(t, s, "locked-schedule", "locked-workflow")

	// Pre-acquire the lock for this schedule with a different worker.
	otherWorkerID := id.NewWorkerID()
	locked, lockErr := s.AcquireScheduleLock(ctx, entry.ID, otherWorkerID, 30*time.Second)
	if lockErr != nil {
		t.Fatalf("AcquireScheduleLock: %v", lockErr)
	}
	if !locked {
		t.Fatal("expected to acquire schedule lock")
	}

	sched := cron.NewScheduler(
		s, s, spy.Fn(), emitter, workerID, nil,
		cron.WithTickInterval(50*time.Millisecond),
		cron.WithLeaderTTL(10*time.Second),
	)

	if startErr := sched.Start(ctx); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	// Wait — scheduler should try but fail to acquire the lock.
	time.Sleep(300 * time.Millisecond)

	if stopErr := sched.Stop(ctx); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}

	if spy.Count() != 0 {
		t.Errorf("expected 0 fires with pre-locked schedule, got %d", spy.Count())
	}
}

func TestParseExpr(t *testing.T) {
	// Descriptor format.
	sched, err := cron.ParseExpr("@every 30s")
	if err != nil {
		t.Fatalf("ParseExpr(@every 30s): %v", err)
	}
	now := time.Now().UTC()
	next := sched.Next(now)
	if !next.After(now) {
		t.Errorf("Next(%v) = %v, expected future time", now, next)
	}

	// Standard 5-field expression.
	sched2, err := cron.ParseExpr("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseExpr(*/5 * * * *): %v", err)
	}
	next2 := sched2.Next(now)
	if !next2.After(now) {
		t.Errorf("Next(%v) = %v, expected future time", now, next2)
	}

	// Invalid expression.
	_, err = cron.ParseExpr("not-a-cron")
	if err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
