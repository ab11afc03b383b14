package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store = (*Store)(nil)
	_ hook.Store     = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	runs        map[string]*workflow.Run
	checkpoints map[string]*workflow.Checkpoint // key: "runID:stepName"
	seqs        map[string]int                  // runID → last assigned checkpoint Seq
	hooks       map[string]*hook.Hook
	events      []*event.Event
	schedules   map[string]*cron.Schedule
	workers     map[string]*cluster.Worker

	// leader tracks the current cluster leader worker ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:        make(map[string]*workflow.Run),
		checkpoints: make(map[string]*workflow.Checkpoint),
		seqs:        make(map[string]int),
		hooks:       make(map[string]*hook.Hook),
		schedules:   make(map[string]*cron.Schedule),
		workers:     make(map[string]*cluster.Worker),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store — runs
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return orchestration.ErrRunAlreadyExists
	}
	cp := *run
	m.runs[key] = &cp
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, orchestration.ErrRunNotFound
	}
	// Return a copy so callers can mutate without racing with the store.
	cp := *r
	return &cp, nil
}

// UpdateRun persists changes to an existing run.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, ok := m.runs[key]; !ok {
		return orchestration.ErrRunNotFound
	}
	cp := *run
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = &cp
	return nil
}

// ListRuns returns runs matching the given options, newest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	// Newest first; run IDs are K-sortable so they break timestamp ties.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.After(result[k].CreatedAt)
		}
		return result[i].ID.String() > result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ListChildRuns returns the child runs of a parent run.
func (m *Store) ListChildRuns(_ context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*workflow.Run
	for _, r := range m.runs {
		if r.ParentRunID == nil || r.ParentRunID.String() != parentRunID.String() {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// runnableAt reports whether a run can be claimed at the given instant:
// unclaimed and either pending, or suspended with its wake time reached.
func runnableAt(r *workflow.Run, now time.Time) bool {
	if r.Claimed(now) {
		return false
	}
	switch r.Status {
	case workflow.StatusPending:
		return true
	case workflow.StatusSuspended:
		return r.WakeAt != nil && !r.WakeAt.After(now)
	default:
		return false
	}
}

// DequeueRuns atomically claims up to limit runnable runs for the worker.
func (m *Store) DequeueRuns(_ context.Context, workerID id.WorkerID, limit int, now, leaseUntil time.Time) ([]*workflow.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if runnableAt(r, now) {
			candidates = append(candidates, r)
		}
	}

	// Oldest first.
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	lease := leaseUntil
	result := make([]*workflow.Run, len(candidates))
	for i, r := range candidates {
		r.WorkerID = workerID
		r.LeaseUntil = &lease
		r.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		cp := *r
		result[i] = &cp
	}

	return result, nil
}

// ExtendLease moves the claim lease forward for a run the worker still owns.
func (m *Store) ExtendLease(_ context.Context, runID id.RunID, workerID id.WorkerID, leaseUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return orchestration.ErrRunNotFound
	}
	if r.WorkerID.IsNil() || r.WorkerID.String() != workerID.String() {
		return orchestration.ErrRunNotFound
	}
	lease := leaseUntil
	r.LeaseUntil = &lease
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ReapStaleRuns clears expired claims and returns stale running runs to
// pending so another worker can resume them from checkpoints.
func (m *Store) ReapStaleRuns(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for _, r := range m.runs {
		if r.WorkerID.IsNil() {
			continue
		}
		if r.LeaseUntil != nil && r.LeaseUntil.After(now) {
			continue
		}
		r.ClearClaim()
		if r.Status == workflow.StatusRunning {
			r.Status = workflow.StatusPending
		}
		r.UpdatedAt = now
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Workflow Store — checkpoints
// ──────────────────────────────────────────────────

// checkpointKey builds a composite map key for a checkpoint.
func checkpointKey(runID id.RunID, stepName string) string {
	return runID.String() + ":" + stepName
}

// SaveCheckpoint commits the result of a completed step. Re-saving an
// existing step keeps its Seq: results change, commit order does not.
func (m *Store) SaveCheckpoint(_ context.Context, runID id.RunID, stepName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := checkpointKey(runID, stepName)
	now := time.Now().UTC()

	if existing, ok := m.checkpoints[key]; ok {
		m.checkpoints[key] = &workflow.Checkpoint{
			ID:        existing.ID,
			RunID:     runID,
			StepName:  stepName,
			Seq:       existing.Seq,
			Data:      data,
			CreatedAt: now,
		}
		return nil
	}

	rid := runID.String()
	seq := m.seqs[rid] + 1
	m.seqs[rid] = seq

	m.checkpoints[key] = &workflow.Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     runID,
		StepName:  stepName,
		Seq:       seq,
		Data:      data,
		CreatedAt: now,
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific step.
func (m *Store) GetCheckpoint(_ context.Context, runID id.RunID, stepName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[checkpointKey(runID, stepName)]
	if !ok {
		return nil, nil // no checkpoint is not an error
	}
	return cp.Data, nil
}

// ListCheckpoints returns all checkpoints for a run in Seq order.
func (m *Store) ListCheckpoints(_ context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := runID.String() + ":"
	var result []*workflow.Checkpoint
	for k, cp := range m.checkpoints {
		if strings.HasPrefix(k, prefix) {
			c := *cp
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].Seq < result[k].Seq
	})

	return result, nil
}

// DeleteCheckpointsFrom removes the named checkpoint and every checkpoint
// committed after it. A missing checkpoint is a no-op.
func (m *Store) DeleteCheckpointsFrom(_ context.Context, runID id.RunID, fromStep string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.checkpoints[checkpointKey(runID, fromStep)]
	if !ok {
		return nil
	}

	prefix := runID.String() + ":"
	for k, cp := range m.checkpoints {
		if strings.HasPrefix(k, prefix) && cp.Seq >= target.Seq {
			delete(m.checkpoints, k)
		}
	}
	return nil
}

// DeleteRunsBefore removes terminal runs (and their checkpoints) that
// completed before the cutoff.
func (m *Store) DeleteRunsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for key, r := range m.runs {
		if !r.Status.Terminal() {
			continue
		}
		if r.CompletedAt == nil || !r.CompletedAt.Before(cutoff) {
			continue
		}
		delete(m.runs, key)
		delete(m.seqs, key)
		prefix := key + ":"
		for k := range m.checkpoints {
			if strings.HasPrefix(k, prefix) {
				delete(m.checkpoints, k)
			}
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Hook Store
// ──────────────────────────────────────────────────

// CreateHook persists a new pending hook.
func (m *Store) CreateHook(_ context.Context, h *hook.Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *h
	m.hooks[h.ID.String()] = &cp
	return nil
}

// GetHook returns a hook by token.
func (m *Store) GetHook(_ context.Context, token id.HookID) (*hook.Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hooks[token.String()]
	if !ok {
		return nil, orchestration.ErrHookNotFound
	}
	cp := *h
	return &cp, nil
}

// ResolveHook atomically transitions a pending, unexpired hook to resolved.
// The store lock makes the compare-and-swap: exactly one caller observes
// the pending state and wins.
func (m *Store) ResolveHook(_ context.Context, token id.HookID, payload []byte, by string) (*hook.Hook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hooks[token.String()]
	if !ok {
		return nil, orchestration.ErrHookNotFound
	}

	switch h.State {
	case hook.StateResolved:
		return nil, orchestration.ErrHookResolved
	case hook.StateExpired:
		return nil, orchestration.ErrHookExpired
	}

	now := time.Now().UTC()
	if !now.Before(h.ExpiresAt) {
		// Deadline passed before anyone expired it; mark on observation.
		h.State = hook.StateExpired
		h.UpdatedAt = now
		return nil, orchestration.ErrHookExpired
	}

	h.State = hook.StateResolved
	h.Payload = payload
	h.ResolvedBy = by
	h.ResolvedAt = &now
	h.UpdatedAt = now

	cp := *h
	return &cp, nil
}

// ExpireHook atomically transitions a pending hook to expired. Expiring an
// already-expired hook is a no-op returning the hook; a resolved hook
// returns ErrHookResolved so the caller can honor the winning resolution.
func (m *Store) ExpireHook(_ context.Context, token id.HookID) (*hook.Hook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hooks[token.String()]
	if !ok {
		return nil, orchestration.ErrHookNotFound
	}

	switch h.State {
	case hook.StateResolved:
		return nil, orchestration.ErrHookResolved
	case hook.StateExpired:
		cp := *h
		return &cp, nil
	}

	h.State = hook.StateExpired
	h.UpdatedAt = time.Now().UTC()

	cp := *h
	return &cp, nil
}

// ExpireDueHooks transitions pending hooks past their deadline to expired.
func (m *Store) ExpireDueHooks(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for _, h := range m.hooks {
		if h.State != hook.StatePending {
			continue
		}
		if now.Before(h.ExpiresAt) {
			continue
		}
		h.State = hook.StateExpired
		h.UpdatedAt = now
		count++
	}
	return count, nil
}

// ListHooksByRun returns all hooks created by a run, oldest first.
func (m *Store) ListHooksByRun(_ context.Context, runID id.RunID) ([]*hook.Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*hook.Hook
	for _, h := range m.hooks {
		if h.RunID.String() != runID.String() {
			continue
		}
		cp := *h
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// DeleteHooksBefore removes terminal hooks last touched before the cutoff.
func (m *Store) DeleteHooksBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for key, h := range m.hooks {
		if h.State == hook.StatePending {
			continue
		}
		if !h.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(m.hooks, key)
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// AppendEvent persists a new event at the tail of its run's trail.
func (m *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events = append(m.events, &cp)
	return nil
}

// ListEvents returns a run's events, oldest first (append order).
func (m *Store) ListEvents(_ context.Context, runID id.RunID) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*event.Event
	for _, evt := range m.events {
		if evt.RunID.String() != runID.String() {
			continue
		}
		cp := *evt
		result = append(result, &cp)
	}
	return result, nil
}

// DeleteEventsBefore removes events older than the cutoff.
func (m *Store) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	var count int
	for _, evt := range m.events {
		if evt.CreatedAt.Before(cutoff) {
			count++
			continue
		}
		kept = append(kept, evt)
	}
	m.events = kept
	return count, nil
}

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterSchedule persists a new schedule. Returns an error if the name
// already exists.
func (m *Store) RegisterSchedule(_ context.Context, s *cron.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check for duplicate name.
	for _, existing := range m.schedules {
		if existing.Name == s.Name {
			return orchestration.ErrDuplicateSchedule
		}
	}

	cp := *s
	m.schedules[s.ID.String()] = &cp
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (m *Store) GetSchedule(_ context.Context, scheduleID id.ScheduleID) (*cron.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return nil, orchestration.ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

// ListSchedules returns all schedules.
func (m *Store) ListSchedules(_ context.Context) ([]*cron.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		cp := *s
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// AcquireScheduleLock attempts to acquire a distributed lock for a schedule.
func (m *Store) AcquireScheduleLock(_ context.Context, scheduleID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return false, orchestration.ErrScheduleNotFound
	}

	now := time.Now().UTC()

	// If already locked by someone else and lock hasn't expired, fail.
	if s.LockedBy != "" && s.LockedUntil != nil && s.LockedUntil.After(now) {
		if s.LockedBy != workerID.String() {
			return false, nil
		}
	}

	s.LockedBy = workerID.String()
	until := now.Add(ttl)
	s.LockedUntil = &until
	return true, nil
}

// ReleaseScheduleLock releases the distributed lock for a schedule.
func (m *Store) ReleaseScheduleLock(_ context.Context, scheduleID id.ScheduleID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return orchestration.ErrScheduleNotFound
	}

	if s.LockedBy != workerID.String() {
		return nil // not holding the lock; no-op
	}

	s.LockedBy = ""
	s.LockedUntil = nil
	return nil
}

// UpdateScheduleLastRun records when a schedule last fired.
func (m *Store) UpdateScheduleLastRun(_ context.Context, scheduleID id.ScheduleID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return orchestration.ErrScheduleNotFound
	}
	s.LastRunAt = &at
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateSchedule updates a schedule (Enabled, NextRunAt, etc.).
func (m *Store) UpdateSchedule(_ context.Context, s *cron.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if _, ok := m.schedules[key]; !ok {
		return orchestration.ErrScheduleNotFound
	}
	cp := *s
	cp.UpdatedAt = time.Now().UTC()
	m.schedules[key] = &cp
	return nil
}

// DeleteSchedule removes a schedule by ID.
func (m *Store) DeleteSchedule(_ context.Context, scheduleID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scheduleID.String()
	if _, ok := m.schedules[key]; !ok {
		return orchestration.ErrScheduleNotFound
	}
	delete(m.schedules, key)
	return nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a new worker to the cluster registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return orchestration.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return orchestration.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			cp := *w
			dead = append(dead, &cp)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	wKey := workerID.String()

	// If there's already a leader whose TTL hasn't expired and it's not us, fail.
	if m.leader != "" && m.leaderUntil.After(now) && m.leader != wKey {
		return false, nil
	}

	// Acquire (or re-acquire) leadership.
	m.leader = wKey
	m.leaderUntil = now.Add(ttl)

	// Update worker record.
	if w, ok := m.workers[wKey]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wKey := workerID.String()
	if m.leader != wKey {
		return false, nil
	}

	m.leaderUntil = time.Now().UTC().Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}

	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}
