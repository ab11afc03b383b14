package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// GateManager controls per-workflow and per-tenant admission. The pool
// calls Acquire before executing a dequeued run and Release after
// execution completes.
type GateManager interface {
	// Acquire checks rate limits and concurrency for the workflow/tenant
	// combination. Returns true if the run is allowed to proceed.
	Acquire(workflow, tenantID string) bool
	// Release decrements the active count for the workflow/tenant pair.
	Release(workflow, tenantID string)
}

// Pool manages a set of concurrent worker goroutines that claim runs
// from the store and execute them through the Executor.
//
// The pool is also the runner's Waker: Start, hook resolution, and
// replay nudge it so freshly claimable runs don't wait out a full poll
// interval.
type Pool struct {
	store    workflow.Store
	executor *Executor
	logger   *slog.Logger

	concurrency   int
	pollInterval  time.Duration
	leaseDuration time.Duration
	workerID      id.WorkerID

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	reapInterval      time.Duration

	// Admission gates (optional).
	gates GateManager

	wakeCh     chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeRuns map[string]context.CancelFunc
	activeMu   sync.Mutex
}

var _ workflow.Waker = (*Pool)(nil)

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for claimable runs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseDuration sets how long a claim holds before other workers
// may steal the run back.
func WithLeaseDuration(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseDuration = d }
}

// WithHeartbeatInterval sets how often the pool extends leases for
// active runs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithReapInterval sets how often the pool returns stale-leased runs
// to pending. A zero value disables reaping.
func WithReapInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reapInterval = d }
}

// WithGateManager sets the admission gate manager for rate limiting
// and concurrency control.
func WithGateManager(m GateManager) PoolOption {
	return func(p *Pool) { p.gates = m }
}

// WithWorkerID overrides the generated worker identity. The engine uses
// this to register the same identity in the cluster worker registry.
func WithWorkerID(w id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = w }
}

// NewPool creates a worker pool.
func NewPool(store workflow.Store, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		store:         store,
		executor:      executor,
		logger:        logger,
		concurrency:   10,
		pollInterval:  time.Second,
		leaseDuration: 30 * time.Second,
		workerID:      id.NewWorkerID(),
		wakeCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		activeRuns:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Wake nudges one idle worker to poll immediately. Safe to call from
// any goroutine; a wake that finds no idle worker is dropped (the next
// poll picks the run up anyway).
func (p *Pool) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("lease", p.leaseDuration),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	// Launch heartbeat goroutine if configured.
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	// Launch reaper goroutine if configured.
	if p.reapInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active runs are cancelled when time
// runs out; their claims lapse and another worker resumes them from
// checkpoints.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active runs")
		p.cancelActiveRuns()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		now := time.Now().UTC()
		runs, err := p.store.DequeueRuns(context.Background(), p.workerID, 1, now, now.Add(p.leaseDuration))
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if len(runs) == 0 {
			p.sleep()
			continue
		}

		run := runs[0]

		// Check workflow/tenant rate limit and concurrency.
		if p.gates != nil && !p.gates.Acquire(run.Name, run.ScopeOrgID) {
			p.deferRun(run)
			p.sleep()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.trackRun(run.ID.String(), cancel)

		if execErr := p.executor.Execute(ctx, run); execErr != nil {
			p.logger.Debug("run execution failed",
				slog.String("run_id", run.ID.String()),
				slog.String("workflow", run.Name),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackRun(run.ID.String())
		cancel()

		// Release the workflow/tenant slot.
		if p.gates != nil {
			p.gates.Release(run.Name, run.ScopeOrgID)
		}
	}
}

// deferRun parks a rate-limited run by shrinking its lease to the poll
// interval: the claim keeps other workers off it briefly, then lapses
// and the run becomes claimable again. No status write needed.
func (p *Pool) deferRun(run *workflow.Run) {
	until := time.Now().UTC().Add(p.pollInterval)
	if err := p.store.ExtendLease(context.Background(), run.ID, p.workerID, until); err != nil {
		p.logger.Warn("failed to defer rate-limited run",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically extends leases for all active runs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	runIDs := make([]string, 0, len(p.activeRuns))
	for runID := range p.activeRuns {
		runIDs = append(runIDs, runID)
	}
	p.activeMu.Unlock()

	until := time.Now().UTC().Add(p.leaseDuration)
	for _, runIDStr := range runIDs {
		parsedID, parseErr := id.ParseRunID(runIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid run id", slog.String("run_id", runIDStr))
			continue
		}
		if err := p.store.ExtendLease(context.Background(), parsedID, p.workerID, until); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("run_id", runIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically returns stale-leased runs to pending so other
// workers can resume them from checkpoints.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleRuns()
		}
	}
}

func (p *Pool) reapStaleRuns() {
	count, err := p.store.ReapStaleRuns(context.Background(), time.Now().UTC())
	if err != nil {
		p.logger.Error("reap stale runs error", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		p.logger.Info("reaped stale runs", slog.Int("count", count))
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.wakeCh:
	case <-p.stopCh:
	}
}

func (p *Pool) trackRun(runID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeRuns[runID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackRun(runID string) {
	p.activeMu.Lock()
	delete(p.activeRuns, runID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveRuns() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for runID, cancel := range p.activeRuns {
		p.logger.Warn("cancelling active run", slog.String("run_id", runID))
		cancel()
	}
}
