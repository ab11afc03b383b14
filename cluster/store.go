package cluster

import (
	"context"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Store is the persistence contract for worker membership and leader
// election. Every run-store backend implements it so a deployment needs
// no extra infrastructure for clustering; the Kubernetes provider
// implements it on Lease objects instead.
type Store interface {
	// RegisterWorker records a worker in the registry. Registering an
	// ID that already exists replaces the record, so a restarted worker
	// that kept its identity simply refreshes itself.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker. Returns ErrWorkerNotFound if
	// no such worker is registered.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker bumps the worker's last-seen timestamp. Workers
	// call this on a fixed interval; a worker that stops heartbeating
	// is eventually reported by ReapDeadWorkers.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all registered workers, oldest first, with
	// the current leader annotated.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers returns workers whose last heartbeat is older
	// than threshold. The caller decides what to do with them; their
	// claimed runs come back through the run store's stale-run reaper
	// once the leases lapse.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)

	// AcquireLeadership attempts to take the single leader slot for
	// ttl. It succeeds when the slot is free, when the previous hold
	// has lapsed, or when the caller already holds it. Only the leader
	// runs the cron scheduler and the retention janitor.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the hold of the current leader. It
	// returns false for any worker that does not hold the slot,
	// including one whose hold already lapsed.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// GetLeader returns the current leader with IsLeader and
	// LeaderUntil set, or nil when no live hold exists or the holder's
	// worker record is gone.
	GetLeader(ctx context.Context) (*Worker, error)
}
