package bunstore

import (
	"context"
	"fmt"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a worker to the cluster registry. Re-registering
// under the same ID replaces the record, so a restarted worker that kept
// its identity just refreshes itself.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	_, err := s.db.NewInsert().Model(toWorkerModel(w)).
		On("CONFLICT (id) DO UPDATE").
		Set("hostname = EXCLUDED.hostname").
		Set("workflows = EXCLUDED.workflows").
		Set("concurrency = EXCLUDED.concurrency").
		Set("state = EXCLUDED.state").
		Set("metadata = EXCLUDED.metadata").
		Set("last_seen = EXCLUDED.last_seen").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.NewDelete().Model((*workerModel)(nil)).
		Where("id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: deregister worker: %w", err)
	}
	if rowsAffected(res) == 0 {
		return orchestration.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().Model((*workerModel)(nil)).
		Set("last_seen = ?", time.Now().UTC()).
		Where("id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: heartbeat worker: %w", err)
	}
	if rowsAffected(res) == 0 {
		return orchestration.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	var models []workerModel
	err := s.db.NewSelect().Model(&models).
		OrderExpr("created_at, id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: list workers: %w", err)
	}

	workers, err := fromWorkerModels(models)
	if err != nil {
		return nil, err
	}
	if err := s.annotateLeader(ctx, workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	var models []workerModel
	err := s.db.NewSelect().Model(&models).
		Where("last_seen < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: reap dead workers: %w", err)
	}
	return fromWorkerModels(models)
}

// AcquireLeadership attempts to become the cluster leader. The single-row
// upsert is the election: the insert wins when no leader row exists, the
// conditional update wins when the previous hold lapsed or the caller
// already leads.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	res, err := s.db.NewInsert().
		Model(&leaderModel{ID: 1, WorkerID: workerID.String(), Until: now.Add(ttl)}).
		On("CONFLICT (id) DO UPDATE").
		Set("worker_id = EXCLUDED.worker_id").
		Set("until = EXCLUDED.until").
		Where("orch_leader.until <= ? OR orch_leader.worker_id = EXCLUDED.worker_id", now).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("orchestration/bun: acquire leadership: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	res, err := s.db.NewUpdate().Model((*leaderModel)(nil)).
		Set("until = ?", time.Now().UTC().Add(ttl)).
		Where("id = 1").
		Where("worker_id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("orchestration/bun: renew leadership: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// leader or its hold has lapsed.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	leaderID, until, err := s.currentLeader(ctx)
	if err != nil || leaderID == "" {
		return nil, err
	}

	m := new(workerModel)
	err = s.db.NewSelect().Model(m).Where("id = ?", leaderID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/bun: get leader: %w", err)
	}

	w, err := fromWorkerModel(m)
	if err != nil {
		return nil, err
	}
	w.IsLeader = true
	w.LeaderUntil = &until
	return w, nil
}

// currentLeader reads the leader row, returning an empty ID when no live
// leader exists.
func (s *Store) currentLeader(ctx context.Context) (string, time.Time, error) {
	m := new(leaderModel)
	err := s.db.NewSelect().Model(m).
		Where("id = 1").
		Where("until > ?", time.Now().UTC()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, fmt.Errorf("orchestration/bun: read leader: %w", err)
	}
	return m.WorkerID, m.Until, nil
}

// annotateLeader marks the current leader in a worker list.
func (s *Store) annotateLeader(ctx context.Context, workers []*cluster.Worker) error {
	leaderID, until, err := s.currentLeader(ctx)
	if err != nil || leaderID == "" {
		return err
	}

	for _, w := range workers {
		if w.ID.String() == leaderID {
			w.IsLeader = true
			leaderUntil := until
			w.LeaderUntil = &leaderUntil
		}
	}
	return nil
}

func fromWorkerModels(models []workerModel) ([]*cluster.Worker, error) {
	var result []*cluster.Worker
	for i := range models {
		w, err := fromWorkerModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, nil
}
