package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a worker to the cluster registry. Re-registering
// under the same ID replaces the record.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, workerKey(wID), workerToMap(w))
	pipe.SAdd(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestration/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()
	key := workerKey(wID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("orchestration/redis: deregister exists: %w", err)
	}
	if exists == 0 {
		return orchestration.ErrWorkerNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, workerIDsKey, wID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestration/redis: deregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	key := workerKey(workerID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("orchestration/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return orchestration.ErrWorkerNotFound
	}

	if err := s.client.HSet(ctx, key, "last_seen", nowText()).Err(); err != nil {
		return fmt.Errorf("orchestration/redis: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkers returns all registered workers with the current leader
// annotated.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	workers, err := s.scanWorkers(ctx, func(*cluster.Worker) bool { return true })
	if err != nil {
		return nil, err
	}

	leaderID, until, err := s.currentLeader(ctx)
	if err != nil || leaderID == "" {
		return workers, err
	}
	for _, w := range workers {
		if w.ID.String() == leaderID {
			w.IsLeader = true
			leaderUntil := until
			w.LeaderUntil = &leaderUntil
		}
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	return s.scanWorkers(ctx, func(w *cluster.Worker) bool {
		return w.LastSeen.Before(cutoff)
	})
}

// AcquireLeadership attempts to become the cluster leader. The leader key
// is a SET NX PX lock; re-acquiring as the current holder extends it.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	ok, err := s.client.SetNX(ctx, leaderKey, wID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("orchestration/redis: acquire leadership: %w", err)
	}
	if ok {
		return true, nil
	}

	// Lock taken. Renew succeeds only when we are the holder.
	return s.RenewLeadership(ctx, workerID, ttl)
}

// RenewLeadership extends the leader's hold via the compare-and-renew
// script, so a stale leader can never extend another worker's lock.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	ok, err := renewLeaderScript.Run(ctx, s.client,
		[]string{leaderKey},
		workerID.String(),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("orchestration/redis: renew leadership: %w", err)
	}
	return ok == 1, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// leader or its worker record is gone.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	leaderID, until, err := s.currentLeader(ctx)
	if err != nil || leaderID == "" {
		return nil, err
	}

	vals, err := s.client.HGetAll(ctx, workerKey(leaderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: get leader: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	w, err := mapToWorker(vals)
	if err != nil {
		return nil, err
	}
	w.IsLeader = true
	w.LeaderUntil = &until
	return w, nil
}

// currentLeader reads the leader key and derives the hold expiry from the
// key's remaining TTL. Empty ID means no live leader.
func (s *Store) currentLeader(ctx context.Context) (string, time.Time, error) {
	wID, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, fmt.Errorf("orchestration/redis: read leader: %w", err)
	}

	ttl, err := s.client.PTTL(ctx, leaderKey).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("orchestration/redis: read leader ttl: %w", err)
	}
	if ttl <= 0 {
		return "", time.Time{}, nil
	}
	return wID, time.Now().UTC().Add(ttl), nil
}

func (s *Store) scanWorkers(ctx context.Context, keep func(*cluster.Worker) bool) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: scan workers: %w", err)
	}

	var workers []*cluster.Worker
	for _, wID := range ids {
		vals, getErr := s.client.HGetAll(ctx, workerKey(wID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("orchestration/redis: scan worker %s: %w", wID, getErr)
		}
		if len(vals) == 0 {
			continue
		}
		w, convErr := mapToWorker(vals)
		if convErr != nil {
			return nil, convErr
		}
		if keep(w) {
			workers = append(workers, w)
		}
	}
	return workers, nil
}
