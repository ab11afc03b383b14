package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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
	var metadata []byte
	if len(w.Metadata) > 0 {
		data, err := json.Marshal(w.Metadata)
		if err != nil {
			return fmt.Errorf("orchestration/postgres: encode worker metadata: %w", err)
		}
		metadata = data
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO orch_workers (
			id, hostname, workflows, concurrency, state, metadata, last_seen, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			workflows = EXCLUDED.workflows,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			metadata = EXCLUDED.metadata,
			last_seen = EXCLUDED.last_seen
	`,
		w.ID, w.Hostname, w.Workflows, w.Concurrency, string(w.State), metadata,
		w.LastSeen, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orch_workers WHERE id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestration.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orch_workers SET last_seen = NOW() WHERE id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestration.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM orch_workers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("orchestration/postgres: list workers: %w", err)
	}
	defer rows.Close()

	var result []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/postgres: scan worker: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/postgres: iterate workers: %w", err)
	}

	if err := s.annotateLeader(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM orch_workers WHERE last_seen < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("orchestration/postgres: reap dead workers: %w", err)
	}
	defer rows.Close()

	var dead []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/postgres: scan worker: %w", err)
		}
		dead = append(dead, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/postgres: iterate workers: %w", err)
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader. The single-row
// upsert is the election: the insert wins when no leader row exists, the
// conditional update wins when the previous hold lapsed or the caller
// already leads.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO orch_leader (id, worker_id, until)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			until = EXCLUDED.until
		WHERE orch_leader.until <= $3 OR orch_leader.worker_id = EXCLUDED.worker_id
	`, workerID, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("orchestration/postgres: acquire leadership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orch_leader SET until = $2 WHERE id = 1 AND worker_id = $1
	`, workerID, time.Now().UTC().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("orchestration/postgres: renew leadership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// leader or its hold has lapsed.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	leaderID, until, err := s.currentLeader(ctx)
	if err != nil || leaderID.IsNil() {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+workerColumns+` FROM orch_workers WHERE id = $1`, leaderID)

	w, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/postgres: get leader: %w", err)
	}

	w.IsLeader = true
	w.LeaderUntil = &until
	return w, nil
}

// currentLeader reads the leader row, returning the nil ID when no live
// leader exists.
func (s *Store) currentLeader(ctx context.Context) (id.WorkerID, time.Time, error) {
	var (
		leaderID id.WorkerID
		until    time.Time
	)

	err := s.pool.QueryRow(ctx,
		`SELECT worker_id, until FROM orch_leader WHERE id = 1 AND until > NOW()`,
	).Scan(&leaderID, &until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return id.Nil, time.Time{}, nil
		}
		return id.Nil, time.Time{}, fmt.Errorf("orchestration/postgres: read leader: %w", err)
	}
	return leaderID, until, nil
}

// annotateLeader marks the current leader in a worker list.
func (s *Store) annotateLeader(ctx context.Context, workers []*cluster.Worker) error {
	leaderID, until, err := s.currentLeader(ctx)
	if err != nil || leaderID.IsNil() {
		return err
	}

	for _, w := range workers {
		if w.ID.String() == leaderID.String() {
			w.IsLeader = true
			leaderUntil := until
			w.LeaderUntil = &leaderUntil
		}
	}
	return nil
}
