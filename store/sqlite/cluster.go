package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
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
// under the same ID replaces the record.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	workflows, err := json.Marshal(w.Workflows)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: encode worker workflows: %w", err)
	}
	var metadata any
	if len(w.Metadata) > 0 {
		data, mErr := json.Marshal(w.Metadata)
		if mErr != nil {
			return fmt.Errorf("orchestration/sqlite: encode worker metadata: %w", mErr)
		}
		metadata = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orch_workers (
			id, hostname, workflows, concurrency, state, metadata, last_seen, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			hostname = excluded.hostname,
			workflows = excluded.workflows,
			concurrency = excluded.concurrency,
			state = excluded.state,
			metadata = excluded.metadata,
			last_seen = excluded.last_seen
	`,
		w.ID, w.Hostname, string(workflows), w.Concurrency, string(w.State), metadata,
		fmtTime(w.LastSeen), fmtTime(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM orch_workers WHERE id = ?`, workerID)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: deregister worker: %w", err)
	}
	return requireRowAffected(res, orchestration.ErrWorkerNotFound)
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orch_workers SET last_seen = ? WHERE id = ?`, nowText(), workerID)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: heartbeat worker: %w", err)
	}
	return requireRowAffected(res, orchestration.ErrWorkerNotFound)
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM orch_workers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: list workers: %w", err)
	}
	defer rows.Close()

	result, err := collectWorkers(rows)
	if err != nil {
		return nil, err
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM orch_workers WHERE last_seen < ?`, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: reap dead workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// AcquireLeadership attempts to become the cluster leader via the
// single-row upsert election.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_leader (id, worker_id, until)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			worker_id = excluded.worker_id,
			until = excluded.until
		WHERE orch_leader.until <= ? OR orch_leader.worker_id = excluded.worker_id
	`, workerID, fmtTime(now.Add(ttl)), fmtTime(now))
	if err != nil {
		return false, fmt.Errorf("orchestration/sqlite: acquire leadership: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_leader SET until = ? WHERE id = 1 AND worker_id = ?
	`, fmtTime(time.Now().UTC().Add(ttl)), workerID)
	if err != nil {
		return false, fmt.Errorf("orchestration/sqlite: renew leadership: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// leader or its hold has lapsed.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	leaderID, until, err := s.currentLeader(ctx)
	if err != nil || leaderID.IsNil() {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM orch_workers WHERE id = ?`, leaderID)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/sqlite: get leader: %w", err)
	}

	w.IsLeader = true
	w.LeaderUntil = &until
	return w, nil
}

// currentLeader reads the leader row, returning the nil ID when no live
// leader exists.
func (s *Store) currentLeader(ctx context.Context) (id.WorkerID, time.Time, error) {
	var (
		leaderID  id.WorkerID
		untilText string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT worker_id, until FROM orch_leader WHERE id = 1 AND until > ?`,
		nowText(),
	).Scan(&leaderID, &untilText)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, time.Time{}, nil
		}
		return id.Nil, time.Time{}, fmt.Errorf("orchestration/sqlite: read leader: %w", err)
	}

	until, err := parseTime(untilText)
	if err != nil {
		return id.Nil, time.Time{}, err
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

func collectWorkers(rows *sql.Rows) ([]*cluster.Worker, error) {
	var result []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/sqlite: scan worker: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: iterate workers: %w", err)
	}
	return result, nil
}
