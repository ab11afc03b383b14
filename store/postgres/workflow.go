package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ──────────────────────────────────────────────────
// Workflow Store — runs
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orch_runs (
			id, name, version, status, input, output, error,
			parent_run_id, scope_app_id, scope_org_id,
			worker_id, lease_until, await_token, wake_at,
			started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		run.ID, run.Name, run.Version, string(run.Status), run.Input, run.Output, run.Error,
		idOrNil(run.ParentRunID), run.ScopeAppID, run.ScopeOrgID,
		run.WorkerID, run.LeaseUntil, run.AwaitToken, run.WakeAt,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return orchestration.ErrRunAlreadyExists
		}
		return fmt.Errorf("orchestration/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM orch_runs WHERE id = $1`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orchestration.ErrRunNotFound
		}
		return nil, fmt.Errorf("orchestration/postgres: get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orch_runs SET
			name = $2, version = $3, status = $4, input = $5, output = $6, error = $7,
			parent_run_id = $8, scope_app_id = $9, scope_org_id = $10,
			worker_id = $11, lease_until = $12, await_token = $13, wake_at = $14,
			started_at = $15, completed_at = $16, updated_at = NOW()
		WHERE id = $1
	`,
		run.ID, run.Name, run.Version, string(run.Status), run.Input, run.Output, run.Error,
		idOrNil(run.ParentRunID), run.ScopeAppID, run.ScopeOrgID,
		run.WorkerID, run.LeaseUntil, run.AwaitToken, run.WakeAt,
		run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestration.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs matching the given options, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	query := `SELECT ` + runColumns + ` FROM orch_runs WHERE 1=1`
	var args []any

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if opts.Name != "" {
		args = append(args, opts.Name)
		query += fmt.Sprintf(" AND name = $%d", len(args))
	}

	// Run IDs are K-sortable so they break timestamp ties.
	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("orchestration/postgres: list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListChildRuns returns the child runs of a parent run, oldest first.
func (s *Store) ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM orch_runs
		 WHERE parent_run_id = $1
		 ORDER BY created_at, id`, parentRunID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/postgres: list child runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// DequeueRuns atomically claims up to limit runnable runs for the worker.
// SKIP LOCKED keeps concurrently polling workers from blocking on, or
// double-claiming, the same rows.
func (s *Store) DequeueRuns(ctx context.Context, workerID id.WorkerID, limit int, now, leaseUntil time.Time) ([]*workflow.Run, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE orch_runs SET worker_id = $1, lease_until = $2, updated_at = $3
		WHERE id IN (
			SELECT id FROM orch_runs
			WHERE (worker_id IS NULL OR lease_until IS NULL OR lease_until <= $3)
			  AND (status = 'pending'
			       OR (status = 'suspended' AND wake_at IS NOT NULL AND wake_at <= $3))
			ORDER BY created_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+runColumns,
		workerID, leaseUntil, now, limitArg,
	)
	if err != nil {
		return nil, fmt.Errorf("orchestration/postgres: dequeue runs: %w", err)
	}
	defer rows.Close()

	result, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING does not guarantee row order; restore oldest first.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// ExtendLease moves the claim lease forward for a run the worker still owns.
func (s *Store) ExtendLease(ctx context.Context, runID id.RunID, workerID id.WorkerID, leaseUntil time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orch_runs SET lease_until = $3, updated_at = NOW()
		WHERE id = $1 AND worker_id = $2
	`, runID, workerID, leaseUntil)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestration.ErrRunNotFound
	}
	return nil
}

// ReapStaleRuns clears expired claims and returns stale running runs to
// pending so another worker can resume them from checkpoints.
func (s *Store) ReapStaleRuns(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orch_runs SET
			worker_id = NULL,
			lease_until = NULL,
			status = CASE WHEN status = 'running' THEN 'pending' ELSE status END,
			updated_at = $1
		WHERE worker_id IS NOT NULL
		  AND (lease_until IS NULL OR lease_until <= $1)
	`, now)
	if err != nil {
		return 0, fmt.Errorf("orchestration/postgres: reap stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectRuns(rows pgx.Rows) ([]*workflow.Run, error) {
	var result []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/postgres: scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/postgres: iterate runs: %w", err)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Workflow Store — checkpoints
// ──────────────────────────────────────────────────

// SaveCheckpoint commits the result of a completed step. Re-saving an
// existing step keeps its Seq: results change, commit order does not.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orch_checkpoints (id, run_id, step_name, seq, data, created_at)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM orch_checkpoints WHERE run_id = $2),
			$4, $5)
		ON CONFLICT (run_id, step_name)
		DO UPDATE SET data = EXCLUDED.data, created_at = EXCLUDED.created_at
	`, id.NewCheckpointID(), runID, stepName, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("orchestration/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific step. No
// checkpoint is not an error.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM orch_checkpoints WHERE run_id = $1 AND step_name = $2`,
		runID, stepName,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/postgres: get checkpoint: %w", err)
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a run in Seq order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkpointColumns+` FROM orch_checkpoints
		 WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var result []*workflow.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/postgres: scan checkpoint: %w", err)
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/postgres: iterate checkpoints: %w", err)
	}
	return result, nil
}

// DeleteCheckpointsFrom removes the named checkpoint and every checkpoint
// committed after it. A missing checkpoint is a no-op: the seq subselect
// yields NULL and the comparison matches nothing.
func (s *Store) DeleteCheckpointsFrom(ctx context.Context, runID id.RunID, fromStep string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM orch_checkpoints
		WHERE run_id = $1
		  AND seq >= (SELECT seq FROM orch_checkpoints WHERE run_id = $1 AND step_name = $2)
	`, runID, fromStep)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: delete checkpoints: %w", err)
	}
	return nil
}

// DeleteRunsBefore removes terminal runs that completed before the cutoff.
// Their checkpoints go with them via ON DELETE CASCADE.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM orch_runs
		WHERE status IN ('completed', 'failed')
		  AND completed_at IS NOT NULL
		  AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("orchestration/postgres: delete runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
