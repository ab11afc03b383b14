package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ──────────────────────────────────────────────────
// Workflow Store — runs
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_runs (
			id, name, version, status, input, output, error,
			parent_run_id, scope_app_id, scope_org_id,
			worker_id, lease_until, await_token, wake_at,
			started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Name, run.Version, string(run.Status), run.Input, run.Output, run.Error,
		idOrNil(run.ParentRunID), run.ScopeAppID, run.ScopeOrgID,
		run.WorkerID, fmtTimePtr(run.LeaseUntil), run.AwaitToken, fmtTimePtr(run.WakeAt),
		fmtTimePtr(run.StartedAt), fmtTimePtr(run.CompletedAt),
		fmtTime(run.CreatedAt), fmtTime(run.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return orchestration.ErrRunAlreadyExists
		}
		return fmt.Errorf("orchestration/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM orch_runs WHERE id = ?`, runID)

	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, orchestration.ErrRunNotFound
		}
		return nil, fmt.Errorf("orchestration/sqlite: get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_runs SET
			name = ?, version = ?, status = ?, input = ?, output = ?, error = ?,
			parent_run_id = ?, scope_app_id = ?, scope_org_id = ?,
			worker_id = ?, lease_until = ?, await_token = ?, wake_at = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		run.Name, run.Version, string(run.Status), run.Input, run.Output, run.Error,
		idOrNil(run.ParentRunID), run.ScopeAppID, run.ScopeOrgID,
		run.WorkerID, fmtTimePtr(run.LeaseUntil), run.AwaitToken, fmtTimePtr(run.WakeAt),
		fmtTimePtr(run.StartedAt), fmtTimePtr(run.CompletedAt), nowText(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: update run: %w", err)
	}
	return requireRowAffected(res, orchestration.ErrRunNotFound)
}

// ListRuns returns runs matching the given options, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	query := `SELECT ` + runColumns + ` FROM orch_runs WHERE 1=1`
	var args []any

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Name != "" {
		query += " AND name = ?"
		args = append(args, opts.Name)
	}

	// Run IDs are K-sortable so they break timestamp ties.
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListChildRuns returns the child runs of a parent run, oldest first.
func (s *Store) ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM orch_runs
		 WHERE parent_run_id = ?
		 ORDER BY created_at, id`, parentRunID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: list child runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// DequeueRuns atomically claims up to limit runnable runs for the worker.
// SQLite serializes writers, so the single UPDATE cannot race another
// claimer.
func (s *Store) DequeueRuns(ctx context.Context, workerID id.WorkerID, limit int, now, leaseUntil time.Time) ([]*workflow.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	nowText := fmtTime(now)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE orch_runs SET worker_id = ?, lease_until = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM orch_runs
			WHERE (worker_id IS NULL OR lease_until IS NULL OR lease_until <= ?)
			  AND (status = 'pending'
			       OR (status = 'suspended' AND wake_at IS NOT NULL AND wake_at <= ?))
			ORDER BY created_at, id
			LIMIT ?
		)
		RETURNING `+runColumns,
		workerID, fmtTime(leaseUntil), nowText, nowText, nowText, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: dequeue runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ExtendLease moves the claim lease forward for a run the worker still owns.
func (s *Store) ExtendLease(ctx context.Context, runID id.RunID, workerID id.WorkerID, leaseUntil time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_runs SET lease_until = ?, updated_at = ?
		WHERE id = ? AND worker_id = ?
	`, fmtTime(leaseUntil), nowText(), runID, workerID)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: extend lease: %w", err)
	}
	return requireRowAffected(res, orchestration.ErrRunNotFound)
}

// ReapStaleRuns clears expired claims and returns stale running runs to
// pending so another worker can resume them from checkpoints.
func (s *Store) ReapStaleRuns(ctx context.Context, now time.Time) (int, error) {
	nowText := fmtTime(now)

	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_runs SET
			worker_id = NULL,
			lease_until = NULL,
			status = CASE WHEN status = 'running' THEN 'pending' ELSE status END,
			updated_at = ?
		WHERE worker_id IS NOT NULL
		  AND (lease_until IS NULL OR lease_until <= ?)
	`, nowText, nowText)
	if err != nil {
		return 0, fmt.Errorf("orchestration/sqlite: reap stale runs: %w", err)
	}
	return rowsAffected(res), nil
}

func collectRuns(rows *sql.Rows) ([]*workflow.Run, error) {
	var result []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/sqlite: scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: iterate runs: %w", err)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Workflow Store — checkpoints
// ──────────────────────────────────────────────────

// SaveCheckpoint commits the result of a completed step. Re-saving an
// existing step keeps its Seq: results change, commit order does not.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_checkpoints (id, run_id, step_name, seq, data, created_at)
		VALUES (?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM orch_checkpoints WHERE run_id = ?),
			?, ?)
		ON CONFLICT (run_id, step_name)
		DO UPDATE SET data = excluded.data, created_at = excluded.created_at
	`, id.NewCheckpointID(), runID, stepName, runID, data, nowText())
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific step. No
// checkpoint is not an error.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM orch_checkpoints WHERE run_id = ? AND step_name = ?`,
		runID, stepName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/sqlite: get checkpoint: %w", err)
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a run in Seq order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM orch_checkpoints
		 WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: list checkpoints: %w", err)
	}
	defer rows.Close()

	var result []*workflow.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/sqlite: scan checkpoint: %w", err)
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: iterate checkpoints: %w", err)
	}
	return result, nil
}

// DeleteCheckpointsFrom removes the named checkpoint and every checkpoint
// committed after it. A missing checkpoint is a no-op.
func (s *Store) DeleteCheckpointsFrom(ctx context.Context, runID id.RunID, fromStep string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM orch_checkpoints
		WHERE run_id = ?
		  AND seq >= (SELECT seq FROM orch_checkpoints WHERE run_id = ? AND step_name = ?)
	`, runID, runID, fromStep)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: delete checkpoints: %w", err)
	}
	return nil
}

// DeleteRunsBefore removes terminal runs that completed before the cutoff.
// Their checkpoints go with them via ON DELETE CASCADE.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM orch_runs
		WHERE status IN ('completed', 'failed')
		  AND completed_at IS NOT NULL
		  AND completed_at < ?
	`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("orchestration/sqlite: delete runs: %w", err)
	}
	return rowsAffected(res), nil
}

// rowsAffected unwraps the affected row count; the sqlite driver never
// errors here.
func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// requireRowAffected maps a zero-row write to the given sentinel.
func requireRowAffected(res sql.Result, missing error) error {
	if rowsAffected(res) == 0 {
		return missing
	}
	return nil
}
