package bunstore

import (
	"context"
	"fmt"
	"sort"
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
	_, err := s.db.NewInsert().Model(toRunModel(run)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return orchestration.ErrRunAlreadyExists
		}
		return fmt.Errorf("orchestration/bun: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	m := new(runModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", runID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, orchestration.ErrRunNotFound
		}
		return nil, fmt.Errorf("orchestration/bun: get run: %w", err)
	}
	return fromRunModel(m)
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	m := toRunModel(run)
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: update run: %w", err)
	}
	if rowsAffected(res) == 0 {
		return orchestration.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs matching the given options, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	var models []runModel

	q := s.db.NewSelect().Model(&models)
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Name != "" {
		q = q.Where("name = ?", opts.Name)
	}

	// Run IDs are K-sortable so they break timestamp ties.
	q = q.OrderExpr("created_at DESC, id DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("orchestration/bun: list runs: %w", err)
	}
	return fromRunModels(models)
}

// ListChildRuns returns the child runs of a parent run, oldest first.
func (s *Store) ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	var models []runModel
	err := s.db.NewSelect().Model(&models).
		Where("parent_run_id = ?", parentRunID.String()).
		OrderExpr("created_at, id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: list child runs: %w", err)
	}
	return fromRunModels(models)
}

// DequeueRuns atomically claims up to limit runnable runs for the worker.
// SKIP LOCKED keeps concurrently polling workers from blocking on, or
// double-claiming, the same rows.
func (s *Store) DequeueRuns(ctx context.Context, workerID id.WorkerID, limit int, now, leaseUntil time.Time) ([]*workflow.Run, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	var models []runModel
	err := s.db.NewRaw(`
		UPDATE orch_runs SET worker_id = ?, lease_until = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM orch_runs
			WHERE (worker_id IS NULL OR lease_until IS NULL OR lease_until <= ?)
			  AND (status = 'pending'
			       OR (status = 'suspended' AND wake_at IS NOT NULL AND wake_at <= ?))
			ORDER BY created_at, id
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		workerID.String(), leaseUntil, now, now, now, limitArg,
	).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: dequeue runs: %w", err)
	}

	runs, err := fromRunModels(models)
	if err != nil {
		return nil, err
	}

	// RETURNING does not guarantee row order; restore oldest first.
	sort.Slice(runs, func(i, k int) bool {
		if !runs[i].CreatedAt.Equal(runs[k].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[k].CreatedAt)
		}
		return runs[i].ID.String() < runs[k].ID.String()
	})

	return runs, nil
}

// ExtendLease moves the claim lease forward for a run the worker still owns.
func (s *Store) ExtendLease(ctx context.Context, runID id.RunID, workerID id.WorkerID, leaseUntil time.Time) error {
	res, err := s.db.NewUpdate().Model((*runModel)(nil)).
		Set("lease_until = ?", leaseUntil).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", runID.String()).
		Where("worker_id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: extend lease: %w", err)
	}
	if rowsAffected(res) == 0 {
		return orchestration.ErrRunNotFound
	}
	return nil
}

// ReapStaleRuns clears expired claims and returns stale running runs to
// pending so another worker can resume them from checkpoints.
func (s *Store) ReapStaleRuns(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.NewUpdate().Model((*runModel)(nil)).
		Set("worker_id = NULL").
		Set("lease_until = NULL").
		Set("status = CASE WHEN status = 'running' THEN 'pending' ELSE status END").
		Set("updated_at = ?", now).
		Where("worker_id IS NOT NULL").
		Where("(lease_until IS NULL OR lease_until <= ?)", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestration/bun: reap stale runs: %w", err)
	}
	return int(rowsAffected(res)), nil
}

func fromRunModels(models []runModel) ([]*workflow.Run, error) {
	var result []*workflow.Run
	for i := range models {
		run, err := fromRunModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Workflow Store — checkpoints
// ──────────────────────────────────────────────────

// SaveCheckpoint commits the result of a completed step. Re-saving an
// existing step keeps its Seq: results change, commit order does not.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	_, err := s.db.NewRaw(`
		INSERT INTO orch_checkpoints (id, run_id, step_name, seq, data, created_at)
		VALUES (?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM orch_checkpoints WHERE run_id = ?),
			?, ?)
		ON CONFLICT (run_id, step_name)
		DO UPDATE SET data = EXCLUDED.data, created_at = EXCLUDED.created_at`,
		id.NewCheckpointID().String(), runID.String(), stepName,
		runID.String(), data, time.Now().UTC(),
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific step. No
// checkpoint is not an error.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.db.NewSelect().Model((*checkpointModel)(nil)).
		Column("data").
		Where("run_id = ?", runID.String()).
		Where("step_name = ?", stepName).
		Scan(ctx, &data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/bun: get checkpoint: %w", err)
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a run in Seq order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	var models []checkpointModel
	err := s.db.NewSelect().Model(&models).
		Where("run_id = ?", runID.String()).
		Order("seq").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: list checkpoints: %w", err)
	}

	var result []*workflow.Checkpoint
	for i := range models {
		cp, err := fromCheckpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, nil
}

// DeleteCheckpointsFrom removes the named checkpoint and every checkpoint
// committed after it. A missing checkpoint is a no-op: the seq subselect
// yields NULL and the comparison matches nothing.
func (s *Store) DeleteCheckpointsFrom(ctx context.Context, runID id.RunID, fromStep string) error {
	_, err := s.db.NewRaw(`
		DELETE FROM orch_checkpoints
		WHERE run_id = ?
		  AND seq >= (SELECT seq FROM orch_checkpoints WHERE run_id = ? AND step_name = ?)`,
		runID.String(), runID.String(), fromStep,
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: delete checkpoints: %w", err)
	}
	return nil
}

// DeleteRunsBefore removes terminal runs that completed before the cutoff.
// Their checkpoints go with them via ON DELETE CASCADE.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.NewDelete().Model((*runModel)(nil)).
		Where("status IN ('completed', 'failed')").
		Where("completed_at IS NOT NULL").
		Where("completed_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestration/bun: delete runs: %w", err)
	}
	return int(rowsAffected(res)), nil
}
