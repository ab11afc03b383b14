package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("orchestration/redis: create run exists: %w", err)
	}
	if exists > 0 {
		return orchestration.ErrRunAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, runToMap(run))
	pipe.SAdd(ctx, runIDsKey, rID)
	if score, ok := claimableScore(run); ok {
		pipe.ZAdd(ctx, claimableKey, goredis.Z{Score: score, Member: rID})
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestration/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return s.getRunByKey(ctx, runKey(runID.String()))
}

func (s *Store) getRunByKey(ctx context.Context, key string) (*workflow.Run, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, orchestration.ErrRunNotFound
	}
	return mapToRun(vals)
}

// UpdateRun persists changes to an existing workflow run and refreshes
// its claimable-index membership.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("orchestration/redis: update run exists: %w", err)
	}
	if exists == 0 {
		return orchestration.ErrRunNotFound
	}

	m := runToMap(run)
	m["updated_at"] = nowText()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, m)
	if score, ok := claimableScore(run); ok {
		pipe.ZAdd(ctx, claimableKey, goredis.Z{Score: score, Member: rID})
	} else {
		pipe.ZRem(ctx, claimableKey, rID)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestration/redis: update run: %w", err)
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	runs, err := s.scanRuns(ctx, func(r *workflow.Run) bool {
		if opts.Status != "" && r.Status != opts.Status {
			return false
		}
		if opts.Name != "" && r.Name != opts.Name {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID.String() > runs[j].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// ListChildRuns returns the child runs of a parent run, oldest first.
func (s *Store) ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	parent := parentRunID.String()
	runs, err := s.scanRuns(ctx, func(r *workflow.Run) bool {
		return r.ParentRunID != nil && r.ParentRunID.String() == parent
	})
	if err != nil {
		return nil, err
	}
	sortRunsOldestFirst(runs)
	return runs, nil
}

// DequeueRuns atomically claims up to limit runnable runs via the
// server-side claim script. Claims are availability-ordered in the index;
// the returned slice is sorted oldest first by creation time.
func (s *Store) DequeueRuns(ctx context.Context, workerID id.WorkerID, limit int, now, leaseUntil time.Time) ([]*workflow.Run, error) {
	if limit <= 0 {
		limit = 1 << 30
	}

	res, err := dequeueScript.Run(ctx, s.client, []string{claimableKey},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.Itoa(limit),
		workerID.String(),
		strconv.FormatInt(leaseUntil.UnixMilli(), 10),
		fmtTime(now),
		fmtTime(leaseUntil),
		keyPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: dequeue runs: %w", err)
	}

	runs := make([]*workflow.Run, 0, len(res))
	for _, rID := range res {
		r, getErr := s.getRunByKey(ctx, runKey(rID))
		if getErr != nil {
			return nil, getErr
		}
		runs = append(runs, r)
	}
	sortRunsOldestFirst(runs)
	return runs, nil
}

// ExtendLease moves the claim lease forward for a run the worker still
// owns.
func (s *Store) ExtendLease(ctx context.Context, runID id.RunID, workerID id.WorkerID, leaseUntil time.Time) error {
	rID := runID.String()

	ok, err := extendLeaseScript.Run(ctx, s.client,
		[]string{runKey(rID), claimableKey},
		workerID.String(),
		fmtTime(leaseUntil),
		strconv.FormatInt(leaseUntil.UnixMilli(), 10),
		nowText(),
		rID,
	).Int()
	if err != nil {
		return fmt.Errorf("orchestration/redis: extend lease: %w", err)
	}
	if ok == 0 {
		return orchestration.ErrRunNotFound
	}
	return nil
}

// ReapStaleRuns clears expired claims. Stale running runs return to
// pending so another worker can resume them from checkpoints.
func (s *Store) ReapStaleRuns(ctx context.Context, now time.Time) (int, error) {
	runs, err := s.scanRuns(ctx, func(r *workflow.Run) bool {
		return !r.WorkerID.IsNil() && r.LeaseUntil != nil && !r.LeaseUntil.After(now)
	})
	if err != nil {
		return 0, err
	}

	for _, r := range runs {
		r.ClearClaim()
		if r.Status == workflow.StatusRunning {
			r.Status = workflow.StatusPending
		}
		if err := s.UpdateRun(ctx, r); err != nil {
			return 0, err
		}
	}
	return len(runs), nil
}

// SaveCheckpoint commits the result of a completed step. The per-run Seq
// counter lives on the run hash; the script keeps the original Seq on
// re-saves.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	rID := runID.String()

	err := saveCheckpointScript.Run(ctx, s.client,
		[]string{checkpointKey(rID, stepName), checkpointIndexKey(rID), runKey(rID)},
		id.NewCheckpointID().String(),
		rID,
		stepName,
		string(data),
		nowText(),
	).Err()
	if err != nil {
		return fmt.Errorf("orchestration/redis: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a step. A missing
// checkpoint is nil data, not an error.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	data, err := s.client.HGet(ctx, checkpointKey(runID.String(), stepName), "data").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/redis: get checkpoint: %w", err)
	}
	return []byte(data), nil
}

// ListCheckpoints returns all checkpoints for a run in Seq order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rID := runID.String()

	steps, err := s.client.ZRange(ctx, checkpointIndexKey(rID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: list checkpoints: %w", err)
	}

	checkpoints := make([]*workflow.Checkpoint, 0, len(steps))
	for _, step := range steps {
		vals, getErr := s.client.HGetAll(ctx, checkpointKey(rID, step)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("orchestration/redis: list checkpoints: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		cp, convErr := mapToCheckpoint(vals)
		if convErr != nil {
			return nil, convErr
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

// DeleteCheckpointsFrom removes the named checkpoint and every checkpoint
// committed after it. A missing step is a no-op.
func (s *Store) DeleteCheckpointsFrom(ctx context.Context, runID id.RunID, fromStep string) error {
	rID := runID.String()
	idxKey := checkpointIndexKey(rID)

	seqText, err := s.client.HGet(ctx, checkpointKey(rID, fromStep), "seq").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return fmt.Errorf("orchestration/redis: delete checkpoints from: %w", err)
	}

	steps, err := s.client.ZRangeByScore(ctx, idxKey, &goredis.ZRangeBy{
		Min: seqText, Max: "+inf",
	}).Result()
	if err != nil {
		return fmt.Errorf("orchestration/redis: delete checkpoints range: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, step := range steps {
		pipe.Del(ctx, checkpointKey(rID, step))
		pipe.ZRem(ctx, idxKey, step)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestration/redis: delete checkpoints: %w", err)
	}
	return nil
}

// DeleteRunsBefore removes terminal runs (and their checkpoints) that
// completed before the cutoff.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	runs, err := s.scanRuns(ctx, func(r *workflow.Run) bool {
		return r.Status.Terminal() && r.CompletedAt != nil && r.CompletedAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}

	for _, r := range runs {
		rID := r.ID.String()
		idxKey := checkpointIndexKey(rID)

		steps, zErr := s.client.ZRange(ctx, idxKey, 0, -1).Result()
		if zErr != nil {
			return 0, fmt.Errorf("orchestration/redis: delete runs checkpoints: %w", zErr)
		}

		pipe := s.client.TxPipeline()
		for _, step := range steps {
			pipe.Del(ctx, checkpointKey(rID, step))
		}
		pipe.Del(ctx, idxKey)
		pipe.Del(ctx, runKey(rID))
		pipe.SRem(ctx, runIDsKey, rID)
		pipe.ZRem(ctx, claimableKey, rID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return 0, fmt.Errorf("orchestration/redis: delete run: %w", pErr)
		}
	}
	return len(runs), nil
}

// ── helpers ──

// scanRuns loads every run and keeps the ones matching the filter.
func (s *Store) scanRuns(ctx context.Context, keep func(*workflow.Run) bool) ([]*workflow.Run, error) {
	ids, err := s.client.SMembers(ctx, runIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: scan runs: %w", err)
	}

	var runs []*workflow.Run
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, runKey(rID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("orchestration/redis: scan run %s: %w", rID, getErr)
		}
		if len(vals) == 0 {
			continue
		}
		r, convErr := mapToRun(vals)
		if convErr != nil {
			return nil, convErr
		}
		if keep(r) {
			runs = append(runs, r)
		}
	}
	return runs, nil
}

func sortRunsOldestFirst(runs []*workflow.Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID.String() < runs[j].ID.String()
	})
}

// claimableScore computes the run's claimable-index score, or false when
// the run does not belong in the index at all.
func claimableScore(r *workflow.Run) (float64, bool) {
	switch {
	case r.Status.Terminal():
		return 0, false
	case r.Claimed(time.Now().UTC()):
		return millis(*r.LeaseUntil), true
	case r.Status == workflow.StatusPending:
		return millis(r.CreatedAt), true
	case r.Status == workflow.StatusSuspended && r.WakeAt != nil:
		return millis(*r.WakeAt), true
	default:
		return 0, false
	}
}
