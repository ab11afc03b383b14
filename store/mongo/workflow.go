package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/id"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// cpCounter names the per-run checkpoint sequence counter.
func cpCounter(runID string) string { return "cp:" + runID }

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	if _, err := s.col(colRuns).InsertOne(ctx, toRunModel(run)); err != nil {
		if isDuplicateKey(err) {
			return orchestration.ErrRunAlreadyExists
		}
		return fmt.Errorf("orchestration/mongo: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	var m runModel
	err := s.col(colRuns).FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, orchestration.ErrRunNotFound
		}
		return nil, fmt.Errorf("orchestration/mongo: get run: %w", err)
	}
	return fromRunModel(&m)
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	m := toRunModel(run)
	m.UpdatedAt = now()

	res, err := s.col(colRuns).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("orchestration/mongo: update run: %w", err)
	}
	if res.MatchedCount == 0 {
		return orchestration.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Name != "" {
		filter["name"] = opts.Name
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	return s.findRuns(ctx, filter, findOpts)
}

// ListChildRuns returns the child runs of a parent run, oldest first.
func (s *Store) ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	return s.findRuns(ctx,
		bson.M{"parent_run_id": parentRunID.String()},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
}

// DequeueRuns atomically claims up to limit runnable runs. Each claim is
// one FindOneAndUpdate whose filter carries the precondition, so two
// workers can never claim the same run.
func (s *Store) DequeueRuns(ctx context.Context, workerID id.WorkerID, limit int, now, leaseUntil time.Time) ([]*workflow.Run, error) {
	filter := bson.M{"$and": bson.A{
		bson.M{"$or": bson.A{
			bson.M{"worker_id": ""},
			bson.M{"lease_until": bson.M{"$exists": false}},
			bson.M{"lease_until": bson.M{"$lte": now}},
		}},
		bson.M{"$or": bson.A{
			bson.M{"status": string(workflow.StatusPending)},
			bson.M{
				"status":  string(workflow.StatusSuspended),
				"wake_at": bson.M{"$lte": now},
			},
		}},
	}}
	update := bson.M{"$set": bson.M{
		"worker_id":   workerID.String(),
		"lease_until": leaseUntil,
		"updated_at":  now,
	}}
	claimOpts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var runs []*workflow.Run
	for limit <= 0 || len(runs) < limit {
		var m runModel
		err := s.col(colRuns).FindOneAndUpdate(ctx, filter, update, claimOpts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("orchestration/mongo: dequeue runs: %w", err)
		}
		r, convErr := fromRunModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// ExtendLease moves the claim lease forward for a run the worker still
// owns.
func (s *Store) ExtendLease(ctx context.Context, runID id.RunID, workerID id.WorkerID, leaseUntil time.Time) error {
	res, err := s.col(colRuns).UpdateOne(ctx,
		bson.M{"_id": runID.String(), "worker_id": workerID.String()},
		bson.M{"$set": bson.M{"lease_until": leaseUntil, "updated_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("orchestration/mongo: extend lease: %w", err)
	}
	if res.MatchedCount == 0 {
		return orchestration.ErrRunNotFound
	}
	return nil
}

// ReapStaleRuns clears expired claims in one pipeline update: stale
// running runs return to pending, every lapsed claim is dropped.
func (s *Store) ReapStaleRuns(ctx context.Context, now time.Time) (int, error) {
	filter := bson.M{
		"worker_id":   bson.M{"$ne": ""},
		"lease_until": bson.M{"$lte": now},
	}
	update := mongod.Pipeline{
		bson.D{{Key: "$set", Value: bson.M{
			"status": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", string(workflow.StatusRunning)}},
				string(workflow.StatusPending),
				"$status",
			}},
			"worker_id":  "",
			"updated_at": now,
		}}},
		bson.D{{Key: "$unset", Value: "lease_until"}},
	}

	res, err := s.col(colRuns).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("orchestration/mongo: reap stale runs: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// SaveCheckpoint commits the result of a completed step. Re-saving a
// step keeps its Seq; a new step draws the next value from the per-run
// counter.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	rID := runID.String()
	filter := bson.M{"run_id": rID, "step_name": stepName}
	refresh := bson.M{"$set": bson.M{"data": data, "created_at": now()}}

	res, err := s.col(colCheckpoints).UpdateOne(ctx, filter, refresh)
	if err != nil {
		return fmt.Errorf("orchestration/mongo: save checkpoint: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	seq, err := s.nextSeq(ctx, cpCounter(rID))
	if err != nil {
		return err
	}

	_, err = s.col(colCheckpoints).InsertOne(ctx, &checkpointModel{
		ID:        id.NewCheckpointID().String(),
		RunID:     rID,
		StepName:  stepName,
		Seq:       seq,
		Data:      data,
		CreatedAt: now(),
	})
	if err != nil {
		// Lost an insert race on (run_id, step_name); refresh the winner.
		if isDuplicateKey(err) {
			if _, uErr := s.col(colCheckpoints).UpdateOne(ctx, filter, refresh); uErr != nil {
				return fmt.Errorf("orchestration/mongo: save checkpoint retry: %w", uErr)
			}
			return nil
		}
		return fmt.Errorf("orchestration/mongo: save checkpoint insert: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a step. A missing
// checkpoint is nil data, not an error.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var m checkpointModel
	err := s.col(colCheckpoints).FindOne(ctx,
		bson.M{"run_id": runID.String(), "step_name": stepName},
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/mongo: get checkpoint: %w", err)
	}
	return m.Data, nil
}

// ListCheckpoints returns all checkpoints for a run in Seq order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	cursor, err := s.col(colCheckpoints).Find(ctx,
		bson.M{"run_id": runID.String()},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: list checkpoints: %w", err)
	}

	var models []checkpointModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("orchestration/mongo: list checkpoints decode: %w", err)
	}

	checkpoints := make([]*workflow.Checkpoint, 0, len(models))
	for i := range models {
		cp, convErr := fromCheckpointModel(&models[i])
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

	var target checkpointModel
	err := s.col(colCheckpoints).FindOne(ctx,
		bson.M{"run_id": rID, "step_name": fromStep},
	).Decode(&target)
	if err != nil {
		if isNoDocuments(err) {
			return nil
		}
		return fmt.Errorf("orchestration/mongo: delete checkpoints from: %w", err)
	}

	_, err = s.col(colCheckpoints).DeleteMany(ctx,
		bson.M{"run_id": rID, "seq": bson.M{"$gte": target.Seq}},
	)
	if err != nil {
		return fmt.Errorf("orchestration/mongo: delete checkpoints: %w", err)
	}
	return nil
}

// DeleteRunsBefore removes terminal runs (and their checkpoints and
// sequence counters) that completed before the cutoff.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"status": bson.M{"$in": bson.A{
			string(workflow.StatusCompleted), string(workflow.StatusFailed),
		}},
		"completed_at": bson.M{"$lt": cutoff},
	}

	cursor, err := s.col(colRuns).Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("orchestration/mongo: delete runs find: %w", err)
	}

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("orchestration/mongo: delete runs decode: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	ids := make(bson.A, 0, len(docs))
	counters := make(bson.A, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
		counters = append(counters, cpCounter(d.ID))
	}

	if _, err := s.col(colCheckpoints).DeleteMany(ctx, bson.M{"run_id": bson.M{"$in": ids}}); err != nil {
		return 0, fmt.Errorf("orchestration/mongo: delete run checkpoints: %w", err)
	}
	if _, err := s.col(colCounters).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": counters}}); err != nil {
		return 0, fmt.Errorf("orchestration/mongo: delete run counters: %w", err)
	}
	if _, err := s.col(colRuns).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return 0, fmt.Errorf("orchestration/mongo: delete runs: %w", err)
	}
	return len(docs), nil
}

// findRuns loads and converts runs for a filter.
func (s *Store) findRuns(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*workflow.Run, error) {
	cursor, err := s.col(colRuns).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: find runs: %w", err)
	}

	var models []runModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("orchestration/mongo: find runs decode: %w", err)
	}

	runs := make([]*workflow.Run, 0, len(models))
	for i := range models {
		r, convErr := fromRunModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		runs = append(runs, r)
	}
	return runs, nil
}
