package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

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
	m := toWorkerModel(w)

	_, err := s.col(colWorkers).ReplaceOne(ctx,
		bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("orchestration/mongo: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.col(colWorkers).DeleteOne(ctx, bson.M{"_id": workerID.String()})
	if err != nil {
		return fmt.Errorf("orchestration/mongo: deregister worker: %w", err)
	}
	if res.DeletedCount == 0 {
		return orchestration.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.col(colWorkers).UpdateOne(ctx,
		bson.M{"_id": workerID.String()},
		bson.M{"$set": bson.M{"last_seen": now()}},
	)
	if err != nil {
		return fmt.Errorf("orchestration/mongo: heartbeat worker: %w", err)
	}
	if res.MatchedCount == 0 {
		return orchestration.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers with the current leader
// annotated.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	workers, err := s.findWorkers(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	leader, err := s.currentLeader(ctx)
	if err != nil {
		return nil, err
	}
	if leader != nil {
		for _, w := range workers {
			if w.ID.String() == leader.WorkerID {
				w.IsLeader = true
				until := leader.Until
				w.LeaderUntil = &until
			}
		}
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := now().Add(-threshold)
	return s.findWorkers(ctx, bson.M{"last_seen": bson.M{"$lt": cutoff}})
}

// AcquireLeadership attempts to become the cluster leader. The filter
// matches the leader slot only when it is lapsed or self-held; when it
// matches nothing the upsert collides with the existing document, and
// the duplicate key error means the lock is taken.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	t := now()

	_, err := s.col(colLeader).UpdateOne(ctx,
		bson.M{
			"_id": leaderDocID,
			"$or": bson.A{
				bson.M{"until": bson.M{"$lte": t}},
				bson.M{"worker_id": workerID.String()},
			},
		},
		bson.M{"$set": bson.M{
			"worker_id": workerID.String(),
			"until":     t.Add(ttl),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("orchestration/mongo: acquire leadership: %w", err)
	}
	return true, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	res, err := s.col(colLeader).UpdateOne(ctx,
		bson.M{"_id": leaderDocID, "worker_id": workerID.String()},
		bson.M{"$set": bson.M{"until": now().Add(ttl)}},
	)
	if err != nil {
		return false, fmt.Errorf("orchestration/mongo: renew leadership: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// leader or its worker record is gone.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	leader, err := s.currentLeader(ctx)
	if err != nil || leader == nil {
		return nil, err
	}

	var m workerModel
	err = s.col(colWorkers).FindOne(ctx, bson.M{"_id": leader.WorkerID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/mongo: get leader: %w", err)
	}

	w, err := fromWorkerModel(&m)
	if err != nil {
		return nil, err
	}
	w.IsLeader = true
	until := leader.Until
	w.LeaderUntil = &until
	return w, nil
}

// currentLeader reads the leader slot, returning nil when no live leader
// exists.
func (s *Store) currentLeader(ctx context.Context) (*leaderModel, error) {
	var m leaderModel
	err := s.col(colLeader).FindOne(ctx,
		bson.M{"_id": leaderDocID, "until": bson.M{"$gt": now()}},
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration/mongo: read leader: %w", err)
	}
	return &m, nil
}

func (s *Store) findWorkers(ctx context.Context, filter bson.M) ([]*cluster.Worker, error) {
	cursor, err := s.col(colWorkers).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: find workers: %w", err)
	}

	var models []workerModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("orchestration/mongo: find workers decode: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, convErr := fromWorkerModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		workers = append(workers, w)
	}
	return workers, nil
}
