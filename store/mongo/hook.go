package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Hook Store
// ──────────────────────────────────────────────────

// CreateHook persists a new pending hook.
func (s *Store) CreateHook(ctx context.Context, h *hook.Hook) error {
	if _, err := s.col(colHooks).InsertOne(ctx, toHookModel(h)); err != nil {
		return fmt.Errorf("orchestration/mongo: create hook: %w", err)
	}
	return nil
}

// GetHook returns a hook by token.
func (s *Store) GetHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	var m hookModel
	err := s.col(colHooks).FindOne(ctx, bson.M{"_id": token.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, orchestration.ErrHookNotFound
		}
		return nil, fmt.Errorf("orchestration/mongo: get hook: %w", err)
	}
	return fromHookModel(&m)
}

// ResolveHook atomically transitions a pending, unexpired hook to
// resolved. The precondition lives in the FindOneAndUpdate filter, so
// exactly one caller matches the pending document and wins.
func (s *Store) ResolveHook(ctx context.Context, token id.HookID, payload []byte, by string) (*hook.Hook, error) {
	t := now()

	var m hookModel
	err := s.col(colHooks).FindOneAndUpdate(ctx,
		bson.M{
			"_id":        token.String(),
			"state":      string(hook.StatePending),
			"expires_at": bson.M{"$gt": t},
		},
		bson.M{"$set": bson.M{
			"state":       string(hook.StateResolved),
			"payload":     payload,
			"resolved_by": by,
			"resolved_at": t,
			"updated_at":  t,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return fromHookModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("orchestration/mongo: resolve hook: %w", err)
	}

	return nil, s.classifyResolveLoss(ctx, token, t)
}

// classifyResolveLoss re-reads a hook after a lost resolve CAS. A still
// pending hook got here past its deadline; mark it expired on
// observation.
func (s *Store) classifyResolveLoss(ctx context.Context, token id.HookID, t time.Time) error {
	h, err := s.GetHook(ctx, token)
	if err != nil {
		return err
	}

	switch h.State {
	case hook.StateResolved:
		return orchestration.ErrHookResolved
	case hook.StateExpired:
		return orchestration.ErrHookExpired
	}

	_, err = s.col(colHooks).UpdateOne(ctx,
		bson.M{"_id": token.String(), "state": string(hook.StatePending)},
		bson.M{"$set": bson.M{"state": string(hook.StateExpired), "updated_at": t}},
	)
	if err != nil {
		return fmt.Errorf("orchestration/mongo: expire overdue hook: %w", err)
	}
	return orchestration.ErrHookExpired
}

// ExpireHook atomically transitions a pending hook to expired. Expiring
// an already-expired hook is a no-op returning the hook; a resolved hook
// returns ErrHookResolved so the caller can honor the winning resolution.
func (s *Store) ExpireHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	var m hookModel
	err := s.col(colHooks).FindOneAndUpdate(ctx,
		bson.M{"_id": token.String(), "state": string(hook.StatePending)},
		bson.M{"$set": bson.M{"state": string(hook.StateExpired), "updated_at": now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return fromHookModel(&m)
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("orchestration/mongo: expire hook: %w", err)
	}

	h, getErr := s.GetHook(ctx, token)
	if getErr != nil {
		return nil, getErr
	}
	if h.State == hook.StateResolved {
		return nil, orchestration.ErrHookResolved
	}
	return h, nil
}

// ExpireDueHooks transitions pending hooks past their deadline to
// expired.
func (s *Store) ExpireDueHooks(ctx context.Context, now time.Time) (int, error) {
	res, err := s.col(colHooks).UpdateMany(ctx,
		bson.M{
			"state":      string(hook.StatePending),
			"expires_at": bson.M{"$lte": now},
		},
		bson.M{"$set": bson.M{"state": string(hook.StateExpired), "updated_at": now}},
	)
	if err != nil {
		return 0, fmt.Errorf("orchestration/mongo: expire due hooks: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// ListHooksByRun returns all hooks created by a run, oldest first.
func (s *Store) ListHooksByRun(ctx context.Context, runID id.RunID) ([]*hook.Hook, error) {
	cursor, err := s.col(colHooks).Find(ctx,
		bson.M{"run_id": runID.String()},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: list hooks: %w", err)
	}

	var models []hookModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("orchestration/mongo: list hooks decode: %w", err)
	}

	hooks := make([]*hook.Hook, 0, len(models))
	for i := range models {
		h, convErr := fromHookModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

// DeleteHooksBefore removes terminal hooks last touched before the
// cutoff.
func (s *Store) DeleteHooksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.col(colHooks).DeleteMany(ctx, bson.M{
		"state":      bson.M{"$ne": string(hook.StatePending)},
		"updated_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("orchestration/mongo: delete hooks: %w", err)
	}
	return int(res.DeletedCount), nil
}
