package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// eventCounter names the global event sequence counter.
const eventCounter = "event_seq"

// AppendEvent persists a new event at the tail of its run's trail. The
// $inc counter assigns the sequence, so append order survives concurrent
// writers with identical timestamps.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	seq, err := s.nextSeq(ctx, eventCounter)
	if err != nil {
		return err
	}

	m := &eventModel{
		ID:         evt.ID.String(),
		Seq:        seq,
		RunID:      evt.RunID.String(),
		Type:       string(evt.Type),
		StepName:   evt.StepName,
		HookToken:  evt.HookToken,
		Payload:    evt.Payload,
		ScopeAppID: evt.ScopeAppID,
		ScopeOrgID: evt.ScopeOrgID,
		CreatedAt:  evt.CreatedAt,
	}
	if _, err := s.col(colEvents).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("orchestration/mongo: append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events, oldest first.
func (s *Store) ListEvents(ctx context.Context, runID id.RunID) ([]*event.Event, error) {
	cursor, err := s.col(colEvents).Find(ctx,
		bson.M{"run_id": runID.String()},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestration/mongo: list events: %w", err)
	}

	var models []eventModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("orchestration/mongo: list events decode: %w", err)
	}

	events := make([]*event.Event, 0, len(models))
	for i := range models {
		evt, convErr := fromEventModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		events = append(events, evt)
	}
	return events, nil
}

// DeleteEventsBefore removes events older than the cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.col(colEvents).DeleteMany(ctx,
		bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("orchestration/mongo: delete events: %w", err)
	}
	return int(res.DeletedCount), nil
}
