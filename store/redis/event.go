package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// AppendEvent persists a new event at the tail of its run's trail. The
// per-run List preserves append order.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	eID := evt.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, eventKey(eID), eventToMap(evt))
	pipe.SAdd(ctx, eventIDsKey, eID)
	pipe.RPush(ctx, runEventsKey(evt.RunID.String()), eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestration/redis: append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events, oldest first.
func (s *Store) ListEvents(ctx context.Context, runID id.RunID) ([]*event.Event, error) {
	ids, err := s.client.LRange(ctx, runEventsKey(runID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: list events: %w", err)
	}

	events := make([]*event.Event, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, eventKey(eID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("orchestration/redis: list events: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		evt, convErr := mapToEvent(vals)
		if convErr != nil {
			return nil, convErr
		}
		events = append(events, evt)
	}
	return events, nil
}

// DeleteEventsBefore removes events older than the cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, eventIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("orchestration/redis: delete events scan: %w", err)
	}

	cutoffText := fmtTime(cutoff)
	count := 0
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, eventKey(eID)).Result()
		if getErr != nil {
			return count, fmt.Errorf("orchestration/redis: delete events get: %w", getErr)
		}
		if len(vals) == 0 || vals["created_at"] >= cutoffText {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, eventKey(eID))
		pipe.SRem(ctx, eventIDsKey, eID)
		pipe.LRem(ctx, runEventsKey(vals["run_id"]), 0, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return count, fmt.Errorf("orchestration/redis: delete event: %w", pErr)
		}
		count++
	}
	return count, nil
}
