package bunstore

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

// AppendEvent persists a run event. The BIGSERIAL primary key orders the
// log independently of timestamp resolution.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.db.NewInsert().Model(toEventModel(evt)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: append event: %w", err)
	}
	return nil
}

// ListEvents returns all events for a run in append order.
func (s *Store) ListEvents(ctx context.Context, runID id.RunID) ([]*event.Event, error) {
	var models []eventModel
	err := s.db.NewSelect().Model(&models).
		Where("run_id = ?", runID.String()).
		Order("seq").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: list events: %w", err)
	}

	var result []*event.Event
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, nil
}

// DeleteEventsBefore removes events created before the cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.NewDelete().Model((*eventModel)(nil)).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestration/bun: delete events: %w", err)
	}
	return int(rowsAffected(res)), nil
}
