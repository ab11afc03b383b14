package postgres

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
// BIGSERIAL seq column preserves append order across workers.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orch_events (
			id, run_id, type, step_name, hook_token, payload,
			scope_app_id, scope_org_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		evt.ID, evt.RunID, string(evt.Type), evt.StepName, evt.HookToken, evt.Payload,
		evt.ScopeAppID, evt.ScopeOrgID, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events, oldest first.
func (s *Store) ListEvents(ctx context.Context, runID id.RunID) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM orch_events
		 WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/postgres: list events: %w", err)
	}
	defer rows.Close()

	var result []*event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/postgres: scan event: %w", err)
		}
		result = append(result, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/postgres: iterate events: %w", err)
	}
	return result, nil
}

// DeleteEventsBefore removes events older than the cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orch_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("orchestration/postgres: delete events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
