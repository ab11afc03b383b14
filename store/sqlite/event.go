package sqlite

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
// autoincrement seq column preserves append order.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_events (
			id, run_id, type, step_name, hook_token, payload,
			scope_app_id, scope_org_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		evt.ID, evt.RunID, string(evt.Type), evt.StepName, evt.HookToken, evt.Payload,
		evt.ScopeAppID, evt.ScopeOrgID, fmtTime(evt.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events, oldest first.
func (s *Store) ListEvents(ctx context.Context, runID id.RunID) ([]*event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM orch_events
		 WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: list events: %w", err)
	}
	defer rows.Close()

	var result []*event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/sqlite: scan event: %w", err)
		}
		result = append(result, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: iterate events: %w", err)
	}
	return result, nil
}

// DeleteEventsBefore removes events older than the cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM orch_events WHERE created_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("orchestration/sqlite: delete events: %w", err)
	}
	return rowsAffected(res), nil
}
