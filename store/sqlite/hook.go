package sqlite

import (
	"context"
	"fmt"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Hook Store
// ──────────────────────────────────────────────────

// CreateHook persists a new pending hook.
func (s *Store) CreateHook(ctx context.Context, h *hook.Hook) error {
	var schema any
	if len(h.Schema) > 0 {
		schema = string(h.Schema)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orch_hooks (
			id, run_id, name, kind, state, schema, payload,
			resolved_by, expires_at, resolved_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.ID, h.RunID, h.Name, h.Kind, string(h.State), schema, h.Payload,
		h.ResolvedBy, fmtTime(h.ExpiresAt), fmtTimePtr(h.ResolvedAt),
		fmtTime(h.CreatedAt), fmtTime(h.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("orchestration/sqlite: create hook: %w", err)
	}
	return nil
}

// GetHook returns a hook by token.
func (s *Store) GetHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+hookColumns+` FROM orch_hooks WHERE id = ?`, token)

	h, err := scanHook(row)
	if err != nil {
		if isNoRows(err) {
			return nil, orchestration.ErrHookNotFound
		}
		return nil, fmt.Errorf("orchestration/sqlite: get hook: %w", err)
	}
	return h, nil
}

// ResolveHook atomically transitions a pending, unexpired hook to resolved.
// The conditional UPDATE is the compare-and-swap: exactly one caller
// matches the pending row and wins; losers re-read to learn which branch
// beat them.
func (s *Store) ResolveHook(ctx context.Context, token id.HookID, payload []byte, by string) (*hook.Hook, error) {
	now := time.Now().UTC()
	nowText := fmtTime(now)

	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_hooks SET
			state = 'resolved', payload = ?, resolved_by = ?,
			resolved_at = ?, updated_at = ?
		WHERE id = ? AND state = 'pending' AND expires_at > ?
	`, payload, by, nowText, nowText, token, nowText)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: resolve hook: %w", err)
	}
	if rowsAffected(res) > 0 {
		return s.GetHook(ctx, token)
	}

	// Lost the CAS; classify. A pending hook here means the deadline
	// passed before anyone expired it; mark it expired on observation.
	h, err := s.GetHook(ctx, token)
	if err != nil {
		return nil, err
	}
	switch h.State {
	case hook.StateResolved:
		return nil, orchestration.ErrHookResolved
	case hook.StateExpired:
		return nil, orchestration.ErrHookExpired
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE orch_hooks SET state = 'expired', updated_at = ?
		WHERE id = ? AND state = 'pending'
	`, nowText, token)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: expire overdue hook: %w", err)
	}
	return nil, orchestration.ErrHookExpired
}

// ExpireHook atomically transitions a pending hook to expired. Expiring an
// already-expired hook is a no-op returning the hook; a resolved hook
// returns ErrHookResolved so the caller can honor the winning resolution.
func (s *Store) ExpireHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orch_hooks SET state = 'expired', updated_at = ?
		WHERE id = ? AND state = 'pending'
	`, nowText(), token)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: expire hook: %w", err)
	}

	h, err := s.GetHook(ctx, token)
	if err != nil {
		return nil, err
	}
	if h.State == hook.StateResolved {
		return nil, orchestration.ErrHookResolved
	}
	return h, nil
}

// ExpireDueHooks transitions pending hooks past their deadline to expired.
func (s *Store) ExpireDueHooks(ctx context.Context, now time.Time) (int, error) {
	nowText := fmtTime(now)

	res, err := s.db.ExecContext(ctx, `
		UPDATE orch_hooks SET state = 'expired', updated_at = ?
		WHERE state = 'pending' AND expires_at <= ?
	`, nowText, nowText)
	if err != nil {
		return 0, fmt.Errorf("orchestration/sqlite: expire due hooks: %w", err)
	}
	return rowsAffected(res), nil
}

// ListHooksByRun returns all hooks created by a run, oldest first.
func (s *Store) ListHooksByRun(ctx context.Context, runID id.RunID) ([]*hook.Hook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+hookColumns+` FROM orch_hooks
		 WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: list hooks: %w", err)
	}
	defer rows.Close()

	var result []*hook.Hook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/sqlite: scan hook: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/sqlite: iterate hooks: %w", err)
	}
	return result, nil
}

// DeleteHooksBefore removes terminal hooks last touched before the cutoff.
func (s *Store) DeleteHooksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM orch_hooks
		WHERE state <> 'pending' AND updated_at < ?
	`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("orchestration/sqlite: delete hooks: %w", err)
	}
	return rowsAffected(res), nil
}
