package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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
		schema = []byte(h.Schema)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO orch_hooks (
			id, run_id, name, kind, state, schema, payload,
			resolved_by, expires_at, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		h.ID, h.RunID, h.Name, h.Kind, string(h.State), schema, h.Payload,
		h.ResolvedBy, h.ExpiresAt, h.ResolvedAt, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: create hook: %w", err)
	}
	return nil
}

// GetHook returns a hook by token.
func (s *Store) GetHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+hookColumns+` FROM orch_hooks WHERE id = $1`, token)

	h, err := scanHook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orchestration.ErrHookNotFound
		}
		return nil, fmt.Errorf("orchestration/postgres: get hook: %w", err)
	}
	return h, nil
}

// ResolveHook atomically transitions a pending, unexpired hook to resolved.
// The conditional UPDATE is the compare-and-swap: exactly one caller
// matches the pending row and wins; losers re-read to learn which branch
// beat them.
func (s *Store) ResolveHook(ctx context.Context, token id.HookID, payload []byte, by string) (*hook.Hook, error) {
	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx, `
		UPDATE orch_hooks SET
			state = 'resolved', payload = $2, resolved_by = $3,
			resolved_at = $4, updated_at = $4
		WHERE id = $1 AND state = 'pending' AND expires_at > $4
		RETURNING `+hookColumns,
		token, payload, by, now,
	)

	h, err := scanHook(row)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("orchestration/postgres: resolve hook: %w", err)
	}

	return nil, s.classifyResolveLoss(ctx, token, now)
}

// classifyResolveLoss re-reads a hook after a failed resolve CAS and maps
// its state to the right sentinel. A pending hook here means the deadline
// passed before anyone expired it; mark it expired on observation.
func (s *Store) classifyResolveLoss(ctx context.Context, token id.HookID, now time.Time) error {
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

	_, err = s.pool.Exec(ctx, `
		UPDATE orch_hooks SET state = 'expired', updated_at = $2
		WHERE id = $1 AND state = 'pending'
	`, token, now)
	if err != nil {
		return fmt.Errorf("orchestration/postgres: expire overdue hook: %w", err)
	}
	return orchestration.ErrHookExpired
}

// ExpireHook atomically transitions a pending hook to expired. Expiring an
// already-expired hook is a no-op returning the hook; a resolved hook
// returns ErrHookResolved so the caller can honor the winning resolution.
func (s *Store) ExpireHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orch_hooks SET state = 'expired', updated_at = $2
		WHERE id = $1 AND state = 'pending'
		RETURNING `+hookColumns,
		token, time.Now().UTC(),
	)

	h, err := scanHook(row)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("orchestration/postgres: expire hook: %w", err)
	}

	h, err = s.GetHook(ctx, token)
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE orch_hooks SET state = 'expired', updated_at = $1
		WHERE state = 'pending' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("orchestration/postgres: expire due hooks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListHooksByRun returns all hooks created by a run, oldest first.
func (s *Store) ListHooksByRun(ctx context.Context, runID id.RunID) ([]*hook.Hook, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+hookColumns+` FROM orch_hooks
		 WHERE run_id = $1 ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestration/postgres: list hooks: %w", err)
	}
	defer rows.Close()

	var result []*hook.Hook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, fmt.Errorf("orchestration/postgres: scan hook: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orchestration/postgres: iterate hooks: %w", err)
	}
	return result, nil
}

// DeleteHooksBefore removes terminal hooks last touched before the cutoff.
func (s *Store) DeleteHooksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM orch_hooks
		WHERE state <> 'pending' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("orchestration/postgres: delete hooks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
