package bunstore

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
	_, err := s.db.NewInsert().Model(toHookModel(h)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: create hook: %w", err)
	}
	return nil
}

// GetHook returns a hook by token.
func (s *Store) GetHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	m := new(hookModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", token.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, orchestration.ErrHookNotFound
		}
		return nil, fmt.Errorf("orchestration/bun: get hook: %w", err)
	}
	return fromHookModel(m)
}

// ResolveHook atomically transitions a pending, unexpired hook to resolved.
// The conditional UPDATE is the compare-and-swap: exactly one caller
// matches the pending row and wins; losers re-read to learn which branch
// beat them.
func (s *Store) ResolveHook(ctx context.Context, token id.HookID, payload []byte, by string) (*hook.Hook, error) {
	now := time.Now().UTC()

	m := new(hookModel)
	err := s.db.NewUpdate().Model(m).
		Set("state = 'resolved'").
		Set("payload = ?", payload).
		Set("resolved_by = ?", by).
		Set("resolved_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", token.String()).
		Where("state = 'pending'").
		Where("expires_at > ?", now).
		Returning("*").
		Scan(ctx)
	if err == nil {
		return fromHookModel(m)
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("orchestration/bun: resolve hook: %w", err)
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

	_, err = s.db.NewUpdate().Model((*hookModel)(nil)).
		Set("state = 'expired'").
		Set("updated_at = ?", now).
		Where("id = ?", token.String()).
		Where("state = 'pending'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orchestration/bun: expire overdue hook: %w", err)
	}
	return orchestration.ErrHookExpired
}

// ExpireHook atomically transitions a pending hook to expired. Expiring an
// already-expired hook is a no-op returning the hook; a resolved hook
// returns ErrHookResolved so the caller can honor the winning resolution.
func (s *Store) ExpireHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	m := new(hookModel)
	err := s.db.NewUpdate().Model(m).
		Set("state = 'expired'").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", token.String()).
		Where("state = 'pending'").
		Returning("*").
		Scan(ctx)
	if err == nil {
		return fromHookModel(m)
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("orchestration/bun: expire hook: %w", err)
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
	res, err := s.db.NewUpdate().Model((*hookModel)(nil)).
		Set("state = 'expired'").
		Set("updated_at = ?", now).
		Where("state = 'pending'").
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestration/bun: expire due hooks: %w", err)
	}
	return int(rowsAffected(res)), nil
}

// ListHooksByRun returns all hooks created by a run, oldest first.
func (s *Store) ListHooksByRun(ctx context.Context, runID id.RunID) ([]*hook.Hook, error) {
	var models []hookModel
	err := s.db.NewSelect().Model(&models).
		Where("run_id = ?", runID.String()).
		OrderExpr("created_at, id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestration/bun: list hooks: %w", err)
	}

	var result []*hook.Hook
	for i := range models {
		h, err := fromHookModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, nil
}

// DeleteHooksBefore removes terminal hooks last touched before the cutoff.
func (s *Store) DeleteHooksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.NewDelete().Model((*hookModel)(nil)).
		Where("state <> 'pending'").
		Where("updated_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestration/bun: delete hooks: %w", err)
	}
	return int(rowsAffected(res)), nil
}
