package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ──────────────────────────────────────────────────
// Hook Store
// ──────────────────────────────────────────────────

// CreateHook persists a new pending hook.
func (s *Store) CreateHook(ctx context.Context, h *hook.Hook) error {
	token := h.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, hookKey(token), hookToMap(h))
	pipe.SAdd(ctx, hookIDsKey, token)
	pipe.RPush(ctx, runHooksKey(h.RunID.String()), token)
	pipe.ZAdd(ctx, hooksPendingKey, goredis.Z{Score: millis(h.ExpiresAt), Member: token})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestration/redis: create hook: %w", err)
	}
	return nil
}

// GetHook returns a hook by token.
func (s *Store) GetHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	vals, err := s.client.HGetAll(ctx, hookKey(token.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: get hook: %w", err)
	}
	if len(vals) == 0 {
		return nil, orchestration.ErrHookNotFound
	}
	return mapToHook(vals)
}

// ResolveHook atomically transitions a pending, unexpired hook to
// resolved. The script is the compare-and-swap: exactly one caller sees
// "ok"; losers learn which branch beat them.
func (s *Store) ResolveHook(ctx context.Context, token id.HookID, payload []byte, by string) (*hook.Hook, error) {
	tok := token.String()

	outcome, err := resolveHookScript.Run(ctx, s.client,
		[]string{hookKey(tok), hooksPendingKey},
		nowText(), string(payload), by, tok,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: resolve hook: %w", err)
	}

	switch outcome {
	case "ok":
		return s.GetHook(ctx, token)
	case "resolved":
		return nil, orchestration.ErrHookResolved
	case "expired", "overdue":
		return nil, orchestration.ErrHookExpired
	default:
		return nil, orchestration.ErrHookNotFound
	}
}

// ExpireHook atomically transitions a pending hook to expired. Expiring
// an already-expired hook is a no-op returning the hook; a resolved hook
// returns ErrHookResolved so the caller can honor the winning resolution.
func (s *Store) ExpireHook(ctx context.Context, token id.HookID) (*hook.Hook, error) {
	tok := token.String()

	outcome, err := expireHookScript.Run(ctx, s.client,
		[]string{hookKey(tok), hooksPendingKey},
		nowText(), tok,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: expire hook: %w", err)
	}

	switch outcome {
	case "ok", "expired":
		return s.GetHook(ctx, token)
	case "resolved":
		return nil, orchestration.ErrHookResolved
	default:
		return nil, orchestration.ErrHookNotFound
	}
}

// ExpireDueHooks transitions pending hooks past their deadline to
// expired. The pending index keeps the sweep from scanning every hook.
func (s *Store) ExpireDueHooks(ctx context.Context, now time.Time) (int, error) {
	due, err := s.client.ZRangeByScore(ctx, hooksPendingKey, &goredis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("orchestration/redis: expire due hooks: %w", err)
	}

	count := 0
	for _, tok := range due {
		outcome, sErr := expireHookScript.Run(ctx, s.client,
			[]string{hookKey(tok), hooksPendingKey},
			fmtTime(now), tok,
		).Text()
		if sErr != nil {
			return count, fmt.Errorf("orchestration/redis: expire due hook %s: %w", tok, sErr)
		}
		if outcome == "ok" {
			count++
		}
	}
	return count, nil
}

// ListHooksByRun returns all hooks created by a run, oldest first.
func (s *Store) ListHooksByRun(ctx context.Context, runID id.RunID) ([]*hook.Hook, error) {
	tokens, err := s.client.LRange(ctx, runHooksKey(runID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestration/redis: list hooks: %w", err)
	}

	hooks := make([]*hook.Hook, 0, len(tokens))
	for _, tok := range tokens {
		vals, getErr := s.client.HGetAll(ctx, hookKey(tok)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("orchestration/redis: list hooks: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		h, convErr := mapToHook(vals)
		if convErr != nil {
			return nil, convErr
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

// DeleteHooksBefore removes terminal hooks last touched before the cutoff.
func (s *Store) DeleteHooksBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tokens, err := s.client.SMembers(ctx, hookIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("orchestration/redis: delete hooks scan: %w", err)
	}

	cutoffText := fmtTime(cutoff)
	count := 0
	for _, tok := range tokens {
		vals, getErr := s.client.HGetAll(ctx, hookKey(tok)).Result()
		if getErr != nil {
			return count, fmt.Errorf("orchestration/redis: delete hooks get: %w", getErr)
		}
		if len(vals) == 0 {
			continue
		}
		if vals["state"] == string(hook.StatePending) || vals["updated_at"] >= cutoffText {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, hookKey(tok))
		pipe.SRem(ctx, hookIDsKey, tok)
		pipe.ZRem(ctx, hooksPendingKey, tok)
		pipe.LRem(ctx, runHooksKey(vals["run_id"]), 0, tok)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return count, fmt.Errorf("orchestration/redis: delete hook: %w", pErr)
		}
		count++
	}
	return count, nil
}
