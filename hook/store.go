package hook

import (
	"context"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// Store defines the persistence contract for hooks.
//
// ResolveHook and ExpireHook are the race boundary of the whole approval
// mechanism: implementations must make the pending→resolved and
// pending→expired transitions atomic compare-and-swaps so that exactly one
// caller wins.
type Store interface {
	// CreateHook persists a new pending hook.
	CreateHook(ctx context.Context, h *Hook) error

	// GetHook returns a hook by token. Returns ErrHookNotFound if absent.
	GetHook(ctx context.Context, token id.HookID) (*Hook, error)

	// ResolveHook atomically transitions a pending, unexpired hook to
	// resolved with the given payload. It returns the updated hook, or
	// ErrHookNotFound if absent, ErrHookResolved if a previous call won,
	// ErrHookExpired if the timeout branch already won or the expiry has
	// passed (implementations mark such hooks expired on observation).
	ResolveHook(ctx context.Context, token id.HookID, payload []byte, by string) (*Hook, error)

	// ExpireHook atomically transitions a pending hook to expired. It
	// returns the updated hook, or ErrHookResolved if a resolution got
	// there first (callers should re-read and honor the resolution), or
	// ErrHookNotFound if absent.
	ExpireHook(ctx context.Context, token id.HookID) (*Hook, error)

	// ListHooksByRun returns all hooks created by a run, oldest first.
	ListHooksByRun(ctx context.Context, runID id.RunID) ([]*Hook, error)

	// ExpireDueHooks transitions every pending hook whose deadline has
	// passed at the given instant to expired, returning how many were
	// transitioned. Resolved hooks are never touched. Retention sweeps
	// call it to reap hooks whose runs are no longer awaiting them.
	ExpireDueHooks(ctx context.Context, now time.Time) (int, error)

	// DeleteHooksBefore removes terminal (resolved or expired) hooks older
	// than the cutoff, returning how many were removed. Retention sweeps
	// call it.
	DeleteHooksBefore(ctx context.Context, cutoff time.Time) (int, error)
}
