package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	orchestration "github.com/bcorn-cely/Agent-Orchestration"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// ── Hook Creation ───────────────────────────────────

// CreateHook creates a durable suspension point and returns it with its
// token already persisted. The token is committed as a checkpoint before
// this call returns, so a notification step that embeds it in an email
// can retry, and the whole run can crash and replay, without the token
// ever changing.
//
// CreateHook must be called from orchestration code. Calling it inside
// a step returns ErrHookInsideStep: hook creation mutates run-level
// suspension state that has to checkpoint in program order with the
// rest of the workflow's control flow.
func (w *Workflow) CreateHook(name string, opts ...hook.Option) (*hook.Hook, error) {
	stepName := "hook:" + name

	if w.insideStep() {
		return nil, fmt.Errorf("workflow %s: hook %q: %w", w.run.Name, name, orchestration.ErrHookInsideStep)
	}

	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, stepName)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: get hook checkpoint %q: %w", w.run.Name, name, err)
	}
	if data != nil {
		token, parseErr := id.Parse(string(data))
		if parseErr != nil {
			return nil, fmt.Errorf("workflow %s: decode hook checkpoint %q: %w", w.run.Name, name, parseErr)
		}
		h, getErr := w.hooks.GetHook(w.ctx, token)
		if getErr != nil {
			return nil, fmt.Errorf("workflow %s: reload hook %q: %w", w.run.Name, name, getErr)
		}
		w.logger.Debug("replaying checkpointed hook",
			slog.String("run_id", w.run.ID.String()),
			slog.String("hook", name),
			slog.String("token", h.Token()),
		)
		return h, nil
	}

	o := hook.Options{Kind: hook.DefaultKind, TTL: w.defaults.hookTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Kind == "" {
		o.Kind = hook.DefaultKind
	}
	if o.TTL <= 0 {
		o.TTL = w.defaults.hookTTL
	}

	token, err := id.Generate(id.Prefix(o.Kind))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: hook %q: invalid kind %q: %w", w.run.Name, name, o.Kind, err)
	}

	schema, err := hook.MarshalSchema(o.Schema)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: hook %q: %w", w.run.Name, name, err)
	}

	h := &hook.Hook{
		Entity:    orchestration.NewEntity(),
		ID:        token,
		RunID:     w.run.ID,
		Name:      name,
		Kind:      o.Kind,
		State:     hook.StatePending,
		Schema:    schema,
		ExpiresAt: time.Now().UTC().Add(o.TTL),
	}
	if err := w.hooks.CreateHook(w.ctx, h); err != nil {
		return nil, fmt.Errorf("workflow %s: create hook %q: %w", w.run.Name, name, err)
	}

	// Token before notification: the checkpoint commits here, ahead of
	// any step that could leak the token to an external party.
	if err := w.store.SaveCheckpoint(w.ctx, w.run.ID, stepName, []byte(h.ID.String())); err != nil {
		return nil, fmt.Errorf("workflow %s: save hook checkpoint %q: %w", w.run.Name, name, err)
	}

	w.emitter.EmitHookCreated(w.ctx, w.run, h)
	w.appendEvent(event.TypeHookCreated, name, h.Token(), map[string]any{
		"kind":       o.Kind,
		"expires_at": h.ExpiresAt.Format(time.RFC3339Nano),
	})
	w.logger.Debug("hook created",
		slog.String("run_id", w.run.ID.String()),
		slog.String("hook", name),
		slog.String("token", h.Token()),
		slog.Time("expires_at", h.ExpiresAt),
	)
	return h, nil
}

// ApprovalHook creates a hook that accepts the built-in yes/no decision
// payload ({approved, comment?, by?}) under the given token kind.
func (w *Workflow) ApprovalHook(name, kind string, opts ...hook.Option) (*hook.Hook, error) {
	base := []hook.Option{hook.WithKind(kind), hook.WithSchema(hook.ApprovalSchema())}
	return w.CreateHook(name, append(base, opts...)...)
}

// ── Awaiting Resolution ─────────────────────────────

// awaitOutcome is the checkpointed result of one hook await: either the
// resolution payload or the fact that the timeout branch won. It is
// committed so replay never depends on the hook record still existing.
type awaitOutcome struct {
	Expired bool            `json:"expired,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AwaitHook waits for the hook's resolution and decodes the payload
// into T. It never blocks a goroutine: if the hook is still pending,
// the handler unwinds with the suspension sentinel and the run parks
// until ResumeHook or the hook's expiry redelivers it.
//
// The timeout race is explicit. When the expiry wins, AwaitHook returns
// an error wrapping ErrHookExpired, which the workflow author handles
// as a normal negative decision (approve=false, "timeout"), not as a
// crash. Exactly one of resolution and expiry wins at the store; the
// loser's branch honors the winner.
func AwaitHook[T any](w *Workflow, h *hook.Hook) (T, error) {
	var zero T
	stepName := "await:" + h.Name

	if w.insideStep() {
		return zero, fmt.Errorf("workflow %s: await %q: %w", w.run.Name, h.Name, orchestration.ErrHookInsideStep)
	}

	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, stepName)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: get await checkpoint %q: %w", w.run.Name, h.Name, err)
	}
	if data != nil {
		return decodeAwaitOutcome[T](w, h.Name, data)
	}

	cur, err := w.hooks.GetHook(w.ctx, h.ID)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: await %q: %w", w.run.Name, h.Name, err)
	}

	now := time.Now().UTC()
	switch {
	case cur.State == hook.StateResolved:
		return commitAwaitOutcome[T](w, h.Name, stepName, awaitOutcome{Payload: cur.Payload})

	case cur.ExpiredAt(now):
		expired, expErr := w.hooks.ExpireHook(w.ctx, cur.ID)
		if errors.Is(expErr, orchestration.ErrHookResolved) {
			// A resume won the race at the deadline; honor it.
			cur, err = w.hooks.GetHook(w.ctx, h.ID)
			if err != nil {
				return zero, fmt.Errorf("workflow %s: await %q: %w", w.run.Name, h.Name, err)
			}
			return commitAwaitOutcome[T](w, h.Name, stepName, awaitOutcome{Payload: cur.Payload})
		}
		if expErr != nil {
			return zero, fmt.Errorf("workflow %s: expire hook %q: %w", w.run.Name, h.Name, expErr)
		}
		w.emitter.EmitHookExpired(w.ctx, w.run, expired)
		w.appendEvent(event.TypeHookExpired, h.Name, expired.Token(), nil)
		return commitAwaitOutcome[T](w, h.Name, stepName, awaitOutcome{Expired: true})

	default:
		// Still pending: park the run until a resume or the expiry.
		return zero, w.suspend(cur.Token(), &cur.ExpiresAt)
	}
}

// AwaitDecision awaits an approval hook and decodes the built-in
// decision payload. An expired hook maps to the explicit negative
// decision {approved:false, comment:"timeout"} so workflow bodies can
// treat the timeout branch as data instead of an error.
func (w *Workflow) AwaitDecision(h *hook.Hook) (hook.Decision, error) {
	d, err := AwaitHook[hook.Decision](w, h)
	if err != nil {
		if errors.Is(err, orchestration.ErrHookExpired) {
			return hook.Decision{Approved: false, Comment: "timeout"}, nil
		}
		return hook.Decision{}, err
	}
	return d, nil
}

// commitAwaitOutcome checkpoints the await result and returns it the
// same way a replay would, keeping both paths byte-identical.
func commitAwaitOutcome[T any](w *Workflow, hookName, stepName string, outcome awaitOutcome) (T, error) {
	var zero T
	enc, err := w.codec.Marshal(outcome)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: encode await checkpoint %q: %w", w.run.Name, hookName, err)
	}
	if err := w.store.SaveCheckpoint(w.ctx, w.run.ID, stepName, enc); err != nil {
		return zero, fmt.Errorf("workflow %s: save await checkpoint %q: %w", w.run.Name, hookName, err)
	}
	return decodeAwaitOutcome[T](w, hookName, enc)
}

func decodeAwaitOutcome[T any](w *Workflow, hookName string, data []byte) (T, error) {
	var zero T
	var outcome awaitOutcome
	if err := w.codec.Unmarshal(data, &outcome); err != nil {
		return zero, fmt.Errorf("workflow %s: decode await checkpoint %q: %w", w.run.Name, hookName, err)
	}
	if outcome.Expired {
		return zero, fmt.Errorf("workflow %s hook %q: %w", w.run.Name, hookName, orchestration.ErrHookExpired)
	}

	var result T
	if len(outcome.Payload) > 0 {
		if err := json.Unmarshal(outcome.Payload, &result); err != nil {
			return zero, fmt.Errorf("workflow %s: decode hook payload %q: %w", w.run.Name, hookName, err)
		}
	}
	return result, nil
}

// Hooks returns the hooks this run has created, oldest first.
func (w *Workflow) Hooks(ctx context.Context) ([]*hook.Hook, error) {
	return w.hooks.ListHooksByRun(ctx, w.run.ID)
}
