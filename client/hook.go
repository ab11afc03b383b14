package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/wire"
)

// ResumeHook resolves a pending hook by token and wakes its suspended
// run. The payload must satisfy the hook's schema. Exactly one resume
// wins per token; later attempts fail with a not-found error.
func (c *Client) ResumeHook(ctx context.Context, token string, payload any, by string) (*wire.HookResumeResponse, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("orchestration client: marshal payload: %w", err)
		}
		raw = data
	}

	var resp wire.HookResumeResponse
	if err := c.requestInto(ctx, wire.MethodHookResume, wire.HookResumeRequest{
		Token:   token,
		Payload: raw,
		By:      by,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve resolves an approval hook positively.
func (c *Client) Approve(ctx context.Context, token, comment, by string) (*wire.HookResumeResponse, error) {
	return c.ResumeHook(ctx, token, hook.Decision{Approved: true, Comment: comment, By: by}, by)
}

// Reject resolves an approval hook negatively.
func (c *Client) Reject(ctx context.Context, token, comment, by string) (*wire.HookResumeResponse, error) {
	return c.ResumeHook(ctx, token, hook.Decision{Approved: false, Comment: comment, By: by}, by)
}
