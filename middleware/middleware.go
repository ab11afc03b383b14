// Package middleware provides composable middleware for step execution.
// Middleware wraps step attempts synchronously and can modify execution
// (recover from panics, inject scope, log, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Chain composes multiple middleware into a single workflow.Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, scope) executes as:
//
//	logging → recover → scope → step
func Chain(mws ...workflow.Middleware) workflow.Middleware {
	return func(ctx context.Context, inv *workflow.StepInvocation, next workflow.Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}
