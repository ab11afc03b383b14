package middleware

import (
	"context"

	"github.com/bcorn-cely/Agent-Orchestration/scope"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Scope returns middleware that restores multi-tenant scope from the
// run's ScopeAppID/ScopeOrgID fields into the context. This ensures
// step functions see the same scope as the original start caller.
func Scope() workflow.Middleware {
	return func(ctx context.Context, inv *workflow.StepInvocation, next workflow.Handler) error {
		ctx = scope.Restore(ctx, inv.Run.ScopeAppID, inv.Run.ScopeOrgID)
		return next(ctx)
	}
}
