// Package scope carries multi-tenant execution context (app and org
// identity) through context.Context.
//
// Runs record the scope they were started under; the scope middleware
// restores it before step functions execute so collaborators see the same
// tenant identity across suspensions and process restarts.
package scope

import "context"

// Scope identifies the tenant a run belongs to.
type Scope struct {
	AppID string
	OrgID string
}

type ctxKey struct{}

// WithScope attaches s to the context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the scope attached to ctx.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)

	return s, ok
}

// Capture extracts the app and org identifiers from the context.
// Returns empty strings if no scope is present.
func Capture(ctx context.Context) (appID, orgID string) {
	s, ok := FromContext(ctx)
	if !ok {
		return "", ""
	}

	return s.AppID, s.OrgID
}

// Restore attaches a scope to the context using the given app and org IDs.
// If both are empty, the context is returned unchanged (no-op).
func Restore(ctx context.Context, appID, orgID string) context.Context {
	if appID == "" && orgID == "" {
		return ctx
	}

	return WithScope(ctx, Scope{AppID: appID, OrgID: orgID})
}
