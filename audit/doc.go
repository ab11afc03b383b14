// Package audit is an orchestrator extension that bridges run, step,
// hook, and schedule lifecycle events to an immutable audit trail
// backend.
//
// Every lifecycle hook emits a structured audit event through the
// [Recorder] interface. The extension assigns severity levels (info for
// normal progress, warning for retries and expired approvals, critical
// for terminal failures) and attaches metadata such as the workflow
// name, step name, elapsed time, and error text.
//
// Approval hooks are the compliance-sensitive part of this system, so
// hook.created, hook.resolved, and hook.expired events carry the token,
// the resolver identity, and the deadline.
//
// # Usage
//
//	audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.Event) error {
//	    return trail.Write(ctx, evt.Action, evt.Resource, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionRunFailed,
//	        audit.ActionHookResolved,
//	        audit.ActionHookExpired,
//	    ),
//	)
package audit
