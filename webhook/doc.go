// Package webhook bridges orchestrator lifecycle events to external
// HTTP endpoints. When registered as an extension, it emits typed
// webhook events (orchestration.run.completed,
// orchestration.hook.resolved, etc.) at every lifecycle point.
//
// Deliveries are JSON bodies signed with HMAC-SHA256 so receivers can
// authenticate the sender; see [HTTPDeliverer].
//
// Usage:
//
//	d := webhook.NewHTTPDeliverer("https://consumer.example.com/events", secret)
//	engine.WithExtension(webhook.New(d))
//
// To restrict which events are emitted:
//
//	webhook.New(d,
//	    webhook.WithEvents(
//	        webhook.EventRunCompleted,
//	        webhook.EventRunFailed,
//	        webhook.EventHookExpired,
//	    ),
//	)
package webhook
