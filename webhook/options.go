package webhook

// Option configures an Extension.
type Option func(*Extension)

// PayloadFunc builds a custom event payload for a specific event type.
// It receives the default payload and the returned value becomes
// Delivery.Data.
type PayloadFunc func(defaultData any) (any, error)

// WithEvents restricts the extension to emit only the listed event
// types. By default all event types are enabled. Unknown types are
// silently ignored.
func WithEvents(events ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(events))
		for _, evt := range events {
			e.enabled[evt] = true
		}
	}
}

// WithPayloadFunc registers a custom payload builder for the given
// event type. The function replaces the default payload for that event.
func WithPayloadFunc(eventType string, fn PayloadFunc) Option {
	return func(e *Extension) {
		if e.payloads == nil {
			e.payloads = make(map[string]PayloadFunc)
		}
		e.payloads[eventType] = fn
	}
}
