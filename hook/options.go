package hook

import (
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// Options control hook creation. The zero value inherits the runner's
// configured defaults (kind "hook", Config.DefaultHookTTL, no schema).
type Options struct {
	Kind   string
	TTL    time.Duration
	Schema *openapi3.Schema
}

// Option configures hook creation.
type Option func(*Options)

// WithKind sets the token namespace. Kinds must be valid TypeID prefixes
// (lowercase ASCII letters and underscores, at most 63 characters).
func WithKind(kind string) Option {
	return func(o *Options) {
		o.Kind = kind
	}
}

// WithTimeout overrides the default hook TTL for this hook. The timeout
// race is explicit: when it elapses first, the awaiting workflow observes
// ErrHookExpired and decides the negative branch itself.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.TTL = d
	}
}

// WithSchema sets the schema resume payloads must satisfy.
func WithSchema(s *openapi3.Schema) Option {
	return func(o *Options) {
		o.Schema = s
	}
}
