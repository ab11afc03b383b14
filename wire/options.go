package wire

import (
	"log/slog"

	"github.com/bcorn-cely/Agent-Orchestration/codec"
)

// Option configures a wire Server.
type Option func(*Server)

// WithAuth sets the authenticator for the wire server.
// If not set, NoopAuthenticator is used (development mode).
func WithAuth(auth Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// WithCodec sets the default codec for the wire server.
// Clients can override via the auth frame's format field.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.defaultCodec = c }
}

// WithLogger sets the logger for the wire server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPath sets the base path for wire endpoints.
// Default is "/wire".
func WithPath(path string) Option {
	return func(s *Server) { s.basePath = path }
}
