package orchestration

import "time"

// Config holds configuration for the Orchestrator.
type Config struct {
	// Concurrency is the maximum number of runs executed concurrently
	// by one worker process.
	Concurrency int

	// PollInterval is how often the run pool polls for due work when no
	// wake signal arrives first.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often claimed runs extend their lease.
	HeartbeatInterval time.Duration

	// StaleRunThreshold is how long a claimed run may go without a
	// heartbeat before the reaper returns it to the pending queue.
	StaleRunThreshold time.Duration

	// DefaultMaxRetries is the default maximum number of attempts per
	// step, counting the first one. Steps override it per call.
	DefaultMaxRetries int

	// DefaultStepTimeout bounds a single step attempt. Zero disables the
	// bound. Steps override it per call.
	DefaultStepTimeout time.Duration

	// DefaultHookTTL is how long a hook stays pending before the timeout
	// branch wins. Hooks override it per call.
	DefaultHookTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleRunThreshold:  30 * time.Second,
		DefaultMaxRetries:  3,
		DefaultStepTimeout: 5 * time.Minute,
		DefaultHookTTL:     1 * time.Hour,
	}
}
