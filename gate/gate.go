package gate

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-workflow admission behaviour such as rate limiting
// and concurrency.
type Config struct {
	// Workflow is the registered workflow name the limits apply to.
	Workflow string

	// MaxConcurrent limits how many runs of this workflow may execute
	// simultaneously across the local worker pool. Zero means no
	// workflow-specific limit (pool-wide concurrency still applies).
	MaxConcurrent int

	// RateLimit is the maximum sustained run admissions per second for
	// this workflow. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// gateState tracks runtime state for a single workflow gate.
type gateState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-workflow and per-tenant rate limiting and
// concurrency. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	gates   map[string]*gateState
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given workflow configurations.
// Workflows not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		gates:   make(map[string]*gateState, len(configs)),
		tenants: make(map[string]*tenantState),
	}
	for _, cfg := range configs {
		m.gates[cfg.Workflow] = newGateState(cfg)
	}
	return m
}

func newGateState(cfg Config) *gateState {
	gs := &gateState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		gs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return gs
}

// Acquire checks rate limits and concurrency for the given workflow and
// tenant. If the run is allowed to proceed it increments the active
// counter and returns true. The caller MUST call Release when the run
// settles (completes, fails, or suspends).
func (m *Manager) Acquire(workflow, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check workflow-level constraints.
	gs := m.gates[workflow]
	if gs != nil {
		if gs.limiter != nil && !gs.limiter.Allow() {
			return false
		}
		if gs.config.MaxConcurrent > 0 && gs.active >= gs.config.MaxConcurrent {
			return false
		}
	}

	// Check tenant-level constraints.
	if tenantID != "" {
		ts := m.tenants[tenantKey(workflow, tenantID)]
		if ts != nil {
			if ts.limiter != nil && !ts.limiter.Allow() {
				return false
			}
			if ts.maxConcurrent > 0 && ts.active >= ts.maxConcurrent {
				return false
			}
			ts.active++
		}
	}

	// Increment workflow active count.
	if gs != nil {
		gs.active++
	}

	return true
}

// Release decrements the active run count for the workflow and tenant.
func (m *Manager) Release(workflow, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gs := m.gates[workflow]; gs != nil && gs.active > 0 {
		gs.active--
	}

	if tenantID != "" {
		if ts := m.tenants[tenantKey(workflow, tenantID)]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// SetConfig dynamically updates (or creates) a workflow gate configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.gates[cfg.Workflow]
	gs := newGateState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		gs.active = existing.active
	}
	m.gates[cfg.Workflow] = gs
}

// ActiveCount returns the current number of active runs for a workflow.
func (m *Manager) ActiveCount(workflow string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gs := m.gates[workflow]; gs != nil {
		return gs.active
	}
	return 0
}
