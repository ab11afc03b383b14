package gate

import (
	"fmt"

	"golang.org/x/time/rate"
)

// TenantConfig defines rate limits and concurrency for a specific tenant
// on a specific workflow, identified by the run's ScopeOrgID.
type TenantConfig struct {
	// Workflow is the workflow name this config applies to.
	Workflow string

	// TenantID is the tenant identifier (typically run.ScopeOrgID).
	TenantID string

	// RateLimit is the sustained run admissions per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrent limits simultaneous runs for this tenant on this
	// workflow. Zero means no tenant-specific concurrency limit.
	MaxConcurrent int
}

// tenantState tracks runtime state for a single workflow+tenant pair.
type tenantState struct {
	limiter       *rate.Limiter
	maxConcurrent int
	active        int
}

// tenantKey builds the map key for a workflow+tenant pair.
func tenantKey(workflow, tenantID string) string {
	return fmt.Sprintf("%s:%s", workflow, tenantID)
}

// SetTenantConfig configures rate limits and concurrency for a specific
// tenant on a specific workflow. Calling this multiple times for the same
// workflow+tenant replaces the previous configuration.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(cfg.Workflow, cfg.TenantID)
	existing := m.tenants[key]

	ts := &tenantState{
		maxConcurrent: cfg.MaxConcurrent,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.tenants[key] = ts
}

// TenantActiveCount returns the current number of active runs for a
// workflow+tenant pair.
func (m *Manager) TenantActiveCount(workflow, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantKey(workflow, tenantID)]; ts != nil {
		return ts.active
	}
	return 0
}
