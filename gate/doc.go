// Package gate enforces per-workflow and per-tenant admission limits on
// the worker pool.
//
// Every workflow name can carry a concurrency cap and a token-bucket rate
// limit; tenants (scope org IDs) can carry their own caps on top. The pool
// consults the gate after claiming a run and before executing it: a denied
// run is released back to pending and retried on a later poll, so limits
// shape execution without losing work.
//
// # Per-Workflow Configuration
//
// Use [Config] to set per-workflow rate limits and concurrency caps:
//
//	gate.Config{
//	    Workflow:      "org-validation",
//	    MaxConcurrent: 5,   // max 5 concurrent org-validation runs
//	    RateLimit:     10,  // max 10 run admissions/s
//	    RateBurst:     20,  // allow bursts up to 20
//	}
//
// Pass configs when building the engine:
//
//	engine.New(cfg,
//	    engine.WithGates(
//	        gate.Config{Workflow: "org-validation", MaxConcurrent: 20},
//	        gate.Config{Workflow: "bulk-sync", RateLimit: 5, RateBurst: 10},
//	    ),
//	)
//
// # Manager
//
// [Manager] enforces the limits at admission time. It uses a token-bucket
// rate limiter (golang.org/x/time/rate) and an active-count gate for
// concurrency limits.
//
//	m := gate.NewManager(configs...)
//	if m.Acquire(workflowName, tenantID) {
//	    defer m.Release(workflowName, tenantID)
//	    // execute the run
//	}
//
// Workflows without a [Config] have no limits beyond the pool-wide
// concurrency.
package gate
