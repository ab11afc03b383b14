// Package cluster provides distributed worker coordination, consensus-based
// leader election, and worker registration.
//
// When running multiple orchestrator instances, the cluster package
// coordinates which instance is the leader (responsible for schedule firing
// and stale-run recovery) and which are followers.
//
// # Worker Entity
//
// Each running orchestrator instance registers itself as a [Worker] with:
//   - a unique [id.WorkerID]
//   - its hostname
//   - the list of workflow definitions it can execute
//   - its concurrency limit
//   - a state: [WorkerActive], [WorkerDraining], or [WorkerDead]
//
// Workers send periodic heartbeats. If a heartbeat is not received within
// the configured threshold, the worker is considered dead and its claimed
// runs are eligible for reassignment once their leases lapse.
//
// # Leader Election
//
// One worker at a time holds leadership. The leader:
//   - fires schedules
//   - reclaims stale runs from dead workers
//   - sweeps retention cutoffs
//
// Leadership is managed by [Store.AcquireLeadership] using optimistic locking.
// If leadership is lost mid-operation, [orchestration.ErrLeadershipLost] is
// returned.
//
// # Kubernetes Consensus
//
// For K8s deployments use the cluster/k8s sub-package which implements the
// Store against Pod annotations and the coordination/v1 Lease API.
package cluster
