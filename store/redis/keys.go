package redis

// Redis key naming conventions for orchestration data.
// All keys are prefixed with "orch:" to avoid collisions.

const keyPrefix = "orch:"

// ── Run keys ──

// runKey returns the key for a run entity: orch:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Set tracking all run IDs for enumeration.
const runIDsKey = keyPrefix + "run_ids"

// claimableKey is the Sorted Set of claimable run IDs, scored by the
// epoch-millisecond instant each run (re)becomes available: CreatedAt for
// pending runs, WakeAt for suspended runs, LeaseUntil once claimed.
const claimableKey = keyPrefix + "runs_claimable"

// checkpointKey returns the key for a checkpoint: orch:checkpoint:{runID}:{step}
func checkpointKey(runID, step string) string {
	return keyPrefix + "checkpoint:" + runID + ":" + step
}

// checkpointIndexKey returns the Sorted Set tracking a run's checkpoint
// step names, scored by Seq.
func checkpointIndexKey(runID string) string {
	return keyPrefix + "checkpoint_idx:" + runID
}

// ── Hook keys ──

// hookKey returns the key for a hook entity: orch:hook:{token}
func hookKey(token string) string { return keyPrefix + "hook:" + token }

// hookIDsKey is the Set tracking all hook tokens for enumeration.
const hookIDsKey = keyPrefix + "hook_ids"

// hooksPendingKey is the Sorted Set of pending hook tokens scored by
// their expiry in epoch milliseconds. Expiry sweeps read it instead of
// scanning every hook.
const hooksPendingKey = keyPrefix + "hooks_pending"

// runHooksKey returns the List of hook tokens for a run, in creation order.
func runHooksKey(runID string) string { return keyPrefix + "run_hooks:" + runID }

// ── Event keys ──

// eventKey returns the key for an event entity: orch:event:{id}
func eventKey(id string) string { return keyPrefix + "event:" + id }

// eventIDsKey is the Set tracking all event IDs for enumeration.
const eventIDsKey = keyPrefix + "event_ids"

// runEventsKey returns the List of event IDs for a run, in append order.
func runEventsKey(runID string) string { return keyPrefix + "run_events:" + runID }

// ── Schedule keys ──

// scheduleKey returns the key for a schedule entity: orch:schedule:{id}
func scheduleKey(id string) string { return keyPrefix + "schedule:" + id }

// scheduleIDsKey is the Set tracking all schedule IDs for enumeration.
const scheduleIDsKey = keyPrefix + "schedule_ids"

// scheduleNamesKey maps schedule names to IDs for duplicate detection.
const scheduleNamesKey = keyPrefix + "schedule_names"

// ── Cluster keys ──

// workerKey returns the key for a worker entity: orch:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID with a TTL.
const leaderKey = keyPrefix + "leader"
