package redis

import "github.com/redis/go-redis/v9"

// Server-side Lua for the transitions that must be atomic. Each script is
// one Redis call, so concurrent workers cannot interleave inside a
// transition. Timestamp arguments use the fixed-width text layout, which
// makes Lua string comparison equivalent to time comparison.

// dequeueScript claims up to ARGV[2] available runs for a worker.
//
//	KEYS[1] = claimable sorted set
//	ARGV[1] = now (epoch ms)   ARGV[2] = limit
//	ARGV[3] = worker ID        ARGV[4] = lease expiry (epoch ms)
//	ARGV[5] = now (text)       ARGV[6] = lease expiry (text)
//	ARGV[7] = key prefix
//
// Claimed runs stay in the set scored by their lease expiry, so a lapsed
// lease makes the run claimable again without a separate requeue step.
var dequeueScript = redis.NewScript(`
local claimed = {}
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	local key = ARGV[7] .. 'run:' .. id
	local status = redis.call('HGET', key, 'status')
	if status == 'pending' or status == 'suspended' then
		redis.call('HSET', key, 'worker_id', ARGV[3], 'lease_until', ARGV[6], 'updated_at', ARGV[5])
		redis.call('ZADD', KEYS[1], ARGV[4], id)
		claimed[#claimed + 1] = id
	else
		redis.call('ZREM', KEYS[1], id)
	end
end
return claimed
`)

// extendLeaseScript moves a run's lease forward if the worker still owns
// the claim.
//
//	KEYS[1] = run key  KEYS[2] = claimable sorted set
//	ARGV[1] = worker ID  ARGV[2] = lease expiry (text)
//	ARGV[3] = lease expiry (epoch ms)  ARGV[4] = now (text)  ARGV[5] = run ID
var extendLeaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'worker_id') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'lease_until', ARGV[2], 'updated_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[5])
return 1
`)

// saveCheckpointScript upserts a checkpoint, allocating the per-run Seq
// from a counter on the run hash on first write and keeping it on
// re-saves.
//
//	KEYS[1] = checkpoint key  KEYS[2] = checkpoint index  KEYS[3] = run key
//	ARGV[1] = checkpoint ID  ARGV[2] = run ID  ARGV[3] = step name
//	ARGV[4] = data  ARGV[5] = now (text)
var saveCheckpointScript = redis.NewScript(`
local seq = redis.call('HGET', KEYS[1], 'seq')
if not seq then
	seq = redis.call('HINCRBY', KEYS[3], 'cp_seq', 1)
	redis.call('HSET', KEYS[1], 'id', ARGV[1], 'run_id', ARGV[2], 'step_name', ARGV[3], 'seq', seq)
end
redis.call('HSET', KEYS[1], 'data', ARGV[4], 'created_at', ARGV[5])
redis.call('ZADD', KEYS[2], seq, ARGV[3])
return seq
`)

// resolveHookScript is the pending→resolved compare-and-swap. A pending
// hook past its deadline is marked expired on observation.
//
//	KEYS[1] = hook key  KEYS[2] = pending sorted set
//	ARGV[1] = now (text)  ARGV[2] = payload  ARGV[3] = resolved by  ARGV[4] = token
//
// Returns "ok", "resolved", "expired", "overdue", or "missing".
var resolveHookScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'missing'
end
if state == 'resolved' then
	return 'resolved'
end
if state == 'expired' then
	return 'expired'
end
if redis.call('HGET', KEYS[1], 'expires_at') <= ARGV[1] then
	redis.call('HSET', KEYS[1], 'state', 'expired', 'updated_at', ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[4])
	return 'overdue'
end
redis.call('HSET', KEYS[1], 'state', 'resolved', 'payload', ARGV[2], 'resolved_by', ARGV[3], 'resolved_at', ARGV[1], 'updated_at', ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[4])
return 'ok'
`)

// expireHookScript is the pending→expired compare-and-swap.
//
//	KEYS[1] = hook key  KEYS[2] = pending sorted set
//	ARGV[1] = now (text)  ARGV[2] = token
//
// Returns "ok", "resolved", "expired", or "missing".
var expireHookScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'missing'
end
if state == 'resolved' then
	return 'resolved'
end
if state == 'expired' then
	return 'expired'
end
redis.call('HSET', KEYS[1], 'state', 'expired', 'updated_at', ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return 'ok'
`)

// acquireScheduleLockScript takes the schedule lock when it is free,
// lapsed, or already held by the caller.
//
//	KEYS[1] = schedule key
//	ARGV[1] = worker ID  ARGV[2] = lock expiry (text)  ARGV[3] = now (text)
//
// Returns "ok", "held", or "missing".
var acquireScheduleLockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 'missing'
end
local by = redis.call('HGET', KEYS[1], 'locked_by')
local until_ = redis.call('HGET', KEYS[1], 'locked_until')
if by and by ~= '' and by ~= ARGV[1] and until_ and until_ ~= '' and until_ > ARGV[3] then
	return 'held'
end
redis.call('HSET', KEYS[1], 'locked_by', ARGV[1], 'locked_until', ARGV[2])
return 'ok'
`)

// releaseScheduleLockScript drops the schedule lock if the caller holds
// it. Releasing another worker's lock is a no-op.
//
//	KEYS[1] = schedule key
//	ARGV[1] = worker ID
//
// Returns "ok" or "missing".
var releaseScheduleLockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 'missing'
end
if redis.call('HGET', KEYS[1], 'locked_by') == ARGV[1] then
	redis.call('HSET', KEYS[1], 'locked_by', '', 'locked_until', '')
end
return 'ok'
`)

// renewLeaderScript extends the leader TTL only for the current holder.
//
//	KEYS[1] = leader key
//	ARGV[1] = worker ID  ARGV[2] = ttl (ms)
var renewLeaderScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)
