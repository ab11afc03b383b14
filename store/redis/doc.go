// Package redis implements the orchestration stores on Redis for
// low-latency deployments that already run a Redis fleet.
//
// Entities are stored as Hashes, enumerated through Set and Sorted Set
// indexes. The race boundaries (run claims, hook resolution, checkpoint
// sequencing, schedule locks) run as server-side Lua scripts so each
// transition is a single atomic Redis call. Leadership uses the
// conventional SET NX PX lock with a compare-and-renew script.
//
// Timestamps are stored as fixed-width UTC text so both Lua and Go can
// compare them lexicographically.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
