// Package mongo implements the orchestration stores on MongoDB.
//
// Every compare-and-swap boundary maps to a single conditional document
// operation: run claims and hook transitions use FindOneAndUpdate with
// the precondition folded into the filter, and leadership uses the
// upsert-into-held-slot pattern where a duplicate key error means the
// lock is taken. Checkpoint and event sequence numbers come from $inc
// counters, so ordering survives concurrent writers.
//
// Usage:
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("orchestration"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
