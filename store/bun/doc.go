// Package bunstore implements the orchestration stores on PostgreSQL
// through the Bun ORM. It is the query-builder sibling of the pgx store:
// the same schema and claim semantics, expressed as Bun models and
// queries, for services that already run Bun.
//
// Usage:
//
//	db := bunstore.Connect("postgres://localhost:5432/orchestration")
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore
