package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bcorn-cely/Agent-Orchestration/cluster"
	"github.com/bcorn-cely/Agent-Orchestration/cron"
	"github.com/bcorn-cely/Agent-Orchestration/event"
	"github.com/bcorn-cely/Agent-Orchestration/hook"
	"github.com/bcorn-cely/Agent-Orchestration/workflow"
)

// Collection name constants.
const (
	colRuns        = "orch_runs"
	colCheckpoints = "orch_checkpoints"
	colHooks       = "orch_hooks"
	colEvents      = "orch_events"
	colSchedules   = "orch_schedules"
	colWorkers     = "orch_workers"
	colLeader      = "orch_leader"
	colCounters    = "orch_counters"
)

// Compile-time interface checks.
var (
	_ workflow.Store = (*Store)(nil)
	_ hook.Store     = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the orchestration stores backed by MongoDB. The
// caller owns the client lifecycle; Store never closes it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// New creates a new MongoDB-backed store.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database { return s.db }

func (s *Store) col(name string) *mongod.Collection { return s.db.Collection(name) }

// Migrate creates the indexes for all orchestration collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.col(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("orchestration/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op. The caller owns the client lifecycle.
func (s *Store) Close(_ context.Context) error { return nil }

// nextSeq returns the next value of a named counter via an atomic $inc.
func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}

	err := s.col(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("orchestration/mongo: next %s seq: %w", name, err)
	}
	return doc.Value, nil
}

// ── helpers ──

func now() time.Time { return time.Now().UTC() }

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if mongod.IsDuplicateKeyError(err) {
		return true
	}
	return strings.Contains(err.Error(), "E11000")
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colRuns: {
			// List index: status + newest first.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: -1},
			}},
			{Keys: bson.D{{Key: "name", Value: 1}}},
			{Keys: bson.D{{Key: "parent_run_id", Value: 1}}},
			// Retention index for terminal runs.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "completed_at", Value: 1},
			}},
		},
		colCheckpoints: {
			{
				Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "step_name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
		colHooks: {
			// Expiry sweep index.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "expires_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colSchedules: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colWorkers: {
			{Keys: bson.D{{Key: "last_seen", Value: 1}}},
		},
	}
}
