package postgres

// migration is one ordered schema change. Applied migrations are
// recorded in orch_migrations by name and never re-run.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_runs",
		sql: `
			CREATE TABLE IF NOT EXISTS orch_runs (
				id            TEXT PRIMARY KEY,
				name          TEXT NOT NULL,
				version       INTEGER NOT NULL DEFAULT 0,
				status        TEXT NOT NULL,
				input         BYTEA,
				output        BYTEA,
				error         TEXT NOT NULL DEFAULT '',
				parent_run_id TEXT,
				scope_app_id  TEXT NOT NULL DEFAULT '',
				scope_org_id  TEXT NOT NULL DEFAULT '',
				worker_id     TEXT,
				lease_until   TIMESTAMPTZ,
				await_token   TEXT NOT NULL DEFAULT '',
				wake_at       TIMESTAMPTZ,
				started_at    TIMESTAMPTZ,
				completed_at  TIMESTAMPTZ,
				created_at    TIMESTAMPTZ NOT NULL,
				updated_at    TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS orch_runs_status_created ON orch_runs (status, created_at, id);
			CREATE INDEX IF NOT EXISTS orch_runs_name ON orch_runs (name);
			CREATE INDEX IF NOT EXISTS orch_runs_parent ON orch_runs (parent_run_id) WHERE parent_run_id IS NOT NULL;
			CREATE INDEX IF NOT EXISTS orch_runs_completed ON orch_runs (completed_at) WHERE completed_at IS NOT NULL;
		`,
	},
	{
		name: "002_checkpoints",
		sql: `
			CREATE TABLE IF NOT EXISTS orch_checkpoints (
				id         TEXT PRIMARY KEY,
				run_id     TEXT NOT NULL REFERENCES orch_runs (id) ON DELETE CASCADE,
				step_name  TEXT NOT NULL,
				seq        INTEGER NOT NULL,
				data       BYTEA,
				created_at TIMESTAMPTZ NOT NULL,
				UNIQUE (run_id, step_name)
			);
			CREATE INDEX IF NOT EXISTS orch_checkpoints_run_seq ON orch_checkpoints (run_id, seq);
		`,
	},
	{
		name: "003_hooks",
		sql: `
			CREATE TABLE IF NOT EXISTS orch_hooks (
				id          TEXT PRIMARY KEY,
				run_id      TEXT NOT NULL,
				name        TEXT NOT NULL,
				kind        TEXT NOT NULL,
				state       TEXT NOT NULL,
				schema      JSONB,
				payload     BYTEA,
				resolved_by TEXT NOT NULL DEFAULT '',
				expires_at  TIMESTAMPTZ NOT NULL,
				resolved_at TIMESTAMPTZ,
				created_at  TIMESTAMPTZ NOT NULL,
				updated_at  TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS orch_hooks_run ON orch_hooks (run_id, created_at, id);
			CREATE INDEX IF NOT EXISTS orch_hooks_pending_expiry ON orch_hooks (expires_at) WHERE state = 'pending';
			CREATE INDEX IF NOT EXISTS orch_hooks_terminal_updated ON orch_hooks (updated_at) WHERE state <> 'pending';
		`,
	},
	{
		name: "004_events",
		sql: `
			CREATE TABLE IF NOT EXISTS orch_events (
				seq          BIGSERIAL PRIMARY KEY,
				id           TEXT NOT NULL UNIQUE,
				run_id       TEXT NOT NULL,
				type         TEXT NOT NULL,
				step_name    TEXT NOT NULL DEFAULT '',
				hook_token   TEXT NOT NULL DEFAULT '',
				payload      BYTEA,
				scope_app_id TEXT NOT NULL DEFAULT '',
				scope_org_id TEXT NOT NULL DEFAULT '',
				created_at   TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS orch_events_run ON orch_events (run_id, seq);
			CREATE INDEX IF NOT EXISTS orch_events_created ON orch_events (created_at);
		`,
	},
	{
		name: "005_schedules",
		sql: `
			CREATE TABLE IF NOT EXISTS orch_schedules (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL UNIQUE,
				expr         TEXT NOT NULL,
				workflow     TEXT NOT NULL,
				input        BYTEA,
				scope_app_id TEXT NOT NULL DEFAULT '',
				scope_org_id TEXT NOT NULL DEFAULT '',
				last_run_at  TIMESTAMPTZ,
				next_run_at  TIMESTAMPTZ,
				locked_by    TEXT NOT NULL DEFAULT '',
				locked_until TIMESTAMPTZ,
				enabled      BOOLEAN NOT NULL DEFAULT TRUE,
				created_at   TIMESTAMPTZ NOT NULL,
				updated_at   TIMESTAMPTZ NOT NULL
			);
		`,
	},
	{
		name: "006_workers",
		sql: `
			CREATE TABLE IF NOT EXISTS orch_workers (
				id          TEXT PRIMARY KEY,
				hostname    TEXT NOT NULL,
				workflows   TEXT[] NOT NULL DEFAULT '{}',
				concurrency INTEGER NOT NULL DEFAULT 0,
				state       TEXT NOT NULL,
				metadata    JSONB,
				last_seen   TIMESTAMPTZ NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS orch_workers_last_seen ON orch_workers (last_seen);
		`,
	},
	{
		name: "007_leader",
		sql: `
			CREATE TABLE IF NOT EXISTS orch_leader (
				id        INTEGER PRIMARY KEY CHECK (id = 1),
				worker_id TEXT NOT NULL,
				until     TIMESTAMPTZ NOT NULL
			);
		`,
	},
}
