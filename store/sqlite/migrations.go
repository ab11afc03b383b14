package sqlite

// migration is one ordered schema change. SQLite's driver executes one
// statement per call, so each migration carries its statements as a list.
type migration struct {
	name       string
	statements []string
}

var migrations = []migration{
	{
		name: "001_runs",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS orch_runs (
				id            TEXT PRIMARY KEY,
				name          TEXT NOT NULL,
				version       INTEGER NOT NULL DEFAULT 0,
				status        TEXT NOT NULL,
				input         BLOB,
				output        BLOB,
				error         TEXT NOT NULL DEFAULT '',
				parent_run_id TEXT,
				scope_app_id  TEXT NOT NULL DEFAULT '',
				scope_org_id  TEXT NOT NULL DEFAULT '',
				worker_id     TEXT,
				lease_until   TEXT,
				await_token   TEXT NOT NULL DEFAULT '',
				wake_at       TEXT,
				started_at    TEXT,
				completed_at  TEXT,
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS orch_runs_status_created ON orch_runs (status, created_at, id)`,
			`CREATE INDEX IF NOT EXISTS orch_runs_name ON orch_runs (name)`,
			`CREATE INDEX IF NOT EXISTS orch_runs_parent ON orch_runs (parent_run_id)`,
		},
	},
	{
		name: "002_checkpoints",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS orch_checkpoints (
				id         TEXT PRIMARY KEY,
				run_id     TEXT NOT NULL REFERENCES orch_runs (id) ON DELETE CASCADE,
				step_name  TEXT NOT NULL,
				seq        INTEGER NOT NULL,
				data       BLOB,
				created_at TEXT NOT NULL,
				UNIQUE (run_id, step_name)
			)`,
			`CREATE INDEX IF NOT EXISTS orch_checkpoints_run_seq ON orch_checkpoints (run_id, seq)`,
		},
	},
	{
		name: "003_hooks",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS orch_hooks (
				id          TEXT PRIMARY KEY,
				run_id      TEXT NOT NULL,
				name        TEXT NOT NULL,
				kind        TEXT NOT NULL,
				state       TEXT NOT NULL,
				schema      TEXT,
				payload     BLOB,
				resolved_by TEXT NOT NULL DEFAULT '',
				expires_at  TEXT NOT NULL,
				resolved_at TEXT,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS orch_hooks_run ON orch_hooks (run_id, created_at, id)`,
			`CREATE INDEX IF NOT EXISTS orch_hooks_state ON orch_hooks (state, expires_at)`,
		},
	},
	{
		name: "004_events",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS orch_events (
				seq          INTEGER PRIMARY KEY AUTOINCREMENT,
				id           TEXT NOT NULL UNIQUE,
				run_id       TEXT NOT NULL,
				type         TEXT NOT NULL,
				step_name    TEXT NOT NULL DEFAULT '',
				hook_token   TEXT NOT NULL DEFAULT '',
				payload      BLOB,
				scope_app_id TEXT NOT NULL DEFAULT '',
				scope_org_id TEXT NOT NULL DEFAULT '',
				created_at   TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS orch_events_run ON orch_events (run_id, seq)`,
			`CREATE INDEX IF NOT EXISTS orch_events_created ON orch_events (created_at)`,
		},
	},
	{
		name: "005_schedules",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS orch_schedules (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL UNIQUE,
				expr         TEXT NOT NULL,
				workflow     TEXT NOT NULL,
				input        BLOB,
				scope_app_id TEXT NOT NULL DEFAULT '',
				scope_org_id TEXT NOT NULL DEFAULT '',
				last_run_at  TEXT,
				next_run_at  TEXT,
				locked_by    TEXT NOT NULL DEFAULT '',
				locked_until TEXT,
				enabled      INTEGER NOT NULL DEFAULT 1,
				created_at   TEXT NOT NULL,
				updated_at   TEXT NOT NULL
			)`,
		},
	},
	{
		name: "006_workers",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS orch_workers (
				id          TEXT PRIMARY KEY,
				hostname    TEXT NOT NULL,
				workflows   TEXT NOT NULL DEFAULT '[]',
				concurrency INTEGER NOT NULL DEFAULT 0,
				state       TEXT NOT NULL,
				metadata    TEXT,
				last_seen   TEXT NOT NULL,
				created_at  TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS orch_workers_last_seen ON orch_workers (last_seen)`,
		},
	},
	{
		name: "007_leader",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS orch_leader (
				id        INTEGER PRIMARY KEY CHECK (id = 1),
				worker_id TEXT NOT NULL,
				until     TEXT NOT NULL
			)`,
		},
	},
}
