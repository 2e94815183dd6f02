package sqlite

// migrations are applied in slice order and tracked by name in the
// conveyor_migrations table.
var migrations = []struct {
	name string
	stmt string
}{
	{
		name: "001_create_jobs",
		stmt: `
			CREATE TABLE IF NOT EXISTS conveyor_jobs (
				id               TEXT PRIMARY KEY,
				queue            TEXT NOT NULL DEFAULT 'default',
				payload          BLOB,
				idempotency_key  TEXT NOT NULL DEFAULT '',
				state            TEXT NOT NULL DEFAULT 'waiting',
				priority         INTEGER NOT NULL DEFAULT 0,
				max_attempts     INTEGER NOT NULL DEFAULT 3,
				attempts_made    INTEGER NOT NULL DEFAULT 0,
				timeout_streak   INTEGER NOT NULL DEFAULT 0,
				last_error       TEXT,
				return_value     BLOB,
				replay_of        TEXT,
				worker_id        TEXT,
				timeout_ns       INTEGER NOT NULL DEFAULT 0,
				available_at     INTEGER NOT NULL,
				lease_expires_at INTEGER,
				started_at       INTEGER,
				finished_at      INTEGER,
				created_at       INTEGER NOT NULL,
				updated_at       INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_leasable
				ON conveyor_jobs (queue, priority, available_at, created_at)
				WHERE state IN ('waiting', 'delayed');

			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_lease_expiry
				ON conveyor_jobs (lease_expires_at)
				WHERE state = 'active';

			CREATE UNIQUE INDEX IF NOT EXISTS idx_conveyor_jobs_idempotency
				ON conveyor_jobs (queue, idempotency_key)
				WHERE idempotency_key <> '' AND state NOT IN ('dead_lettered', 'failed');

			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_queue_state
				ON conveyor_jobs (queue, state);`,
	},
	{
		name: "002_create_queues",
		stmt: `
			CREATE TABLE IF NOT EXISTS conveyor_queues (
				name       TEXT PRIMARY KEY,
				paused     INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			);`,
	},
	{
		name: "003_create_dlq",
		stmt: `
			CREATE TABLE IF NOT EXISTS conveyor_dlq (
				id              TEXT PRIMARY KEY,
				job_id          TEXT NOT NULL,
				queue           TEXT NOT NULL,
				payload         BLOB,
				idempotency_key TEXT NOT NULL DEFAULT '',
				reason          TEXT NOT NULL DEFAULT '',
				kind            TEXT NOT NULL DEFAULT '',
				attempts_made   INTEGER NOT NULL DEFAULT 0,
				max_attempts    INTEGER NOT NULL DEFAULT 0,
				priority        INTEGER NOT NULL DEFAULT 0,
				timeout_ns      INTEGER NOT NULL DEFAULT 0,
				failed_at       INTEGER NOT NULL,
				replayed_at     INTEGER,
				replayed_as     TEXT,
				created_at      INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_conveyor_dlq_queue_failed_at
				ON conveyor_dlq (queue, failed_at DESC);

			CREATE INDEX IF NOT EXISTS idx_conveyor_dlq_job_id
				ON conveyor_dlq (job_id);`,
	},
}
