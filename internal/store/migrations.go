package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
	id                 TEXT PRIMARY KEY,
	provider_thread_id TEXT NOT NULL UNIQUE,
	subject            TEXT NOT NULL DEFAULT '',
	snippet            TEXT NOT NULL DEFAULT '',
	participants       TEXT NOT NULL DEFAULT '[]',
	message_count      INTEGER NOT NULL DEFAULT 0,
	last_message_at    DATETIME,
	account_id         TEXT,
	is_matched         INTEGER NOT NULL DEFAULT 0 CHECK(is_matched IN (0, 1)),
	matched_by         TEXT NOT NULL DEFAULT '',
	matched_at         DATETIME,
	confidence         REAL NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	provider_message_id TEXT NOT NULL UNIQUE,
	thread_id           TEXT NOT NULL REFERENCES threads(id),
	from_addr           TEXT NOT NULL DEFAULT '',
	to_addrs            TEXT NOT NULL DEFAULT '[]',
	subject             TEXT NOT NULL DEFAULT '',
	body                TEXT NOT NULL DEFAULT '',
	direction           TEXT NOT NULL DEFAULT 'inbound' CHECK(direction IN ('inbound', 'outbound')),
	sent_at             DATETIME,
	created_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id                TEXT PRIMARY KEY,
	started_at        DATETIME NOT NULL,
	finished_at       DATETIME,
	status            TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'completed', 'failed')),
	total_threads     INTEGER NOT NULL DEFAULT 0,
	new_threads       INTEGER NOT NULL DEFAULT 0,
	updated_threads   INTEGER NOT NULL DEFAULT 0,
	matched_threads   INTEGER NOT NULL DEFAULT 0,
	unmatched_threads INTEGER NOT NULL DEFAULT 0,
	error_count       INTEGER NOT NULL DEFAULT 0,
	error_log         TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS accounts (
	id     TEXT PRIMARY KEY,
	name   TEXT NOT NULL DEFAULT '',
	email  TEXT NOT NULL UNIQUE,
	domain TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_threads_is_matched ON threads(is_matched);
CREATE INDEX IF NOT EXISTS idx_threads_account_id ON threads(account_id);
CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_status ON ingest_runs(status);
CREATE INDEX IF NOT EXISTS idx_accounts_domain ON accounts(domain);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_threads_last_message_at
	ON threads(last_message_at);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at
	ON ingest_runs(started_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
