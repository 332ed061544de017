// Package catalog provides the SQLite-backed app catalog store and the sync
// run log, with optional FTS5 full-text search.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS categories (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	parent_id TEXT REFERENCES categories(id)
);

CREATE TABLE IF NOT EXISTS developers (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL DEFAULT '',
	verified INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS apps (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	version      TEXT NOT NULL DEFAULT '',
	category_id  TEXT REFERENCES categories(id),
	developer_id TEXT REFERENCES developers(id),
	tags         TEXT NOT NULL DEFAULT '[]',
	screenshots  TEXT NOT NULL DEFAULT '[]',
	price        REAL NOT NULL DEFAULT 0,
	vendor       TEXT NOT NULL DEFAULT '',
	file_size    INTEGER NOT NULL DEFAULT 0,
	unsupported  INTEGER NOT NULL DEFAULT 0,
	released_at  DATETIME,
	scanned_at   DATETIME,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS app_bundle_ids (
	bundle_id TEXT PRIMARY KEY,
	app_id    INTEGER NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_app_bundle_ids_app ON app_bundle_ids(app_id, position);
CREATE INDEX IF NOT EXISTS idx_apps_category ON apps(category_id);

CREATE TABLE IF NOT EXISTS sync_runs (
	id            TEXT PRIMARY KEY,
	trigger_type  TEXT NOT NULL DEFAULT 'manual',
	status        TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME,
	added         INTEGER NOT NULL DEFAULT 0,
	updated       INTEGER NOT NULL DEFAULT 0,
	unchanged     INTEGER NOT NULL DEFAULT 0,
	removed       INTEGER NOT NULL DEFAULT 0,
	errors        INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	source_digest TEXT NOT NULL DEFAULT ''
);

-- At most one run may be in flight per catalog.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_runs_single_running
	ON sync_runs(status) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
`

// DB wraps a sql.DB with catalog-specific operations.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply fts schema: %w", err)
	}
	return New(conn), nil
}

// New wraps an already-initialised connection. The schema is not applied.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source used for created/updated timestamps.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
