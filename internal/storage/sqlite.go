package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the SQLite activity store.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// Enable foreign keys.
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
//
// agents, posts, artifacts, follows and security_findings are written by the
// collectors and the content scanner; the engine only reads them. Everything
// below identity_links is owned exclusively by the engine and written as
// idempotent upserts, which is what makes concurrent component runs safe
// without cross-component locking.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    platform TEXT NOT NULL,
    external_id TEXT NOT NULL,
    display_name TEXT NOT NULL,
    handle TEXT,
    bio TEXT,
    karma INTEGER DEFAULT 0,
    follower_count INTEGER DEFAULT 0,
    first_seen INTEGER NOT NULL,
    last_seen INTEGER NOT NULL,
    metadata TEXT,
    UNIQUE(platform, external_id)
);

CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    platform TEXT NOT NULL,
    external_id TEXT NOT NULL,
    author_id TEXT NOT NULL,
    community TEXT,
    upvotes INTEGER DEFAULT 0,
    downvotes INTEGER DEFAULT 0,
    reply_count INTEGER DEFAULT 0,
    content TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (author_id) REFERENCES agents(id)
);

CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    external_id TEXT NOT NULL UNIQUE,
    author_id TEXT NOT NULL,
    name TEXT NOT NULL,
    version TEXT,
    download_count INTEGER DEFAULT 0,
    tags TEXT,
    verified INTEGER DEFAULT 0,
    security_score REAL DEFAULT 0,
    source_url TEXT,
    created_at INTEGER NOT NULL,
    last_updated_at INTEGER NOT NULL,
    FOREIGN KEY (author_id) REFERENCES agents(id)
);

CREATE TABLE IF NOT EXISTS follows (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    relationship TEXT NOT NULL,
    PRIMARY KEY (source_id, target_id)
);

CREATE TABLE IF NOT EXISTS security_findings (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    description TEXT,
    agent_id TEXT,
    artifact_id TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS identity_links (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    link_type TEXT NOT NULL,
    confidence REAL NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (source_id, target_id, link_type)
);

CREATE TABLE IF NOT EXISTS unified_profiles (
    member_id TEXT PRIMARY KEY,
    canonical_id TEXT NOT NULL,
    profile_type TEXT NOT NULL,
    member_count INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reputation_scores (
    agent_id TEXT NOT NULL,
    category TEXT NOT NULL,
    score REAL NOT NULL,
    factors TEXT,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (agent_id, category)
);

CREATE TABLE IF NOT EXISTS threat_signals (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    subtype TEXT,
    agent_id TEXT,
    artifact_id TEXT,
    risk REAL NOT NULL,
    boost REAL NOT NULL,
    severity TEXT NOT NULL,
    description TEXT,
    evidence TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    snapshot_type TEXT NOT NULL,
    data TEXT NOT NULL,
    checksum TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_log (
    id TEXT PRIMARY KEY,
    component TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    status TEXT NOT NULL,
    detail TEXT
);

CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at);
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_author ON artifacts(author_id);
CREATE INDEX IF NOT EXISTS idx_findings_created ON security_findings(created_at);
CREATE INDEX IF NOT EXISTS idx_findings_agent ON security_findings(agent_id);
CREATE INDEX IF NOT EXISTS idx_links_source ON identity_links(source_id);
CREATE INDEX IF NOT EXISTS idx_signals_agent ON threat_signals(agent_id);
CREATE INDEX IF NOT EXISTS idx_signals_created ON threat_signals(created_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_type ON snapshots(snapshot_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_log_component ON run_log(component, started_at DESC);`
	_, err := d.db.Exec(schema)
	return err
}

// boolToInt converts a bool to an integer (0 or 1) for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
