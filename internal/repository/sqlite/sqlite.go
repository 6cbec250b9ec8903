// Package sqlite implements the repository interfaces on SQLite through the
// pure-Go modernc.org/sqlite driver.
//
// One *DB serves every store. Use ":memory:" in tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath, applies pragmas and runs migrations.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database exists per connection; pin the pool to one so
	// every query sees the same schema. File databases serialize writers
	// anyway.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id            TEXT PRIMARY KEY,
				email         TEXT NOT NULL UNIQUE,
				display_name  TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL,
				created_at    DATETIME NOT NULL,
				updated_at    DATETIME NOT NULL
			);`},
		// user_id is the primary key: one connection per user.
		{"identity_connections", `
			CREATE TABLE IF NOT EXISTS identity_connections (
				user_id          TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				provider_user_id INTEGER NOT NULL,
				username         TEXT NOT NULL,
				avatar_url       TEXT NOT NULL DEFAULT '',
				scopes           TEXT NOT NULL DEFAULT '',
				sealed_token     BLOB NOT NULL,
				connected_at     DATETIME NOT NULL,
				updated_at       DATETIME NOT NULL
			);`},
		{"oauth_states", `
			CREATE TABLE IF NOT EXISTS oauth_states (
				state       TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				expires_at  DATETIME NOT NULL,
				consumed_at DATETIME,
				created_at  DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_oauth_states_expires_at ON oauth_states(expires_at);`},
		{"projects", `
			CREATE TABLE IF NOT EXISTS projects (
				id               TEXT PRIMARY KEY,
				user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				name             TEXT NOT NULL,
				project_source   TEXT NOT NULL CHECK (project_source IN ('remote', 'uploaded')),
				repo_owner       TEXT,
				repo_name        TEXT,
				repo_url         TEXT,
				default_branch   TEXT,
				upload_metadata  TEXT,
				last_analysis_id TEXT,
				created_at       DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects(user_id);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_remote_unique
				ON projects(user_id, repo_owner, repo_name)
				WHERE project_source = 'remote';`},
		{"project_files", `
			CREATE TABLE IF NOT EXISTS project_files (
				id         TEXT PRIMARY KEY,
				project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				path       TEXT NOT NULL,
				size       INTEGER NOT NULL,
				blob_hash  TEXT NOT NULL,
				UNIQUE (project_id, path)
			);`},
		{"analyses", `
			CREATE TABLE IF NOT EXISTS analyses (
				id                 TEXT PRIMARY KEY,
				project_id         TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				seq                INTEGER NOT NULL,
				status             TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				structure_score    REAL,
				quality_score      REAL,
				security_score     REAL,
				dependencies_score REAL,
				overall_score      REAL,
				failure_reason     TEXT NOT NULL DEFAULT '',
				created_at         DATETIME NOT NULL,
				started_at         DATETIME,
				completed_at       DATETIME,
				UNIQUE (project_id, seq)
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_analyses_in_flight
				ON analyses(project_id) WHERE status IN ('pending', 'running');`},
		{"issues", `
			CREATE TABLE IF NOT EXISTS issues (
				id             TEXT PRIMARY KEY,
				analysis_id    TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
				category       TEXT NOT NULL,
				severity       TEXT NOT NULL,
				tool           TEXT NOT NULL DEFAULT '',
				rule_id        TEXT NOT NULL DEFAULT '',
				title          TEXT NOT NULL,
				description    TEXT NOT NULL DEFAULT '',
				file_path      TEXT NOT NULL DEFAULT '',
				line_number    INTEGER CHECK (line_number IS NULL OR line_number > 0),
				start_line     INTEGER,
				end_line       INTEGER,
				start_column   INTEGER,
				end_column     INTEGER,
				confidence     TEXT NOT NULL DEFAULT '',
				fix_suggestion TEXT NOT NULL DEFAULT '',
				more_info_url  TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_issues_analysis_id ON issues(analysis_id);`},
	}

	for _, step := range steps {
		if _, err := db.conn.Exec(step.sql); err != nil {
			return fmt.Errorf("creating %s: %w", step.name, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// withTx runs fn inside a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
