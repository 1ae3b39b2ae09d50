// Package sqlitedb opens the SQLite database backing the sqlite repositories.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the database at path and runs migrations.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer; one connection also makes ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// migrate runs idempotent schema migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		key TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		repository_url TEXT NOT NULL DEFAULT '',
		key_files TEXT NOT NULL DEFAULT '',
		archived INTEGER NOT NULL DEFAULT 0,
		task_counter INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		archived INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		code TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'draft',
		priority TEXT NOT NULL DEFAULT 'medium',
		project_id TEXT NOT NULL REFERENCES projects(id),
		agent_id TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		remote_job_id TEXT NOT NULL DEFAULT '',
		branch_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (project_id, code)
	);

	CREATE TABLE IF NOT EXISTS project_runs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		project_id TEXT NOT NULL REFERENCES projects(id),
		remote_project_id TEXT NOT NULL,
		subtasks TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 1,
		remote_created_at TEXT NOT NULL DEFAULT '',
		remote_updated_at TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS push_subscriptions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		endpoint TEXT NOT NULL UNIQUE,
		p256dh_key TEXT NOT NULL,
		auth_key TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_in_flight ON tasks(state, remote_job_id);
	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id, archived);
	CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_id, archived);
	CREATE INDEX IF NOT EXISTS idx_project_runs_active ON project_runs(active);
	CREATE INDEX IF NOT EXISTS idx_push_subscriptions_owner ON push_subscriptions(owner_id);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// IsUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
