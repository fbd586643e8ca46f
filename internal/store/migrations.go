package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order. The database's user_version records how
// many have run, so each step executes exactly once. Append new steps; never
// edit an applied one.
var migrations = [][]string{
	// 1: task journal.
	{
		`CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			priority     TEXT NOT NULL DEFAULT 'normal',
			resource_key TEXT NOT NULL,
			query        TEXT NOT NULL,
			mode         TEXT NOT NULL DEFAULT '',
			metadata     TEXT NOT NULL DEFAULT '{}',
			result       TEXT NOT NULL DEFAULT 'null',
			error        TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			started_at   TEXT,
			completed_at TEXT,
			updated_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,
	},
	// 2: per-transition events and model lookups.
	{
		`CREATE TABLE IF NOT EXISTS task_events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_task_id ON task_events(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_resource_key ON tasks(resource_key)`,
	},
}

// migrate brings the schema up to date.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if err := applyMigration(ctx, db, i+1, migrations[i]); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("migration %d: set version: %w", version, err)
	}
	return tx.Commit()
}
