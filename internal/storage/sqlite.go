// Package storage keeps a SQLite catalog of snapshot and prune history next
// to the snapshot files. The files stay authoritative; the catalog only
// records what happened to them.
package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/user/attackdiff/internal/util"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
	mu sync.RWMutex
}

// Open creates or opens the catalog at path and applies the schema.
func Open(path string) (*DB, error) {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create catalog dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxOpenConns(1) // SQLite only supports one writer
	sqlDB.SetMaxIdleConns(1)

	db := &DB{DB: sqlDB}
	if err := db.createTables(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return db, nil
}

func (db *DB) createTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			tag TEXT,
			scanner TEXT,
			asset_count INTEGER DEFAULT 0,
			digest TEXT,
			recorded_at TEXT NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_tag ON snapshots(tag)`,

		`CREATE TABLE IF NOT EXISTS prune_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			mode TEXT NOT NULL,
			tag_filter TEXT,
			keep_last INTEGER,
			keep_days INTEGER,
			dry_run INTEGER DEFAULT 0,
			started_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prune_runs_started_at ON prune_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS prune_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			path TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT,
			deleted INTEGER DEFAULT 0,
			error TEXT,
			FOREIGN KEY (run_id) REFERENCES prune_runs(run_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prune_decisions_run_id ON prune_decisions(run_id)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to execute: %s: %w", table, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// WithLock executes a function with write lock.
func (db *DB) WithLock(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn()
}

// WithRLock executes a function with read lock.
func (db *DB) WithRLock(fn func() error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn()
}
