package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// FileName is the name of the database file inside the state directory.
const FileName = "harvester.db"

// DB is the SQLite store shared by all jobs.
type DB struct {
	db     *sql.DB
	dbPath string
}

// Options configures Open.
type Options struct {
	// CreateIfNotExists creates the directory and the database file.
	CreateIfNotExists bool

	// EnableWAL enables write-ahead logging.
	EnableWAL bool
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens the database in dir.
func Open(dir string, opts Options) (*DB, error) {
	dbPath := filepath.Join(dir, FileName)

	if opts.CreateIfNotExists {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	} else if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found at %s: %w", dbPath, err)
	}

	mode := "rw"
	if opts.CreateIfNotExists {
		mode = "rwc"
	}
	db, err := sql.Open("sqlite", dbPath+"?mode="+mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d := &DB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := d.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return d, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.dbPath
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS progress (
		job TEXT NOT NULL,
		run_key TEXT NOT NULL,
		item_id TEXT NOT NULL,
		processed_at INTEGER NOT NULL,
		publish_time INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (job, run_key, item_id)
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job TEXT NOT NULL,
		run_key TEXT NOT NULL,
		dedup_key TEXT NOT NULL,
		value TEXT NOT NULL,
		item_id TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		extra TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		UNIQUE (job, run_key, dedup_key)
	);

	CREATE INDEX IF NOT EXISTS idx_results_scope ON results(job, run_key);

	CREATE TABLE IF NOT EXISTS run_states (
		job TEXT NOT NULL,
		run_key TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (job, run_key)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		run_key TEXT NOT NULL,
		status TEXT NOT NULL,
		summary TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_scope ON runs(job, run_key, started_at);
	`
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Scope identifies the progress and results of one run configuration.
type Scope struct {
	// Job is the job name.
	Job string

	// Key is the run key within the job (seed term, input stem).
	Key string
}

// Reset deletes the progress, results and resume cursor of scope.
// Run history is kept.
func (d *DB) Reset(ctx context.Context, scope Scope) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"progress", "results", "run_states"} {
		// Table names come from the fixed list above.
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE job = ? AND run_key = ?", scope.Job, scope.Key); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}
