// Package sqlite provides embedded SQLite repository implementations for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a SQLite database handle.
type DB struct {
	conn   *sql.DB
	logger *zap.Logger
}

// NewDB opens the database at path and applies the schema.
func NewDB(path string, logger *zap.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows a single writer.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn, logger: logger}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Info("Opened SQLite database", zap.String("path", path))
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hosts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		cpu_usage REAL NOT NULL,
		ram_usage REAL NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hosts_status ON hosts(status);

	CREATE TABLE IF NOT EXISTS allocations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		vm_id TEXT NOT NULL UNIQUE,
		host_id TEXT NOT NULL,
		policy TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_host_id ON allocations(host_id);

	CREATE TABLE IF NOT EXISTS placement_cursors (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Health checks if the database is usable.
func (db *DB) Health(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Timestamps are stored as Unix nanoseconds.
func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n) }
