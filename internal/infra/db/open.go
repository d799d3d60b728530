// Package db provides the per-account storage engine: one SQLite file per
// account, accessed through a serialized queue that can be suspended while
// the process is backgrounded.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// ConnectionConfig holds SQLite connection settings.
type ConnectionConfig struct {
	BusyTimeout time.Duration
	// Synchronous is the PRAGMA synchronous level (NORMAL is safe with WAL).
	Synchronous string
}

// DefaultConnectionConfig returns the default connection configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BusyTimeout: 5 * time.Second,
		Synchronous: "NORMAL",
	}
}

// DSN builds the modernc.org/sqlite data source name for path.
func (c ConnectionConfig) DSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_pragma=synchronous(%s)",
		path, c.BusyTimeout.Milliseconds(), c.Synchronous)
}

// OpenFile opens (creating if needed) the database file at path, limits it to
// one connection and applies the schema.
func OpenFile(ctx context.Context, path string, cfg ConnectionConfig) (*sql.DB, error) {
	database, err := sql.Open(driverName, cfg.DSN(path))
	if err != nil {
		return nil, fmt.Errorf("OpenFile: sql.Open: %w", err)
	}
	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("OpenFile: ping: %w", err)
	}

	if err := MigrateUp(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("OpenFile: migrate: %w", err)
	}

	slog.Debug("database opened", slog.String("path", path))
	return database, nil
}

// Open opens the account database at path and wraps it in a Queue.
func Open(ctx context.Context, path string, cfg ConnectionConfig) (*Queue, error) {
	opener := func(ctx context.Context) (*sql.DB, error) { return OpenFile(ctx, path, cfg) }
	database, err := opener(ctx)
	if err != nil {
		return nil, err
	}
	return NewQueue(database, opener), nil
}
