package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"feedsync/internal/domain/entity"
)

// DBTX is the query surface handed to queue jobs. It is satisfied by both
// *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Opener (re)opens the underlying database, used by Resume.
type Opener func(ctx context.Context) (*sql.DB, error)

const lastVacuumKey = "last_vacuum"

// Queue serializes every access to one account database. Only one job runs
// at a time; a caller waiting for its turn gives up when its context ends.
// While suspended, every call fails immediately with entity.ErrSuspended
// instead of waiting.
type Queue struct {
	exec      *semaphore.Weighted
	db        *sql.DB
	opener    Opener
	suspended atomic.Bool
	now       func() time.Time
}

// NewQueue wraps an open database. opener is used by Resume after Suspend.
func NewQueue(database *sql.DB, opener Opener) *Queue {
	return &Queue{
		exec:   semaphore.NewWeighted(1),
		db:     database,
		opener: opener,
		now:    time.Now,
	}
}

// Execute runs fn with exclusive access to the database.
func (q *Queue) Execute(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	if q.suspended.Load() {
		return entity.ErrSuspended
	}

	if err := q.exec.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.exec.Release(1)

	if q.db == nil || q.suspended.Load() {
		return entity.ErrSuspended
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, q.db)
}

// ExecuteInTransaction runs fn inside a transaction with exclusive access.
// The transaction commits when fn returns nil and rolls back otherwise.
func (q *Queue) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	return q.Execute(ctx, func(ctx context.Context, conn DBTX) error {
		database, ok := conn.(*sql.DB)
		if !ok {
			return fmt.Errorf("ExecuteInTransaction: unexpected connection type %T", conn)
		}

		tx, err := database.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("ExecuteInTransaction: BeginTx: %w", err)
		}

		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("ExecuteInTransaction: Commit: %w", err)
		}
		return nil
	})
}

// Suspend closes the database. A job already running finishes first; every
// later call fails with entity.ErrSuspended until Resume.
func (q *Queue) Suspend() error {
	q.suspended.Store(true)

	q.lock()
	defer q.exec.Release(1)

	if q.db == nil {
		return nil
	}
	err := q.db.Close()
	q.db = nil
	if err != nil {
		return fmt.Errorf("Suspend: close: %w", err)
	}
	slog.Info("storage suspended")
	return nil
}

// Resume reopens the database. Calling it while open is a no-op.
func (q *Queue) Resume(ctx context.Context) error {
	q.lock()
	defer q.exec.Release(1)

	if q.db == nil {
		if q.opener == nil {
			return fmt.Errorf("Resume: no opener configured")
		}
		database, err := q.opener(ctx)
		if err != nil {
			return fmt.Errorf("Resume: %w", err)
		}
		q.db = database
		slog.Info("storage resumed")
	}
	q.suspended.Store(false)
	return nil
}

// lock takes the queue without a deadline, for Suspend and Resume.
func (q *Queue) lock() {
	_ = q.exec.Acquire(context.Background(), 1)
}

// IsSuspended reports whether the queue currently rejects work.
func (q *Queue) IsSuspended() bool {
	return q.suspended.Load()
}

// Close closes the database for good.
func (q *Queue) Close() error {
	return q.Suspend()
}

// VacuumIfNeeded compacts the file when the last vacuum is older than
// minInterval. A database that has never recorded a vacuum only records the
// current time. It reports whether a vacuum ran.
func (q *Queue) VacuumIfNeeded(ctx context.Context, minInterval time.Duration) (bool, error) {
	vacuumed := false
	err := q.Execute(ctx, func(ctx context.Context, tx DBTX) error {
		now := q.now()

		var raw string
		err := tx.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, lastVacuumKey).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return putMetadata(ctx, tx, lastVacuumKey, now.UTC().Format(time.RFC3339))
		case err != nil:
			return fmt.Errorf("VacuumIfNeeded: read last vacuum: %w", err)
		}

		last, err := time.Parse(time.RFC3339, raw)
		if err == nil && now.Sub(last) < minInterval {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `VACUUM`); err != nil {
			return fmt.Errorf("VacuumIfNeeded: VACUUM: %w", err)
		}
		vacuumed = true
		return putMetadata(ctx, tx, lastVacuumKey, now.UTC().Format(time.RFC3339))
	})
	return vacuumed, err
}

func putMetadata(ctx context.Context, tx DBTX, key, value string) error {
	const query = `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("putMetadata %s: %w", key, err)
	}
	return nil
}
