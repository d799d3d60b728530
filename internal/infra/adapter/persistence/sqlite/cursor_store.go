package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"feedsync/internal/infra/db"
	"feedsync/internal/repository"
)

const cursorKey = "pull_cursor"

// CursorStore keeps the provider pull cursor in the account's metadata table.
type CursorStore struct {
	queue *db.Queue
}

var _ repository.CursorStore = (*CursorStore)(nil)

// NewCursorStore creates a cursor store backed by queue.
func NewCursorStore(queue *db.Queue) *CursorStore {
	return &CursorStore{queue: queue}
}

// Load implements repository.CursorStore.
func (c *CursorStore) Load(ctx context.Context) (string, error) {
	var cursor string
	err := c.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		err := tx.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, cursorKey).Scan(&cursor)
		if errors.Is(err, sql.ErrNoRows) {
			cursor = ""
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("CursorStore.Load: %w", err)
	}
	return cursor, nil
}

// Save implements repository.CursorStore.
func (c *CursorStore) Save(ctx context.Context, cursor string) error {
	err := c.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, cursorKey, cursor)
		return err
	})
	if err != nil {
		return fmt.Errorf("CursorStore.Save: %w", err)
	}
	return nil
}
