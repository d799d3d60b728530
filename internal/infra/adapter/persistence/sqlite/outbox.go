package sqlite

import (
	"context"
	"fmt"
	"time"

	"feedsync/internal/domain/entity"
	"feedsync/internal/infra/db"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/repository"
)

// Outbox implements repository.Outbox on the account database.
type Outbox struct {
	queue *db.Queue
	now   func() time.Time
}

var _ repository.Outbox = (*Outbox)(nil)

// NewOutbox creates an outbox backed by queue.
func NewOutbox(queue *db.Queue) *Outbox {
	return &Outbox{queue: queue, now: time.Now}
}

// Enqueue implements repository.Outbox. A row that is currently selected
// keeps its selection; it only becomes eligible again once the in-flight
// push is acknowledged, and MarkSucceeded leaves it in place because its
// flag no longer matches what was pushed.
func (o *Outbox) Enqueue(ctx context.Context, changes []entity.SyncStatus) error {
	if len(changes) == 0 {
		return nil
	}

	const upsert = `
INSERT INTO outbox (article_id, key, flag, selected)
VALUES (?, ?, ?, 0)
ON CONFLICT(article_id, key) DO UPDATE SET flag = excluded.flag`

	start := time.Now()
	err := o.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		ids := make([]string, len(changes))
		for i, c := range changes {
			ids[i] = c.ArticleID
		}
		if _, err := ensureStatuses(ctx, tx, uniqueStrings(ids), false, o.now()); err != nil {
			return err
		}

		for _, c := range changes {
			if _, err := tx.ExecContext(ctx, upsert, c.ArticleID, string(c.Key), boolToInt(c.Flag)); err != nil {
				return fmt.Errorf("ExecContext: %w", err)
			}
		}
		return nil
	})
	metrics.RecordDBOperation("outbox_enqueue", time.Since(start))
	if err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	return nil
}

// SelectBatch implements repository.Outbox. Rows come back in the order
// they were first enqueued.
func (o *Outbox) SelectBatch(ctx context.Context, max int) ([]entity.SyncStatus, error) {
	if max <= 0 {
		return nil, nil
	}

	var batch []entity.SyncStatus
	err := o.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		batch = nil

		rows, err := tx.QueryContext(ctx, `
SELECT article_id, key, flag FROM outbox
WHERE selected = 0
ORDER BY rowid
LIMIT ?`, max)
		if err != nil {
			return fmt.Errorf("QueryContext: %w", err)
		}
		for rows.Next() {
			var s entity.SyncStatus
			var key string
			if err := rows.Scan(&s.ArticleID, &key, &s.Flag); err != nil {
				_ = rows.Close()
				return fmt.Errorf("Scan: %w", err)
			}
			if s.Key, err = entity.ParseStatusKey(key); err != nil {
				_ = rows.Close()
				return err
			}
			s.Selected = true
			batch = append(batch, s)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return fmt.Errorf("rows.Err: %w", err)
		}

		for _, s := range batch {
			if _, err := tx.ExecContext(ctx,
				`UPDATE outbox SET selected = 1 WHERE article_id = ? AND key = ?`,
				s.ArticleID, string(s.Key)); err != nil {
				return fmt.Errorf("ExecContext: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SelectBatch: %w", err)
	}
	return batch, nil
}

// MarkSucceeded implements repository.Outbox. Only rows still holding the
// pushed flag are deleted; rows changed in the meantime are released.
func (o *Outbox) MarkSucceeded(ctx context.Context, rows []entity.SyncStatus) error {
	if len(rows) == 0 {
		return nil
	}
	err := o.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		for _, s := range rows {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM outbox WHERE article_id = ? AND key = ? AND flag = ?`,
				s.ArticleID, string(s.Key), boolToInt(s.Flag)); err != nil {
				return fmt.Errorf("ExecContext: %w", err)
			}
			if err := release(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("MarkSucceeded: %w", err)
	}
	return nil
}

// MarkFailed implements repository.Outbox.
func (o *Outbox) MarkFailed(ctx context.Context, rows []entity.SyncStatus) error {
	if len(rows) == 0 {
		return nil
	}
	err := o.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		for _, s := range rows {
			if err := release(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("MarkFailed: %w", err)
	}
	return nil
}

func release(ctx context.Context, tx db.DBTX, s entity.SyncStatus) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET selected = 0 WHERE article_id = ? AND key = ?`,
		s.ArticleID, string(s.Key)); err != nil {
		return fmt.Errorf("release: ExecContext: %w", err)
	}
	return nil
}

// ResetAllSelected implements repository.Outbox.
func (o *Outbox) ResetAllSelected(ctx context.Context) error {
	err := o.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		_, err := tx.ExecContext(ctx, `UPDATE outbox SET selected = 0 WHERE selected = 1`)
		return err
	})
	if err != nil {
		return fmt.Errorf("ResetAllSelected: %w", err)
	}
	return nil
}

// PendingCount implements repository.Outbox.
func (o *Outbox) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := o.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("PendingCount: %w", err)
	}
	return n, nil
}

// PendingArticleIDs implements repository.Outbox.
func (o *Outbox) PendingArticleIDs(ctx context.Context, key entity.StatusKey) ([]string, error) {
	var ids []string
	err := o.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		var err error
		ids, err = queryStrings(ctx, tx, `SELECT article_id FROM outbox WHERE key = ?`, string(key))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("PendingArticleIDs: %w", err)
	}
	return ids, nil
}
