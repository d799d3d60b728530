package repository

import (
	"context"

	"feedsync/internal/domain/entity"
)

// Outbox is the durable queue of local status changes waiting to be pushed.
type Outbox interface {
	// Enqueue stores changes; a later change for the same (article, key)
	// overwrites an earlier one.
	Enqueue(ctx context.Context, changes []entity.SyncStatus) error
	// SelectBatch atomically marks up to max unselected rows selected and
	// returns them. Concurrent callers never receive the same row.
	SelectBatch(ctx context.Context, max int) ([]entity.SyncStatus, error)
	// MarkSucceeded removes pushed rows.
	MarkSucceeded(ctx context.Context, rows []entity.SyncStatus) error
	// MarkFailed releases rows so a later SelectBatch returns them again.
	MarkFailed(ctx context.Context, rows []entity.SyncStatus) error
	// ResetAllSelected releases every selected row (startup recovery).
	ResetAllSelected(ctx context.Context) error
	PendingCount(ctx context.Context) (int, error)
	// PendingArticleIDs lists article IDs with a pending change for key.
	PendingArticleIDs(ctx context.Context, key entity.StatusKey) ([]string, error)
}
