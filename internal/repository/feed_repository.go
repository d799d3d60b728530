package repository

import (
	"context"

	"feedsync/internal/domain/entity"
)

// FeedStore persists the account's subscriptions and folders.
type FeedStore interface {
	List(ctx context.Context) ([]*entity.Feed, error)
	Get(ctx context.Context, id string) (*entity.Feed, error)
	// Replace makes feeds the complete subscription set, dropping the rest.
	Replace(ctx context.Context, feeds []*entity.Feed) error
	Save(ctx context.Context, feed *entity.Feed) error
	Delete(ctx context.Context, id string) error
	Folders(ctx context.Context) ([]*entity.Folder, error)
	SaveFolder(ctx context.Context, folder *entity.Folder) error
}
