package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"feedsync/internal/domain/entity"
	"feedsync/internal/infra/db"
	"feedsync/internal/repository"
)

// FeedStore implements repository.FeedStore on the account database.
type FeedStore struct {
	queue *db.Queue
}

var _ repository.FeedStore = (*FeedStore)(nil)

// NewFeedStore creates a feed store backed by queue.
func NewFeedStore(queue *db.Queue) *FeedStore {
	return &FeedStore{queue: queue}
}

// List returns every feed ordered by name.
func (f *FeedStore) List(ctx context.Context) ([]*entity.Feed, error) {
	var feeds []*entity.Feed
	err := f.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id, url, name, home_page, external_id FROM feeds ORDER BY name, id`)
		if err != nil {
			return fmt.Errorf("QueryContext: %w", err)
		}
		feeds = make([]*entity.Feed, 0, 32)
		for rows.Next() {
			var feed entity.Feed
			if err := rows.Scan(&feed.ID, &feed.URL, &feed.Name, &feed.HomePage, &feed.ExternalID); err != nil {
				_ = rows.Close()
				return fmt.Errorf("Scan: %w", err)
			}
			feeds = append(feeds, &feed)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return fmt.Errorf("rows.Err: %w", err)
		}
		return attachFolders(ctx, tx, feeds)
	})
	if err != nil {
		return nil, fmt.Errorf("FeedStore.List: %w", err)
	}
	return feeds, nil
}

// Get returns one feed or entity.ErrNotFound.
func (f *FeedStore) Get(ctx context.Context, id string) (*entity.Feed, error) {
	var feed entity.Feed
	err := f.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		err := tx.QueryRowContext(ctx, `
SELECT id, url, name, home_page, external_id FROM feeds WHERE id = ?`, id).
			Scan(&feed.ID, &feed.URL, &feed.Name, &feed.HomePage, &feed.ExternalID)
		if errors.Is(err, sql.ErrNoRows) {
			return entity.ErrNotFound
		}
		if err != nil {
			return err
		}
		return attachFolders(ctx, tx, []*entity.Feed{&feed})
	})
	if err != nil {
		return nil, fmt.Errorf("FeedStore.Get: %w", err)
	}
	return &feed, nil
}

// Replace implements repository.FeedStore.
func (f *FeedStore) Replace(ctx context.Context, feeds []*entity.Feed) error {
	err := f.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		ids := make([]string, len(feeds))
		for i, feed := range feeds {
			ids[i] = feed.ID
		}

		if len(ids) == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM feed_folders`); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM feeds`)
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM feed_folders WHERE feed_id NOT IN `+inClause(len(ids)), stringArgs(ids)...); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM feeds WHERE id NOT IN `+inClause(len(ids)), stringArgs(ids)...); err != nil {
			return fmt.Errorf("delete feeds: %w", err)
		}
		for _, feed := range feeds {
			if err := saveFeed(ctx, tx, feed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("FeedStore.Replace: %w", err)
	}
	return nil
}

// Save inserts or updates one feed and its folder membership.
func (f *FeedStore) Save(ctx context.Context, feed *entity.Feed) error {
	err := f.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		return saveFeed(ctx, tx, feed)
	})
	if err != nil {
		return fmt.Errorf("FeedStore.Save: %w", err)
	}
	return nil
}

// Delete removes a feed and its folder membership.
func (f *FeedStore) Delete(ctx context.Context, id string) error {
	err := f.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM feed_folders WHERE feed_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("FeedStore.Delete: %w", err)
	}
	return nil
}

// Folders returns every folder ordered by name.
func (f *FeedStore) Folders(ctx context.Context) ([]*entity.Folder, error) {
	var folders []*entity.Folder
	err := f.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, name, external_id FROM folders ORDER BY name`)
		if err != nil {
			return fmt.Errorf("QueryContext: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var folder entity.Folder
			var external sql.NullString
			if err := rows.Scan(&folder.ID, &folder.Name, &external); err != nil {
				return fmt.Errorf("Scan: %w", err)
			}
			if external.Valid {
				folder.ExternalID = &external.String
			}
			folders = append(folders, &folder)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("FeedStore.Folders: %w", err)
	}
	return folders, nil
}

// SaveFolder inserts or renames a folder.
func (f *FeedStore) SaveFolder(ctx context.Context, folder *entity.Folder) error {
	err := f.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO folders (id, name, external_id) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, external_id = excluded.external_id`,
			folder.ID, folder.Name, folder.ExternalID)
		return err
	})
	if err != nil {
		return fmt.Errorf("FeedStore.SaveFolder: %w", err)
	}
	return nil
}

func saveFeed(ctx context.Context, tx db.DBTX, feed *entity.Feed) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO feeds (id, url, name, home_page, external_id) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    url = excluded.url, name = excluded.name,
    home_page = excluded.home_page, external_id = excluded.external_id`,
		feed.ID, feed.URL, feed.Name, feed.HomePage, feed.ExternalID); err != nil {
		return fmt.Errorf("saveFeed %s: %w", feed.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_folders WHERE feed_id = ?`, feed.ID); err != nil {
		return fmt.Errorf("saveFeed %s: memberships: %w", feed.ID, err)
	}
	for _, folderID := range uniqueStrings(feed.FolderIDs) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feed_folders (feed_id, folder_id) VALUES (?, ?)`, feed.ID, folderID); err != nil {
			return fmt.Errorf("saveFeed %s: membership %s: %w", feed.ID, folderID, err)
		}
	}
	return nil
}

func attachFolders(ctx context.Context, tx db.DBTX, feeds []*entity.Feed) error {
	if len(feeds) == 0 {
		return nil
	}
	byID := make(map[string]*entity.Feed, len(feeds))
	for _, feed := range feeds {
		feed.FolderIDs = nil
		byID[feed.ID] = feed
	}

	rows, err := tx.QueryContext(ctx, `SELECT feed_id, folder_id FROM feed_folders ORDER BY folder_id`)
	if err != nil {
		return fmt.Errorf("attachFolders: QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var feedID, folderID string
		if err := rows.Scan(&feedID, &folderID); err != nil {
			return fmt.Errorf("attachFolders: Scan: %w", err)
		}
		if feed, ok := byID[feedID]; ok {
			feed.FolderIDs = append(feed.FolderIDs, folderID)
		}
	}
	return rows.Err()
}
