package repository

import (
	"context"
	"time"

	"feedsync/internal/domain/entity"
)

// ArticleChanges is the result of an upsert: articles that did not exist
// before and articles whose stored content changed.
type ArticleChanges struct {
	New     []*entity.Article
	Updated []*entity.Article
}

// IsEmpty reports whether the upsert changed nothing.
func (c ArticleChanges) IsEmpty() bool {
	return len(c.New) == 0 && len(c.Updated) == 0
}

// ArticleStore persists articles and their statuses for one account and
// keeps the per-feed unread counts cached.
type ArticleStore interface {
	// UpsertArticles merges items grouped by feed ID. Status rows are created
	// for unseen article IDs with read=defaultRead. Re-upserting identical
	// content reports no changes.
	UpsertArticles(ctx context.Context, itemsByFeed map[string][]entity.ParsedItem, defaultRead bool) (ArticleChanges, error)
	// UpdateStatuses sets key=flag on the given articles and returns only the
	// statuses whose value actually changed.
	UpdateStatuses(ctx context.Context, articleIDs []string, key entity.StatusKey, flag bool) ([]entity.ArticleStatus, error)
	// FetchUnreadCounts recomputes unread counts for feedIDs with a single
	// aggregate query and refreshes the cache.
	FetchUnreadCounts(ctx context.Context, feedIDs []string) (map[string]int, error)
	// ApplyUnreadDelta adjusts the cached unread count of feedID.
	ApplyUnreadDelta(feedID string, delta int)
	// UnreadCount returns the cached unread count of feedID.
	UnreadCount(feedID string) (int, bool)

	Articles(ctx context.Context, articleIDs []string) ([]*entity.Article, error)
	Statuses(ctx context.Context, articleIDs []string) ([]entity.ArticleStatus, error)
	// ArticleIDsWithStatus lists article IDs whose key equals flag.
	ArticleIDsWithStatus(ctx context.Context, key entity.StatusKey, flag bool) ([]string, error)
	// ArticleIDsMissingContent lists statuses that arrived after since and
	// have no downloaded article yet.
	ArticleIDsMissingContent(ctx context.Context, since time.Time) ([]string, error)
	// Cleanup removes read, unstarred articles older than the retention
	// cutoff, articles of feeds no longer subscribed, and stale statuses.
	Cleanup(ctx context.Context, subscribedFeedIDs []string, cutoff time.Time) (CleanupResult, error)
}

// CleanupResult counts rows removed by ArticleStore.Cleanup.
type CleanupResult struct {
	ArticlesDeleted int64
	StatusesDeleted int64
}
