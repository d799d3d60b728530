package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"feedsync/internal/domain/entity"
	"feedsync/internal/events"
	"feedsync/internal/infra/db"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/repository"
)

// ArticleStore implements repository.ArticleStore on one account database.
//
// writeMu spans a database write and the cache update that follows it, so
// the cache always reflects committed rows in commit order. cacheMu guards
// the map itself and is never held across database work.
type ArticleStore struct {
	queue     *db.Queue
	accountID string
	bus       *events.Bus
	now       func() time.Time

	writeMu sync.Mutex
	cacheMu sync.RWMutex
	unread  map[string]int
}

var _ repository.ArticleStore = (*ArticleStore)(nil)

// NewArticleStore creates a store for the account whose database is behind queue.
func NewArticleStore(queue *db.Queue, accountID string, bus *events.Bus) *ArticleStore {
	return &ArticleStore{
		queue:     queue,
		accountID: accountID,
		bus:       bus,
		now:       time.Now,
		unread:    make(map[string]int),
	}
}

const articleColumns = `article_id, feed_id, unique_id, title, url, external_url,
content_html, content_text, summary, authors, date_published, date_modified`

/* ──────────────────────────── Upsert ──────────────────────────── */

// UpsertArticles implements repository.ArticleStore.
func (s *ArticleStore) UpsertArticles(ctx context.Context, itemsByFeed map[string][]entity.ParsedItem, defaultRead bool) (repository.ArticleChanges, error) {
	var changes repository.ArticleChanges

	incoming, order := collectIncoming(itemsByFeed)
	if len(order) == 0 {
		return changes, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	deltas := make(map[string]int)
	err := s.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		changes = repository.ArticleChanges{}
		clear(deltas)

		if _, err := ensureStatuses(ctx, tx, order, defaultRead, s.now()); err != nil {
			return fmt.Errorf("UpsertArticles: %w", err)
		}

		existing, err := selectArticles(ctx, tx, order)
		if err != nil {
			return fmt.Errorf("UpsertArticles: %w", err)
		}
		unreadIDs, err := unreadSet(ctx, tx, order)
		if err != nil {
			return fmt.Errorf("UpsertArticles: %w", err)
		}

		for _, id := range order {
			article := incoming[id]
			stored, ok := existing[id]
			if !ok {
				if err := insertArticle(ctx, tx, article); err != nil {
					return fmt.Errorf("UpsertArticles: %w", err)
				}
				changes.New = append(changes.New, article)
				if unreadIDs[id] {
					deltas[article.FeedID]++
				}
				continue
			}

			merged, changed := stored.Merge(article)
			if !changed {
				continue
			}
			if err := updateArticle(ctx, tx, merged); err != nil {
				return fmt.Errorf("UpsertArticles: %w", err)
			}
			changes.Updated = append(changes.Updated, merged)
			if unreadIDs[id] && merged.FeedID != stored.FeedID {
				deltas[stored.FeedID]--
				deltas[merged.FeedID]++
			}
		}
		return nil
	})
	metrics.RecordDBOperation("upsert_articles", time.Since(start))
	if err != nil {
		return repository.ArticleChanges{}, err
	}

	for feedID, delta := range deltas {
		s.ApplyUnreadDelta(feedID, delta)
	}
	if !changes.IsEmpty() {
		s.bus.Publish(events.ArticlesChanged{
			AccountID: s.accountID,
			New:       articleIDs(changes.New),
			Updated:   articleIDs(changes.Updated),
		})
	}
	return changes, nil
}

// collectIncoming maps items to articles keyed by ID. When the same ID shows
// up more than once, later items are merged over earlier ones.
func collectIncoming(itemsByFeed map[string][]entity.ParsedItem) (map[string]*entity.Article, []string) {
	incoming := make(map[string]*entity.Article)
	var order []string
	for feedID, items := range itemsByFeed {
		for _, item := range items {
			article := entity.NewArticle(feedID, item)
			if prev, ok := incoming[article.ArticleID]; ok {
				merged, _ := prev.Merge(article)
				incoming[article.ArticleID] = merged
				continue
			}
			incoming[article.ArticleID] = article
			order = append(order, article.ArticleID)
		}
	}
	return incoming, order
}

/* ──────────────────────────── Statuses ──────────────────────────── */

// UpdateStatuses implements repository.ArticleStore.
func (s *ArticleStore) UpdateStatuses(ctx context.Context, ids []string, key entity.StatusKey, flag bool) ([]entity.ArticleStatus, error) {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	column, err := statusColumn(key)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	var changed []entity.ArticleStatus
	deltas := make(map[string]int)
	err = s.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		changed = nil
		clear(deltas)

		if _, err := ensureStatuses(ctx, tx, ids, false, s.now()); err != nil {
			return fmt.Errorf("UpdateStatuses: %w", err)
		}

		current, feedOf, err := selectStatusesWithFeed(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("UpdateStatuses: %w", err)
		}

		update := fmt.Sprintf(`UPDATE statuses SET %s = ? WHERE article_id = ?`, column)
		for _, st := range current {
			if !st.SetFlag(key, flag) {
				continue
			}
			if _, err := tx.ExecContext(ctx, update, boolToInt(flag), st.ArticleID); err != nil {
				return fmt.Errorf("UpdateStatuses: ExecContext: %w", err)
			}
			changed = append(changed, st)

			if feedID := feedOf[st.ArticleID]; key == entity.StatusRead && feedID != "" {
				if flag {
					deltas[feedID]--
				} else {
					deltas[feedID]++
				}
			}
		}
		return nil
	})
	metrics.RecordDBOperation("update_statuses", time.Since(start))
	if err != nil {
		return nil, err
	}

	for feedID, delta := range deltas {
		if delta != 0 {
			s.ApplyUnreadDelta(feedID, delta)
		}
	}
	if len(changed) > 0 {
		changedIDs := make([]string, len(changed))
		for i, st := range changed {
			changedIDs[i] = st.ArticleID
		}
		s.bus.Publish(events.StatusesChanged{
			AccountID:  s.accountID,
			ArticleIDs: changedIDs,
			Key:        key,
			Flag:       flag,
		})
	}
	return changed, nil
}

// Statuses returns the stored statuses of the given articles.
func (s *ArticleStore) Statuses(ctx context.Context, ids []string) ([]entity.ArticleStatus, error) {
	var out []entity.ArticleStatus
	err := s.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		statuses, _, err := selectStatusesWithFeed(ctx, tx, uniqueStrings(ids))
		out = statuses
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Statuses: %w", err)
	}
	return out, nil
}

// ArticleIDsWithStatus implements repository.ArticleStore.
func (s *ArticleStore) ArticleIDsWithStatus(ctx context.Context, key entity.StatusKey, flag bool) ([]string, error) {
	column, err := statusColumn(key)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT article_id FROM statuses WHERE %s = ?`, column)

	var ids []string
	err = s.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		var err error
		ids, err = queryStrings(ctx, tx, query, boolToInt(flag))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ArticleIDsWithStatus: %w", err)
	}
	return ids, nil
}

// ArticleIDsMissingContent implements repository.ArticleStore.
func (s *ArticleStore) ArticleIDsMissingContent(ctx context.Context, since time.Time) ([]string, error) {
	const query = `
SELECT s.article_id
FROM statuses s
LEFT JOIN articles a ON a.article_id = s.article_id
WHERE a.article_id IS NULL AND s.date_arrived >= ?
ORDER BY s.date_arrived`

	var ids []string
	err := s.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		var err error
		ids, err = queryStrings(ctx, tx, query, since.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ArticleIDsMissingContent: %w", err)
	}
	return ids, nil
}

/* ──────────────────────────── Unread cache ──────────────────────────── */

// FetchUnreadCounts implements repository.ArticleStore. An empty feedIDs
// recomputes every feed that has articles.
func (s *ArticleStore) FetchUnreadCounts(ctx context.Context, feedIDs []string) (map[string]int, error) {
	feedIDs = uniqueStrings(feedIDs)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	counts := make(map[string]int, len(feedIDs))
	err := s.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		clear(counts)
		if len(feedIDs) == 0 {
			return scanUnreadCounts(ctx, tx, counts, "", nil)
		}
		for _, chunk := range chunkStrings(feedIDs, maxPlaceholders) {
			if err := scanUnreadCounts(ctx, tx, counts, "AND a.feed_id IN "+inClause(len(chunk)), stringArgs(chunk)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("FetchUnreadCounts: %w", err)
	}

	for _, id := range feedIDs {
		if _, ok := counts[id]; !ok {
			counts[id] = 0
		}
	}

	s.cacheMu.Lock()
	for feedID, n := range counts {
		s.unread[feedID] = n
	}
	s.cacheMu.Unlock()

	for feedID, n := range counts {
		s.bus.Publish(events.UnreadCountChanged{AccountID: s.accountID, FeedID: feedID, Count: n})
	}
	return counts, nil
}

func scanUnreadCounts(ctx context.Context, tx db.DBTX, counts map[string]int, filter string, args []any) error {
	query := `
SELECT a.feed_id, COUNT(*)
FROM articles a
INNER JOIN statuses s ON s.article_id = a.article_id
WHERE s.read = 0 ` + filter + `
GROUP BY a.feed_id`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var feedID string
		var n int
		if err := rows.Scan(&feedID, &n); err != nil {
			return fmt.Errorf("Scan: %w", err)
		}
		counts[feedID] = n
	}
	return rows.Err()
}

// ApplyUnreadDelta implements repository.ArticleStore. Feeds that are not
// cached yet are left alone; their count is computed on first fetch.
func (s *ArticleStore) ApplyUnreadDelta(feedID string, delta int) {
	if delta == 0 {
		return
	}

	s.cacheMu.Lock()
	n, ok := s.unread[feedID]
	if !ok {
		s.cacheMu.Unlock()
		return
	}
	n = max(n+delta, 0)
	s.unread[feedID] = n
	s.cacheMu.Unlock()

	s.bus.Publish(events.UnreadCountChanged{AccountID: s.accountID, FeedID: feedID, Count: n})
}

// UnreadCount implements repository.ArticleStore.
func (s *ArticleStore) UnreadCount(feedID string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	n, ok := s.unread[feedID]
	return n, ok
}

// UnreadCounts returns a snapshot of every cached count.
func (s *ArticleStore) UnreadCounts() map[string]int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	out := make(map[string]int, len(s.unread))
	for k, v := range s.unread {
		out[k] = v
	}
	return out
}

/* ──────────────────────────── Reads ──────────────────────────── */

// Articles implements repository.ArticleStore.
func (s *ArticleStore) Articles(ctx context.Context, ids []string) ([]*entity.Article, error) {
	ids = uniqueStrings(ids)
	var out []*entity.Article
	err := s.queue.Execute(ctx, func(ctx context.Context, tx db.DBTX) error {
		found, err := selectArticles(ctx, tx, ids)
		if err != nil {
			return err
		}
		out = make([]*entity.Article, 0, len(found))
		for _, id := range ids {
			if a, ok := found[id]; ok {
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Articles: %w", err)
	}
	return out, nil
}

/* ──────────────────────────── Cleanup ──────────────────────────── */

// Cleanup implements repository.ArticleStore. Nothing is removed for
// unsubscribed feeds when subscribedFeedIDs is empty.
func (s *ArticleStore) Cleanup(ctx context.Context, subscribedFeedIDs []string, cutoff time.Time) (repository.CleanupResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result repository.CleanupResult
	err := s.queue.ExecuteInTransaction(ctx, func(ctx context.Context, tx db.DBTX) error {
		result = repository.CleanupResult{}

		if len(subscribedFeedIDs) > 0 {
			subscribed := inClause(len(subscribedFeedIDs))
			args := stringArgs(subscribedFeedIDs)

			// Statuses go first so the next cycle does not fetch the
			// articles again. Rows still waiting in the outbox are kept.
			res, err := tx.ExecContext(ctx, `
DELETE FROM statuses
WHERE article_id IN (SELECT article_id FROM articles WHERE feed_id NOT IN `+subscribed+`)
  AND article_id NOT IN (SELECT article_id FROM outbox)`, args...)
			if err != nil {
				return fmt.Errorf("Cleanup: unsubscribed statuses: %w", err)
			}
			n, _ := res.RowsAffected()
			result.StatusesDeleted += n

			res, err = tx.ExecContext(ctx, `DELETE FROM articles WHERE feed_id NOT IN `+subscribed, args...)
			if err != nil {
				return fmt.Errorf("Cleanup: unsubscribed: %w", err)
			}
			n, _ = res.RowsAffected()
			result.ArticlesDeleted += n
		}

		res, err := tx.ExecContext(ctx, `
DELETE FROM articles WHERE article_id IN (
    SELECT article_id FROM statuses
    WHERE read = 1 AND starred = 0 AND date_arrived < ?
)`, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("Cleanup: old articles: %w", err)
		}
		n, _ := res.RowsAffected()
		result.ArticlesDeleted += n

		res, err = tx.ExecContext(ctx, `
DELETE FROM statuses
WHERE read = 1 AND starred = 0 AND date_arrived < ?
  AND article_id NOT IN (SELECT article_id FROM articles)
  AND article_id NOT IN (SELECT article_id FROM outbox)`, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("Cleanup: old statuses: %w", err)
		}
		n, _ = res.RowsAffected()
		result.StatusesDeleted += n
		return nil
	})
	if err != nil {
		return repository.CleanupResult{}, err
	}

	if len(subscribedFeedIDs) > 0 {
		keep := make(map[string]struct{}, len(subscribedFeedIDs))
		for _, id := range subscribedFeedIDs {
			keep[id] = struct{}{}
		}
		var evicted []string
		s.cacheMu.Lock()
		for feedID := range s.unread {
			if _, ok := keep[feedID]; !ok {
				delete(s.unread, feedID)
				evicted = append(evicted, feedID)
			}
		}
		s.cacheMu.Unlock()

		for _, feedID := range evicted {
			s.bus.Publish(events.UnreadCountChanged{AccountID: s.accountID, FeedID: feedID, Count: 0})
		}
	}
	return result, nil
}

/* ──────────────────────────── SQL helpers ──────────────────────────── */

func statusColumn(key entity.StatusKey) (string, error) {
	switch key {
	case entity.StatusRead:
		return "read", nil
	case entity.StatusStarred:
		return "starred", nil
	default:
		return "", &entity.ValidationError{Field: "key", Message: fmt.Sprintf("unknown status key %q", key)}
	}
}

// ensureStatuses creates missing status rows and returns the IDs it created.
func ensureStatuses(ctx context.Context, tx db.DBTX, ids []string, read bool, now time.Time) ([]string, error) {
	const query = `
INSERT INTO statuses (article_id, read, starred, date_arrived)
VALUES (?, ?, 0, ?)
ON CONFLICT(article_id) DO NOTHING`

	var created []string
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, query, id, boolToInt(read), now.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("ensureStatuses: ExecContext: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created = append(created, id)
		}
	}
	return created, nil
}

func selectArticles(ctx context.Context, tx db.DBTX, ids []string) (map[string]*entity.Article, error) {
	found := make(map[string]*entity.Article, len(ids))
	for _, chunk := range chunkStrings(ids, maxPlaceholders) {
		query := `SELECT ` + articleColumns + ` FROM articles WHERE article_id IN ` + inClause(len(chunk))
		rows, err := tx.QueryContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("selectArticles: QueryContext: %w", err)
		}
		for rows.Next() {
			a, err := scanArticle(rows)
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("selectArticles: %w", err)
			}
			found[a.ArticleID] = a
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("selectArticles: rows.Err: %w", err)
		}
	}
	return found, nil
}

func unreadSet(ctx context.Context, tx db.DBTX, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, chunk := range chunkStrings(ids, maxPlaceholders) {
		query := `SELECT article_id FROM statuses WHERE read = 0 AND article_id IN ` + inClause(len(chunk))
		unread, err := queryStrings(ctx, tx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("unreadSet: %w", err)
		}
		for _, id := range unread {
			out[id] = true
		}
	}
	return out, nil
}

// selectStatusesWithFeed loads statuses plus the feed of each article that
// has been downloaded.
func selectStatusesWithFeed(ctx context.Context, tx db.DBTX, ids []string) ([]entity.ArticleStatus, map[string]string, error) {
	statuses := make([]entity.ArticleStatus, 0, len(ids))
	feedOf := make(map[string]string, len(ids))
	for _, chunk := range chunkStrings(ids, maxPlaceholders) {
		query := `
SELECT s.article_id, s.read, s.starred, s.date_arrived, COALESCE(a.feed_id, '')
FROM statuses s
LEFT JOIN articles a ON a.article_id = s.article_id
WHERE s.article_id IN ` + inClause(len(chunk))

		rows, err := tx.QueryContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, nil, fmt.Errorf("selectStatuses: QueryContext: %w", err)
		}
		for rows.Next() {
			var st entity.ArticleStatus
			var arrived int64
			var feedID string
			if err := rows.Scan(&st.ArticleID, &st.Read, &st.Starred, &arrived, &feedID); err != nil {
				_ = rows.Close()
				return nil, nil, fmt.Errorf("selectStatuses: Scan: %w", err)
			}
			st.DateArrived = time.UnixMilli(arrived).UTC()
			statuses = append(statuses, st)
			feedOf[st.ArticleID] = feedID
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("selectStatuses: rows.Err: %w", err)
		}
	}
	return statuses, feedOf, nil
}

func insertArticle(ctx context.Context, tx db.DBTX, a *entity.Article) error {
	authors, err := json.Marshal(a.Authors)
	if err != nil {
		return fmt.Errorf("insertArticle: marshal authors: %w", err)
	}
	query := `INSERT INTO articles (` + articleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		a.ArticleID, a.FeedID, a.UniqueID, a.Title, a.URL, a.ExternalURL,
		a.ContentHTML, a.ContentText, a.Summary, string(authors),
		nullMillis(a.DatePublished), nullMillis(a.DateModified))
	if err != nil {
		return fmt.Errorf("insertArticle: ExecContext: %w", err)
	}
	return nil
}

func updateArticle(ctx context.Context, tx db.DBTX, a *entity.Article) error {
	authors, err := json.Marshal(a.Authors)
	if err != nil {
		return fmt.Errorf("updateArticle: marshal authors: %w", err)
	}
	const query = `
UPDATE articles SET feed_id = ?, unique_id = ?, title = ?, url = ?, external_url = ?,
    content_html = ?, content_text = ?, summary = ?, authors = ?,
    date_published = ?, date_modified = ?
WHERE article_id = ?`
	_, err = tx.ExecContext(ctx, query,
		a.FeedID, a.UniqueID, a.Title, a.URL, a.ExternalURL,
		a.ContentHTML, a.ContentText, a.Summary, string(authors),
		nullMillis(a.DatePublished), nullMillis(a.DateModified), a.ArticleID)
	if err != nil {
		return fmt.Errorf("updateArticle: ExecContext: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (*entity.Article, error) {
	var a entity.Article
	var authors string
	var published, modified sql.NullInt64
	err := row.Scan(&a.ArticleID, &a.FeedID, &a.UniqueID, &a.Title, &a.URL, &a.ExternalURL,
		&a.ContentHTML, &a.ContentText, &a.Summary, &authors, &published, &modified)
	if err != nil {
		return nil, fmt.Errorf("Scan: %w", err)
	}
	if authors != "" && authors != "null" {
		if err := json.Unmarshal([]byte(authors), &a.Authors); err != nil {
			return nil, fmt.Errorf("unmarshal authors of %s: %w", a.ArticleID, err)
		}
	}
	if len(a.Authors) == 0 {
		a.Authors = nil
	}
	if published.Valid {
		a.DatePublished = time.UnixMilli(published.Int64).UTC()
	}
	if modified.Valid {
		a.DateModified = time.UnixMilli(modified.Int64).UTC()
	}
	return &a, nil
}

func queryStrings(ctx context.Context, tx db.DBTX, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return out, nil
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func articleIDs(articles []*entity.Article) []string {
	ids := make([]string, len(articles))
	for i, a := range articles {
		ids[i] = a.ArticleID
	}
	return ids
}
