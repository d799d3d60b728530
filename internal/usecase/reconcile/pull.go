package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"feedsync/internal/domain/entity"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/observability/tracing"
	"feedsync/internal/provider"
	"feedsync/internal/resilience/retry"
)

// pull applies remote pages until the provider reports no more. The cursor
// of a page is saved only after everything in the page is committed, so a
// crash resumes with the page that was being applied.
func (e *Engine) pull(ctx context.Context) (PullResult, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "reconcile.pull")
	defer span.End()

	var res PullResult
	cursor, err := e.deps.Cursors.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var page provider.Page
		err := retry.WithBackoff(ctx, e.cfg.PullRetry, func() error {
			p, err := e.deps.Provider.PullChanges(ctx, cursor)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("pull: PullChanges: %w", err)
		}

		if err := e.applyPage(ctx, &page, &res); err != nil {
			return res, fmt.Errorf("pull: %w", err)
		}
		if err := e.deps.Cursors.Save(ctx, page.Cursor); err != nil {
			return res, fmt.Errorf("pull: %w", err)
		}
		res.Pages++
		cursor = page.Cursor

		if !page.HasMore {
			break
		}
	}

	if err := e.refreshUncachedCounts(ctx); err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}

	fetched, err := e.fetchMissing(ctx)
	res.Fetched = fetched
	if err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}

	span.SetAttributes(attribute.Int("pages", res.Pages), attribute.Int("corrupt", res.Corrupt))
	return res, nil
}

func (e *Engine) applyPage(ctx context.Context, page *provider.Page, res *PullResult) error {
	if page.Feeds != nil {
		if err := e.deps.Feeds.Replace(ctx, page.Feeds); err != nil {
			return err
		}
	}
	for _, folder := range page.Folders {
		if err := e.deps.Feeds.SaveFolder(ctx, folder); err != nil {
			return err
		}
	}

	if len(page.Items) > 0 {
		changes, err := e.deps.Articles.UpsertArticles(ctx, page.ItemsByFeed(), false)
		if err != nil {
			return err
		}
		res.NewArticles += len(changes.New)
		res.UpdatedArticles += len(changes.Updated)
	}

	pending := make(map[entity.StatusKey]map[string]bool)
	pendingFor := func(key entity.StatusKey) (map[string]bool, error) {
		if set, ok := pending[key]; ok {
			return set, nil
		}
		ids, err := e.deps.Outbox.PendingArticleIDs(ctx, key)
		if err != nil {
			return nil, err
		}
		set := toSet(ids)
		pending[key] = set
		return set, nil
	}

	for _, delta := range page.StatusDeltas {
		skip, err := pendingFor(delta.Key)
		if err != nil {
			return err
		}
		n, err := e.updateStatuses(ctx, without(delta.ArticleIDs, skip), delta.Key, delta.Flag)
		if err != nil {
			return err
		}
		res.StatusesChanged += n
	}

	for _, snap := range page.Snapshots {
		skip, err := pendingFor(snap.Key)
		if err != nil {
			return err
		}
		n, err := e.applySnapshot(ctx, snap, skip)
		if err != nil {
			return err
		}
		res.StatusesChanged += n
	}

	for _, c := range page.Corrupt {
		e.logger.Warn("skipping corrupt item", slog.String("item_id", c.ItemID), slog.Any("error", c.Err))
	}
	res.Corrupt += len(page.Corrupt)
	metrics.RecordItemsPulled(e.account.ID, len(page.Items), len(page.Corrupt))
	return nil
}

// applySnapshot makes the local key=flag set equal to the remote one,
// except for articles with a pending local change.
func (e *Engine) applySnapshot(ctx context.Context, snap provider.StatusSnapshot, pending map[string]bool) (int, error) {
	local, err := e.deps.Articles.ArticleIDsWithStatus(ctx, snap.Key, snap.Flag)
	if err != nil {
		return 0, err
	}
	localSet := toSet(local)
	remoteSet := toSet(snap.ArticleIDs)

	var mark, unmark []string
	for _, id := range snap.ArticleIDs {
		if !localSet[id] && !pending[id] {
			mark = append(mark, id)
		}
	}
	for _, id := range local {
		if !remoteSet[id] && !pending[id] {
			unmark = append(unmark, id)
		}
	}

	set, err := e.updateStatuses(ctx, mark, snap.Key, snap.Flag)
	if err != nil {
		return 0, err
	}
	cleared, err := e.updateStatuses(ctx, unmark, snap.Key, !snap.Flag)
	if err != nil {
		return 0, err
	}
	return set + cleared, nil
}

func (e *Engine) updateStatuses(ctx context.Context, ids []string, key entity.StatusKey, flag bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	changed, err := e.deps.Articles.UpdateStatuses(ctx, ids, key, flag)
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}

// refreshUncachedCounts computes unread counts for feeds the cache has
// not seen yet. Feeds already cached follow deltas.
func (e *Engine) refreshUncachedCounts(ctx context.Context) error {
	feeds, err := e.deps.Feeds.List(ctx)
	if err != nil {
		return err
	}
	var missing []string
	for _, f := range feeds {
		if _, ok := e.deps.Articles.UnreadCount(f.ID); !ok {
			missing = append(missing, f.ID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	_, err = e.deps.Articles.FetchUnreadCounts(ctx, missing)
	return err
}

// fetchMissing downloads articles whose status arrived without content.
func (e *Engine) fetchMissing(ctx context.Context) (int, error) {
	if !provider.CapabilitiesOf(e.deps.Provider).FetchArticles {
		return 0, nil
	}

	ids, err := e.deps.Articles.ArticleIDsMissingContent(ctx, e.now().Add(-e.cfg.MissingContentWindow))
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	items, corrupt, err := provider.FetchArticles(ctx, e.deps.Provider, ids)
	if err != nil {
		if entity.IsUnsupported(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("FetchArticles: %w", err)
	}
	for _, c := range corrupt {
		e.logger.Warn("skipping corrupt item", slog.String("item_id", c.ItemID), slog.Any("error", c.Err))
	}

	page := provider.Page{Items: items}
	changes, err := e.deps.Articles.UpsertArticles(ctx, page.ItemsByFeed(), false)
	if err != nil {
		return 0, err
	}
	metrics.RecordItemsPulled(e.account.ID, len(items), len(corrupt))
	return len(changes.New) + len(changes.Updated), nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func without(ids []string, skip map[string]bool) []string {
	if len(skip) == 0 {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}
