// Package readerapi adapts Google-Reader-compatible services (FreshRSS,
// Inoreader, The Old Reader, Miniflux, ...) to provider.Provider.
//
// A pull pass walks four phases, each one or more pages:
//
//	start   tag/list + subscription/list        → Folders, Feeds
//	items   stream/items/ids since last pass    → Items (+ read/starred deltas)
//	unread  reading-list excluding read         → read=false snapshot
//	starred starred stream                      → starred=true snapshot
//
// The cursor records the phase, the continuation token and the pass start
// time, so a pull interrupted at any page resumes where it stopped.
package readerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"feedsync/internal/domain/entity"
	"feedsync/internal/observability/tracing"
	"feedsync/internal/provider"
	"feedsync/internal/utils/text"
)

const (
	// DefaultInitialWindow is how far back the first pass requests items.
	DefaultInitialWindow = 90 * 24 * time.Hour

	contentsChunkSize = 150
	editTagChunkSize  = 1000
)

// Config configures a Provider.
type Config struct {
	AccountID   string
	Endpoint    string
	Credentials provider.CredentialStore
	// HTTPClient defaults to a traced client with a 60s timeout.
	HTTPClient *http.Client
	// RequestsPerSecond limits calls to the endpoint; zero means unlimited.
	RequestsPerSecond float64
	InitialWindow     time.Duration
	Logger            *slog.Logger
	Now               func() time.Time
}

// Provider is the Reader API adapter.
type Provider struct {
	client        *Client
	accountID     string
	initialWindow time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.FolderRenamer  = (*Provider)(nil)
	_ provider.FolderDeleter  = (*Provider)(nil)
	_ provider.FeedMover      = (*Provider)(nil)
	_ provider.FeedCreator    = (*Provider)(nil)
	_ provider.ArticleFetcher = (*Provider)(nil)
)

// New creates a Reader API provider.
func New(cfg Config) (*Provider, error) {
	if err := entity.ValidateEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}
	if cfg.Credentials == nil {
		return nil, errors.New("readerapi: credential store is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout:   60 * time.Second,
			Transport: tracing.NewTransport(nil),
		}
	}
	if cfg.InitialWindow <= 0 {
		cfg.InitialWindow = DefaultInitialWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Provider{
		client:        newClient(cfg),
		accountID:     cfg.AccountID,
		initialWindow: cfg.InitialWindow,
		logger:        cfg.Logger.With(slog.String("account_id", cfg.AccountID)),
		now:           cfg.Now,
	}, nil
}

// Kind implements provider.Provider.
func (p *Provider) Kind() entity.ProviderKind { return entity.ProviderReaderAPI }

// PullChanges implements provider.Provider.
func (p *Provider) PullChanges(ctx context.Context, raw string) (provider.Page, error) {
	cur, err := decodeCursor(raw)
	if err != nil {
		p.logger.Warn("discarding unreadable cursor, starting a new pass",
			slog.String("cursor", raw),
			slog.Any("error", err))
		cur = cursor{}
	}

	switch cur.Phase {
	case phaseStart:
		return p.pullSubscriptions(ctx, cur)
	case phaseItems:
		return p.pullItems(ctx, cur)
	case phaseUnread:
		return p.pullUnread(ctx, cur)
	case phaseStarred:
		return p.pullStarred(ctx, cur)
	default:
		return provider.Page{}, fmt.Errorf("PullChanges: unknown phase %q", cur.Phase)
	}
}

func (p *Provider) pullSubscriptions(ctx context.Context, cur cursor) (provider.Page, error) {
	now := p.now()
	if cur.Since == 0 {
		cur.Since = now.Add(-p.initialWindow).Unix()
	}
	cur.PassStart = now.Unix()

	tags, err := p.client.TagList(ctx)
	if err != nil {
		return provider.Page{}, fmt.Errorf("pull subscriptions: %w", err)
	}
	subs, err := p.client.SubscriptionList(ctx)
	if err != nil {
		return provider.Page{}, fmt.Errorf("pull subscriptions: %w", err)
	}

	folders := make([]*entity.Folder, 0, len(tags))
	for _, t := range tags {
		if !t.isFolder() {
			continue
		}
		ext := t.ID
		folders = append(folders, &entity.Folder{ID: t.ID, Name: labelName(t.ID), ExternalID: &ext})
	}

	feeds := make([]*entity.Feed, 0, len(subs))
	for _, s := range subs {
		feed := &entity.Feed{
			ID:         s.ID,
			URL:        s.URL,
			Name:       s.Title,
			HomePage:   s.HTMLURL,
			ExternalID: s.ID,
		}
		for _, c := range s.Categories {
			if (tag{ID: c.ID}).isFolder() {
				feed.FolderIDs = append(feed.FolderIDs, c.ID)
			}
		}
		feeds = append(feeds, feed)
	}

	next := cursor{Phase: phaseItems, Since: cur.Since, PassStart: cur.PassStart}
	return provider.Page{
		Feeds:   feeds,
		Folders: folders,
		Cursor:  next.encode(),
		HasMore: true,
	}, nil
}

func (p *Provider) pullItems(ctx context.Context, cur cursor) (provider.Page, error) {
	ids, continuation, err := p.client.ItemIDs(ctx, itemIDsQuery{Stream: streamReadingList, Since: cur.Since}, cur.Continuation)
	if err != nil {
		return provider.Page{}, fmt.Errorf("pull items: %w", err)
	}

	items, corrupt, deltas, err := p.fetch(ctx, ids)
	if err != nil {
		return provider.Page{}, fmt.Errorf("pull items: %w", err)
	}

	next := cursor{Phase: phaseUnread, Since: cur.Since, PassStart: cur.PassStart}
	if continuation != "" && continuation != cur.Continuation {
		next = cursor{Phase: phaseItems, Continuation: continuation, Since: cur.Since, PassStart: cur.PassStart}
	}
	return provider.Page{
		Items:        items,
		StatusDeltas: deltas,
		Corrupt:      corrupt,
		Cursor:       next.encode(),
		HasMore:      true,
	}, nil
}

func (p *Provider) pullUnread(ctx context.Context, cur cursor) (provider.Page, error) {
	ids, err := p.client.AllItemIDs(ctx, itemIDsQuery{Stream: streamReadingList, Exclude: stateRead})
	if err != nil {
		return provider.Page{}, fmt.Errorf("pull unread: %w", err)
	}
	next := cursor{Phase: phaseStarred, Since: cur.Since, PassStart: cur.PassStart}
	return provider.Page{
		Snapshots: []provider.StatusSnapshot{{Key: entity.StatusRead, Flag: false, ArticleIDs: p.articleIDs(ids)}},
		Cursor:    next.encode(),
		HasMore:   true,
	}, nil
}

func (p *Provider) pullStarred(ctx context.Context, cur cursor) (provider.Page, error) {
	ids, err := p.client.AllItemIDs(ctx, itemIDsQuery{Stream: stateStarred})
	if err != nil {
		return provider.Page{}, fmt.Errorf("pull starred: %w", err)
	}
	next := cursor{Phase: phaseStart, Since: cur.PassStart}
	return provider.Page{
		Snapshots: []provider.StatusSnapshot{{Key: entity.StatusStarred, Flag: true, ArticleIDs: p.articleIDs(ids)}},
		Cursor:    next.encode(),
		HasMore:   false,
	}, nil
}

// FetchArticles implements provider.ArticleFetcher.
func (p *Provider) FetchArticles(ctx context.Context, articleIDs []string) ([]provider.RemoteItem, []*entity.CorruptionError, error) {
	items, corrupt, _, err := p.fetch(ctx, articleIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("FetchArticles: %w", err)
	}
	return items, corrupt, nil
}

// fetch downloads items in chunks and maps them. Read and starred states
// carried by the items come back as deltas.
func (p *Provider) fetch(ctx context.Context, ids []string) ([]provider.RemoteItem, []*entity.CorruptionError, []provider.StatusDelta, error) {
	var (
		items   []provider.RemoteItem
		corrupt []*entity.CorruptionError
		read    []string
		unread  []string
		starred []string
	)
	long := make([]string, 0, len(ids))
	for _, id := range p.articleIDs(ids) {
		itemID, err := longItemID(id)
		if err != nil {
			continue
		}
		long = append(long, itemID)
	}

	for chunk := range slices.Chunk(long, contentsChunkSize) {
		raws, err := p.client.StreamContents(ctx, chunk)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, raw := range raws {
			it, flags, err := mapItem(raw)
			if err != nil {
				var ce *entity.CorruptionError
				if errors.As(err, &ce) {
					corrupt = append(corrupt, ce)
					continue
				}
				return nil, nil, nil, err
			}
			items = append(items, it)
			id := it.Item.SyncServiceID
			if flags.read {
				read = append(read, id)
			} else {
				unread = append(unread, id)
			}
			if flags.starred {
				starred = append(starred, id)
			}
		}
	}

	var deltas []provider.StatusDelta
	if len(read) > 0 {
		deltas = append(deltas, provider.StatusDelta{Key: entity.StatusRead, Flag: true, ArticleIDs: read})
	}
	if len(unread) > 0 {
		deltas = append(deltas, provider.StatusDelta{Key: entity.StatusRead, Flag: false, ArticleIDs: unread})
	}
	if len(starred) > 0 {
		deltas = append(deltas, provider.StatusDelta{Key: entity.StatusStarred, Flag: true, ArticleIDs: starred})
	}
	return items, corrupt, deltas, nil
}

type itemFlags struct {
	read    bool
	starred bool
}

func mapItem(raw json.RawMessage) (provider.RemoteItem, itemFlags, error) {
	var a articleItem
	if err := json.Unmarshal(raw, &a); err != nil {
		var probe struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &probe)
		return provider.RemoteItem{}, itemFlags{}, &entity.CorruptionError{ItemID: probe.ID, Err: err}
	}

	id, err := articleID(a.ID)
	if err != nil {
		return provider.RemoteItem{}, itemFlags{}, &entity.CorruptionError{ItemID: a.ID, Err: err}
	}
	if a.Origin.StreamID == "" {
		return provider.RemoteItem{}, itemFlags{}, &entity.CorruptionError{ItemID: a.ID, Err: errors.New("missing origin stream")}
	}

	html := ""
	if a.Content != nil && a.Content.Content != "" {
		html = a.Content.Content
	} else if a.Summary != nil {
		html = a.Summary.Content
	}

	item := entity.ParsedItem{
		SyncServiceID: id,
		UniqueID:      id,
		FeedURL:       a.Origin.StreamID,
		Title:         a.Title,
		ContentHTML:   html,
		ContentText:   text.PlainText(html),
	}
	if len(a.Canonical) > 0 {
		item.URL = a.Canonical[0].Href
	}
	if len(a.Alternate) > 0 {
		if item.URL == "" {
			item.URL = a.Alternate[0].Href
		} else if a.Alternate[0].Href != item.URL {
			item.ExternalURL = a.Alternate[0].Href
		}
	}
	if a.Author != "" {
		item.Authors = []entity.Author{{Name: a.Author}}
	}
	if a.Published > 0 {
		item.DatePublished = time.Unix(a.Published, 0).UTC()
	}
	if a.Updated > 0 {
		item.DateModified = time.Unix(a.Updated, 0).UTC()
	}

	flags := itemFlags{read: a.hasCategory(stateRead), starred: a.hasCategory(stateStarred)}
	return provider.RemoteItem{FeedID: a.Origin.StreamID, Item: item}, flags, nil
}

// articleIDs converts item IDs, dropping the ones that are not numeric.
func (p *Provider) articleIDs(itemIDs []string) []string {
	out := make([]string, 0, len(itemIDs))
	for _, raw := range itemIDs {
		id, err := articleID(raw)
		if err != nil {
			p.logger.Warn("skipping unrecognized item id", slog.String("item_id", raw))
			continue
		}
		out = append(out, id)
	}
	return out
}

// PushStatus implements provider.Provider. read=true adds the read state,
// read=false removes it; starred likewise.
func (p *Provider) PushStatus(ctx context.Context, articleIDs []string, key entity.StatusKey, flag bool) error {
	var state string
	switch key {
	case entity.StatusRead:
		state = stateRead
	case entity.StatusStarred:
		state = stateStarred
	default:
		return fmt.Errorf("PushStatus: %w: key %q", entity.ErrInvalidInput, key)
	}

	long := make([]string, 0, len(articleIDs))
	for _, id := range articleIDs {
		itemID, err := longItemID(id)
		if err != nil {
			p.logger.Warn("dropping status change for non-numeric article id",
				slog.String("article_id", id),
				slog.String("key", string(key)))
			continue
		}
		long = append(long, itemID)
	}

	for chunk := range slices.Chunk(long, editTagChunkSize) {
		if err := p.client.EditTag(ctx, chunk, state, flag); err != nil {
			return fmt.Errorf("PushStatus: %w", err)
		}
	}
	return nil
}

// RenameFolder implements provider.FolderRenamer.
func (p *Provider) RenameFolder(ctx context.Context, folder *entity.Folder, newName string) error {
	if err := p.client.RenameTag(ctx, folderTagID(folder), labelPrefix+newName); err != nil {
		return fmt.Errorf("RenameFolder: %w", err)
	}
	return nil
}

// DeleteFolder implements provider.FolderDeleter.
func (p *Provider) DeleteFolder(ctx context.Context, folder *entity.Folder) error {
	if err := p.client.DisableTag(ctx, folderTagID(folder)); err != nil {
		return fmt.Errorf("DeleteFolder: %w", err)
	}
	return nil
}

// MoveFeed implements provider.FeedMover.
func (p *Provider) MoveFeed(ctx context.Context, feed *entity.Feed, from, to *entity.Folder) error {
	remove, add := "", ""
	if from != nil {
		remove = folderTagID(from)
	}
	if to != nil {
		add = folderTagID(to)
	}
	if remove == "" && add == "" {
		return nil
	}
	if err := p.client.EditSubscription(ctx, feedStreamID(feed), remove, add, ""); err != nil {
		return fmt.Errorf("MoveFeed: %w", err)
	}
	return nil
}

// CreateFeed implements provider.FeedCreator.
func (p *Provider) CreateFeed(ctx context.Context, url, name string, folder *entity.Folder) (*entity.Feed, error) {
	res, err := p.client.QuickAdd(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("CreateFeed: %w", err)
	}
	if res.NumResults == 0 || res.StreamID == "" {
		return nil, fmt.Errorf("CreateFeed %s: %w", url, entity.ErrNotFound)
	}

	feed := &entity.Feed{
		ID:         res.StreamID,
		URL:        url,
		Name:       res.StreamName,
		ExternalID: res.StreamID,
	}
	label := ""
	if folder != nil {
		label = folderTagID(folder)
		feed.FolderIDs = []string{folder.ID}
	}
	if name != "" && name != res.StreamName {
		feed.Name = name
	} else {
		name = ""
	}
	if label != "" || name != "" {
		if err := p.client.EditSubscription(ctx, res.StreamID, "", label, name); err != nil {
			return nil, fmt.Errorf("CreateFeed: %w", err)
		}
	}
	return feed, nil
}

func folderTagID(f *entity.Folder) string {
	if f.ExternalID != nil && *f.ExternalID != "" {
		return *f.ExternalID
	}
	return labelPrefix + f.Name
}

func feedStreamID(f *entity.Feed) string {
	if f.ExternalID != "" {
		return f.ExternalID
	}
	return f.ID
}
