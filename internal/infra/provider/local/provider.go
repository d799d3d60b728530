// Package local implements the provider for accounts without a remote
// service. Feeds are downloaded directly and statuses are authoritative
// locally, so pushes succeed without network access.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"feedsync/internal/domain/entity"
	"feedsync/internal/provider"
	"feedsync/internal/repository"
)

// Config configures a Provider.
type Config struct {
	AccountID string
	Feeds     repository.FeedStore
	Parser    provider.FeedParser
	Logger    *slog.Logger
	Now       func() time.Time
}

// Provider pulls one subscribed feed per page.
type Provider struct {
	accountID string
	feeds     repository.FeedStore
	parser    provider.FeedParser
	logger    *slog.Logger
	now       func() time.Time
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.FolderRenamer = (*Provider)(nil)
	_ provider.FeedMover     = (*Provider)(nil)
	_ provider.FeedCreator   = (*Provider)(nil)
)

// New creates a local provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Feeds == nil || cfg.Parser == nil {
		return nil, errors.New("local: feed store and parser are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{
		accountID: cfg.AccountID,
		feeds:     cfg.Feeds,
		parser:    cfg.Parser,
		logger:    cfg.Logger.With(slog.String("account_id", cfg.AccountID)),
		now:       cfg.Now,
	}, nil
}

// cursor is the position inside a refresh pass: the pass start time and
// the ID of the last feed pulled. Feeds are visited in ID order, so feeds
// added or removed during a pass never shift the position.
type cursor struct {
	Pass  int64  `json:"pass,omitempty"`
	After string `json:"after,omitempty"`
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	if s == "" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return cursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	return c, nil
}

func (c cursor) encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

// Kind implements provider.Provider.
func (p *Provider) Kind() entity.ProviderKind { return entity.ProviderLocal }

// PullChanges implements provider.Provider. A feed that fails to download
// is logged and skipped; the pass continues with the next feed.
func (p *Provider) PullChanges(ctx context.Context, raw string) (provider.Page, error) {
	cur, err := decodeCursor(raw)
	if err != nil {
		p.logger.Warn("discarding unreadable cursor, starting a new pass",
			slog.String("cursor", raw),
			slog.Any("error", err))
		cur = cursor{}
	}
	if cur.Pass == 0 {
		cur.Pass = p.now().Unix()
	}

	feeds, err := p.feeds.List(ctx)
	if err != nil {
		return provider.Page{}, fmt.Errorf("PullChanges: %w", err)
	}
	slices.SortFunc(feeds, func(a, b *entity.Feed) int { return strings.Compare(a.ID, b.ID) })

	next := 0
	if cur.After != "" {
		next, _ = slices.BinarySearchFunc(feeds, cur.After, func(f *entity.Feed, id string) int {
			return strings.Compare(f.ID, id)
		})
		if next < len(feeds) && feeds[next].ID == cur.After {
			next++
		}
	}
	if next >= len(feeds) {
		return provider.Page{HasMore: false}, nil
	}

	feed := feeds[next]
	page := provider.Page{}

	parsed, err := p.parser.ParseURL(ctx, feed.URL)
	switch {
	case err == nil:
		page.Items, page.Corrupt = remoteItems(feed, parsed)
	case ctx.Err() != nil:
		return provider.Page{}, fmt.Errorf("PullChanges: %w", ctx.Err())
	default:
		p.logger.Warn("feed download failed, skipping",
			slog.String("feed_id", feed.ID),
			slog.String("url", feed.URL),
			slog.Any("error", err))
	}

	if next+1 < len(feeds) {
		page.Cursor = cursor{Pass: cur.Pass, After: feed.ID}.encode()
		page.HasMore = true
	}
	return page, nil
}

func remoteItems(feed *entity.Feed, parsed *provider.ParsedFeed) ([]provider.RemoteItem, []*entity.CorruptionError) {
	items := make([]provider.RemoteItem, 0, len(parsed.Items))
	var corrupt []*entity.CorruptionError
	for _, it := range parsed.Items {
		if it.UniqueID == "" {
			corrupt = append(corrupt, &entity.CorruptionError{
				ItemID: it.Title,
				Err:    errors.New("item has neither guid nor link"),
			})
			continue
		}
		it.FeedURL = feed.URL
		items = append(items, provider.RemoteItem{FeedID: feed.ID, Item: it})
	}
	return items, corrupt
}

// PushStatus implements provider.Provider. Local statuses are the source of
// truth, so there is nothing to send.
func (p *Provider) PushStatus(context.Context, []string, entity.StatusKey, bool) error {
	return nil
}

// RenameFolder implements provider.FolderRenamer.
func (p *Provider) RenameFolder(ctx context.Context, folder *entity.Folder, newName string) error {
	renamed := *folder
	renamed.Name = newName
	if err := p.feeds.SaveFolder(ctx, &renamed); err != nil {
		return fmt.Errorf("RenameFolder: %w", err)
	}
	return nil
}

// MoveFeed implements provider.FeedMover.
func (p *Provider) MoveFeed(ctx context.Context, feed *entity.Feed, from, to *entity.Folder) error {
	stored, err := p.feeds.Get(ctx, feed.ID)
	if err != nil {
		return fmt.Errorf("MoveFeed: %w", err)
	}
	folderIDs := stored.FolderIDs
	if from != nil {
		folderIDs = slices.DeleteFunc(folderIDs, func(id string) bool { return id == from.ID })
	}
	if to != nil && !slices.Contains(folderIDs, to.ID) {
		folderIDs = append(folderIDs, to.ID)
	}
	stored.FolderIDs = folderIDs
	if err := p.feeds.Save(ctx, stored); err != nil {
		return fmt.Errorf("MoveFeed: %w", err)
	}
	return nil
}

// CreateFeed implements provider.FeedCreator. The feed is downloaded once
// to validate it and to pick up its title when name is empty.
func (p *Provider) CreateFeed(ctx context.Context, url, name string, folder *entity.Folder) (*entity.Feed, error) {
	if err := entity.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("CreateFeed: %w", err)
	}
	parsed, err := p.parser.ParseURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("CreateFeed %s: %w", url, err)
	}

	feed := &entity.Feed{ID: url, URL: url, Name: name, HomePage: parsed.HomePageURL}
	if feed.Name == "" {
		feed.Name = parsed.Title
	}
	if folder != nil {
		feed.FolderIDs = []string{folder.ID}
	}
	if err := p.feeds.Save(ctx, feed); err != nil {
		return nil, fmt.Errorf("CreateFeed: %w", err)
	}
	return feed, nil
}
