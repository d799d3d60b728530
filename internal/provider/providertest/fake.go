// Package providertest provides scriptable provider fakes for tests.
package providertest

import (
	"context"
	"slices"
	"sync"

	"feedsync/internal/domain/entity"
	"feedsync/internal/provider"
)

// PushCall records one PushStatus call.
type PushCall struct {
	ArticleIDs []string
	Key        entity.StatusKey
	Flag       bool
}

// Fake is a provider without optional capabilities. Pages are keyed by the
// cursor that requests them; an unknown cursor yields an empty final page.
type Fake struct {
	mu sync.Mutex

	ProviderKind entity.ProviderKind
	Pages        map[string]provider.Page
	// PullErr, when set, is consulted before every pull.
	PullErr func(cursor string) error
	// PushErr, when set, is consulted for every push.
	PushErr func(call PushCall) error

	pulls  []string
	pushes []PushCall
}

var _ provider.Provider = (*Fake)(nil)

// NewFake creates a fake serving pages.
func NewFake(pages map[string]provider.Page) *Fake {
	if pages == nil {
		pages = make(map[string]provider.Page)
	}
	return &Fake{ProviderKind: entity.ProviderReaderAPI, Pages: pages}
}

// Kind implements provider.Provider.
func (f *Fake) Kind() entity.ProviderKind {
	if f.ProviderKind == "" {
		return entity.ProviderReaderAPI
	}
	return f.ProviderKind
}

// PullChanges implements provider.Provider.
func (f *Fake) PullChanges(ctx context.Context, cursor string) (provider.Page, error) {
	if err := ctx.Err(); err != nil {
		return provider.Page{}, err
	}

	f.mu.Lock()
	f.pulls = append(f.pulls, cursor)
	pullErr := f.PullErr
	page, ok := f.Pages[cursor]
	f.mu.Unlock()

	if pullErr != nil {
		if err := pullErr(cursor); err != nil {
			return provider.Page{}, err
		}
	}
	if !ok {
		return provider.Page{Cursor: cursor}, nil
	}
	return page, nil
}

// PushStatus implements provider.Provider.
func (f *Fake) PushStatus(ctx context.Context, articleIDs []string, key entity.StatusKey, flag bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	call := PushCall{ArticleIDs: slices.Clone(articleIDs), Key: key, Flag: flag}

	f.mu.Lock()
	pushErr := f.PushErr
	f.mu.Unlock()
	if pushErr != nil {
		if err := pushErr(call); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.pushes = append(f.pushes, call)
	f.mu.Unlock()
	return nil
}

// SetPage installs the page returned for cursor.
func (f *Fake) SetPage(cursor string, page provider.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pages[cursor] = page
}

// SetPushErr replaces the push hook.
func (f *Fake) SetPushErr(fn func(call PushCall) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PushErr = fn
}

// SetPullErr replaces the pull hook.
func (f *Fake) SetPullErr(fn func(cursor string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PullErr = fn
}

// Pulls returns the cursors requested so far.
func (f *Fake) Pulls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.pulls)
}

// Pushes returns the successful pushes so far.
func (f *Fake) Pushes() []PushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.pushes)
}

// PushedIDs returns every article ID pushed with key=flag, in push order.
func (f *Fake) PushedIDs(key entity.StatusKey, flag bool) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, p := range f.pushes {
		if p.Key == key && p.Flag == flag {
			ids = append(ids, p.ArticleIDs...)
		}
	}
	return ids
}

// FullFake adds every optional capability to Fake.
type FullFake struct {
	*Fake

	Articles map[string]provider.RemoteItem

	mu      sync.Mutex
	renamed map[string]string
	deleted []string
	moves   []string
	created []string
	fetches [][]string
}

var (
	_ provider.FolderRenamer  = (*FullFake)(nil)
	_ provider.FolderDeleter  = (*FullFake)(nil)
	_ provider.FeedMover      = (*FullFake)(nil)
	_ provider.FeedCreator    = (*FullFake)(nil)
	_ provider.ArticleFetcher = (*FullFake)(nil)
)

// NewFullFake creates a fake with every capability.
func NewFullFake(pages map[string]provider.Page) *FullFake {
	return &FullFake{
		Fake:     NewFake(pages),
		Articles: make(map[string]provider.RemoteItem),
		renamed:  make(map[string]string),
	}
}

// RenameFolder implements provider.FolderRenamer.
func (f *FullFake) RenameFolder(_ context.Context, folder *entity.Folder, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed[folder.ID] = newName
	return nil
}

// DeleteFolder implements provider.FolderDeleter.
func (f *FullFake) DeleteFolder(_ context.Context, folder *entity.Folder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, folder.ID)
	return nil
}

// Deleted returns the IDs of deleted folders.
func (f *FullFake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

// MoveFeed implements provider.FeedMover.
func (f *FullFake) MoveFeed(_ context.Context, feed *entity.Feed, _, to *entity.Folder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dest := ""
	if to != nil {
		dest = to.ID
	}
	f.moves = append(f.moves, feed.ID+"->"+dest)
	return nil
}

// CreateFeed implements provider.FeedCreator.
func (f *FullFake) CreateFeed(_ context.Context, url, name string, folder *entity.Folder) (*entity.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, url)
	feed := &entity.Feed{ID: "feed/" + url, URL: url, Name: name}
	if folder != nil {
		feed.FolderIDs = []string{folder.ID}
	}
	return feed, nil
}

// FetchArticles implements provider.ArticleFetcher. Unknown IDs are skipped.
func (f *FullFake) FetchArticles(ctx context.Context, articleIDs []string) ([]provider.RemoteItem, []*entity.CorruptionError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, slices.Clone(articleIDs))

	var out []provider.RemoteItem
	for _, id := range articleIDs {
		if it, ok := f.Articles[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil, nil
}

// Renamed returns the new name given to folderID.
func (f *FullFake) Renamed(folderID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.renamed[folderID]
	return name, ok
}

// Moves returns "feedID->folderID" for every move.
func (f *FullFake) Moves() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.moves)
}

// Created returns the subscribed URLs.
func (f *FullFake) Created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.created)
}

// Fetches returns the ID lists passed to FetchArticles.
func (f *FullFake) Fetches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.fetches)
}
