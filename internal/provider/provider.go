// Package provider defines the contract every remote sync service implements
// and the optional capabilities an adapter may add on top of it.
//
// The reconciliation engine only depends on Provider. Operations that not
// every service supports (folder rename, feed move, subscribe, fetching
// individual articles) are separate interfaces; the helpers in this package
// dispatch on them and return *entity.UnsupportedError when the adapter
// lacks the capability.
package provider

import (
	"context"
	"errors"
	"strings"

	"feedsync/internal/domain/entity"
)

// ErrNoCredentials is returned by a CredentialStore that holds nothing for an account.
var ErrNoCredentials = errors.New("no credentials")

// Provider is implemented by every remote service adapter.
type Provider interface {
	// Kind identifies the adapter.
	Kind() entity.ProviderKind
	// PullChanges returns the page following cursor. An empty cursor starts
	// a new pass. PullChanges must be restartable from any cursor it
	// returned earlier.
	PullChanges(ctx context.Context, cursor string) (Page, error)
	// PushStatus sets key=flag on articleIDs remotely. Pushing a value the
	// remote already holds succeeds.
	PushStatus(ctx context.Context, articleIDs []string, key entity.StatusKey, flag bool) error
}

// RemoteItem is an item together with the feed it belongs to.
type RemoteItem struct {
	FeedID string
	Item   entity.ParsedItem
}

// StatusDelta reports articles whose key is flag on the remote.
type StatusDelta struct {
	Key        entity.StatusKey
	Flag       bool
	ArticleIDs []string
}

// StatusSnapshot is the complete remote set of articles whose key is flag.
// Local articles outside the set hold !flag remotely.
type StatusSnapshot struct {
	Key        entity.StatusKey
	Flag       bool
	ArticleIDs []string
}

// Page is one unit of pulled changes. Everything in a page is applied before
// Cursor is saved.
type Page struct {
	Items        []RemoteItem
	StatusDeltas []StatusDelta
	Snapshots    []StatusSnapshot
	// Feeds, when non-nil, is the complete subscription list.
	Feeds   []*entity.Feed
	Folders []*entity.Folder
	// Corrupt lists items that could not be mapped and were left out of Items.
	Corrupt []*entity.CorruptionError
	Cursor  string
	HasMore bool
}

// IsEmpty reports whether the page carries no changes.
func (p *Page) IsEmpty() bool {
	return len(p.Items) == 0 && len(p.StatusDeltas) == 0 && len(p.Snapshots) == 0 &&
		p.Feeds == nil && len(p.Folders) == 0
}

// ItemsByFeed groups the page's items by feed ID.
func (p *Page) ItemsByFeed() map[string][]entity.ParsedItem {
	out := make(map[string][]entity.ParsedItem)
	for _, it := range p.Items {
		out[it.FeedID] = append(out[it.FeedID], it.Item)
	}
	return out
}

// FolderRenamer renames a folder on the remote.
type FolderRenamer interface {
	RenameFolder(ctx context.Context, folder *entity.Folder, newName string) error
}

// FolderDeleter deletes a folder on the remote. Its feeds move to the top level.
type FolderDeleter interface {
	DeleteFolder(ctx context.Context, folder *entity.Folder) error
}

// FeedMover moves a feed between folders on the remote. from may be nil when
// the feed is at the top level.
type FeedMover interface {
	MoveFeed(ctx context.Context, feed *entity.Feed, from, to *entity.Folder) error
}

// FeedCreator subscribes to a feed on the remote. folder may be nil.
type FeedCreator interface {
	CreateFeed(ctx context.Context, url, name string, folder *entity.Folder) (*entity.Feed, error)
}

// ArticleFetcher downloads individual articles by ID.
type ArticleFetcher interface {
	FetchArticles(ctx context.Context, articleIDs []string) ([]RemoteItem, []*entity.CorruptionError, error)
}

// Capability names used in UnsupportedError.
const (
	CapabilityRenameFolder  = "rename_folder"
	CapabilityDeleteFolder  = "delete_folder"
	CapabilityMoveFeed      = "move_feed"
	CapabilityCreateFeed    = "create_feed"
	CapabilityFetchArticles = "fetch_articles"
)

// RenameFolder renames folder through p.
func RenameFolder(ctx context.Context, p Provider, folder *entity.Folder, newName string) error {
	switch c := p.(type) {
	case FolderRenamer:
		return c.RenameFolder(ctx, folder, newName)
	default:
		return unsupported(p, CapabilityRenameFolder)
	}
}

// DeleteFolder deletes folder through p.
func DeleteFolder(ctx context.Context, p Provider, folder *entity.Folder) error {
	switch c := p.(type) {
	case FolderDeleter:
		return c.DeleteFolder(ctx, folder)
	default:
		return unsupported(p, CapabilityDeleteFolder)
	}
}

// MoveFeed moves feed from one folder to another through p.
func MoveFeed(ctx context.Context, p Provider, feed *entity.Feed, from, to *entity.Folder) error {
	switch c := p.(type) {
	case FeedMover:
		return c.MoveFeed(ctx, feed, from, to)
	default:
		return unsupported(p, CapabilityMoveFeed)
	}
}

// CreateFeed subscribes to url through p.
func CreateFeed(ctx context.Context, p Provider, url, name string, folder *entity.Folder) (*entity.Feed, error) {
	switch c := p.(type) {
	case FeedCreator:
		return c.CreateFeed(ctx, url, name, folder)
	default:
		return nil, unsupported(p, CapabilityCreateFeed)
	}
}

// FetchArticles downloads articleIDs through p.
func FetchArticles(ctx context.Context, p Provider, articleIDs []string) ([]RemoteItem, []*entity.CorruptionError, error) {
	switch c := p.(type) {
	case ArticleFetcher:
		return c.FetchArticles(ctx, articleIDs)
	default:
		return nil, nil, unsupported(p, CapabilityFetchArticles)
	}
}

// Capabilities lists the optional capabilities of an adapter.
type Capabilities struct {
	RenameFolder  bool
	DeleteFolder  bool
	MoveFeed      bool
	CreateFeed    bool
	FetchArticles bool
}

// CapabilitiesOf inspects p.
func CapabilitiesOf(p Provider) Capabilities {
	_, rename := p.(FolderRenamer)
	_, del := p.(FolderDeleter)
	_, move := p.(FeedMover)
	_, create := p.(FeedCreator)
	_, fetch := p.(ArticleFetcher)
	return Capabilities{
		RenameFolder:  rename,
		DeleteFolder:  del,
		MoveFeed:      move,
		CreateFeed:    create,
		FetchArticles: fetch,
	}
}

// String lists the supported capabilities, e.g. "rename_folder,move_feed".
func (c Capabilities) String() string {
	var names []string
	if c.RenameFolder {
		names = append(names, CapabilityRenameFolder)
	}
	if c.DeleteFolder {
		names = append(names, CapabilityDeleteFolder)
	}
	if c.MoveFeed {
		names = append(names, CapabilityMoveFeed)
	}
	if c.CreateFeed {
		names = append(names, CapabilityCreateFeed)
	}
	if c.FetchArticles {
		names = append(names, CapabilityFetchArticles)
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

func unsupported(p Provider, capability string) error {
	return &entity.UnsupportedError{Provider: p.Kind(), Capability: capability}
}

// ParsedFeed is the result of parsing a raw feed document.
type ParsedFeed struct {
	Title       string
	HomePageURL string
	Items       []entity.ParsedItem
}

// FeedParser downloads and parses a feed document.
type FeedParser interface {
	ParseURL(ctx context.Context, url string) (*ParsedFeed, error)
}

// Credentials authenticate an account against its remote service. Token,
// when set, is used as is; otherwise Username and Password are exchanged
// for one.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// IsEmpty reports whether c holds nothing usable.
func (c Credentials) IsEmpty() bool {
	return c.Token == "" && (c.Username == "" || c.Password == "")
}

// CredentialStore looks up credentials. Implementations never persist them
// on behalf of the sync core.
type CredentialStore interface {
	Credentials(ctx context.Context, accountID string) (Credentials, error)
}
