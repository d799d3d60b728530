// Package account owns the set of configured accounts and everything opened
// on their behalf: the database queue, the stores and the provider.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"feedsync/internal/domain/entity"
	"feedsync/internal/events"
	"feedsync/internal/infra/adapter/persistence/sqlite"
	"feedsync/internal/infra/db"
	"feedsync/internal/provider"
	"feedsync/internal/repository"
	"feedsync/internal/resilience/retry"
)

// ErrAccountExists is returned by Add for an ID that is already registered.
var ErrAccountExists = errors.New("account already registered")

// ProviderFactory builds the provider of an account. feeds is the
// account's own feed store.
type ProviderFactory func(ctx context.Context, account *entity.Account, feeds repository.FeedStore) (provider.Provider, error)

// Options configures a Registry.
type Options struct {
	DataDir     string
	Connection  db.ConnectionConfig
	NewProvider ProviderFactory
}

// Account is a registered account with its opened resources.
type Account struct {
	*entity.Account

	Queue    *db.Queue
	Articles *sqlite.ArticleStore
	Outbox   *sqlite.Outbox
	Cursors  *sqlite.CursorStore
	Feeds    *sqlite.FeedStore
	Provider provider.Provider

	path string
}

// Path is the account's database file.
func (a *Account) Path() string { return a.path }

// SeedFeeds stores feeds and folders that are not known yet. Existing
// entries are left untouched.
func (a *Account) SeedFeeds(ctx context.Context, feeds []*entity.Feed, folders []*entity.Folder) error {
	known, err := a.Feeds.Folders(ctx)
	if err != nil {
		return fmt.Errorf("SeedFeeds: %w", err)
	}
	for _, folder := range folders {
		if slices.ContainsFunc(known, func(f *entity.Folder) bool { return f.ID == folder.ID }) {
			continue
		}
		if err := a.Feeds.SaveFolder(ctx, folder); err != nil {
			return fmt.Errorf("SeedFeeds: %w", err)
		}
	}

	for _, feed := range feeds {
		_, err := a.Feeds.Get(ctx, feed.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return fmt.Errorf("SeedFeeds: %w", err)
		}
		if err := a.Feeds.Save(ctx, feed); err != nil {
			return fmt.Errorf("SeedFeeds: %w", err)
		}
	}
	return nil
}

// Registry is the explicit set of accounts of one process. Accounts are
// kept in the order they were added.
type Registry struct {
	opts   Options
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[string]*Account
	order    []string
}

// NewRegistry creates an empty registry. Stores publish to bus.
func NewRegistry(opts Options, bus *events.Bus, logger *slog.Logger) *Registry {
	if opts.Connection == (db.ConnectionConfig{}) {
		opts.Connection = db.DefaultConnectionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		opts:     opts,
		bus:      bus,
		logger:   logger,
		accounts: make(map[string]*Account),
	}
}

// Bus is the event bus the account stores publish to.
func (r *Registry) Bus() *events.Bus { return r.bus }

// Add opens the account's database (creating it if needed), builds its
// stores and provider, and registers it.
func (r *Registry) Add(ctx context.Context, acct *entity.Account) (*Account, error) {
	if err := acct.Validate(); err != nil {
		return nil, fmt.Errorf("Add: %w", err)
	}
	if r.opts.NewProvider == nil {
		return nil, errors.New("Add: no provider factory configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[acct.ID]; ok {
		return nil, fmt.Errorf("Add %s: %w", acct.ID, ErrAccountExists)
	}

	if err := os.MkdirAll(r.opts.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("Add: create data dir: %w", err)
	}
	path := filepath.Join(r.opts.DataDir, acct.DatabaseFileName())

	var queue *db.Queue
	err := retry.WithBackoff(ctx, retry.DBConfig(), func() error {
		q, err := db.Open(ctx, path, r.opts.Connection)
		if err != nil {
			return &entity.RetryableError{Op: "open database", Err: err}
		}
		queue = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Add %s: %w", acct.ID, err)
	}

	a := &Account{
		Account:  acct,
		Queue:    queue,
		Articles: sqlite.NewArticleStore(queue, acct.ID, r.bus),
		Outbox:   sqlite.NewOutbox(queue),
		Cursors:  sqlite.NewCursorStore(queue),
		Feeds:    sqlite.NewFeedStore(queue),
		path:     path,
	}

	p, err := r.opts.NewProvider(ctx, acct, a.Feeds)
	if err != nil {
		_ = queue.Close()
		return nil, fmt.Errorf("Add %s: provider: %w", acct.ID, err)
	}
	a.Provider = p

	r.accounts[acct.ID] = a
	r.order = append(r.order, acct.ID)

	r.logger.Info("account registered",
		slog.String("account_id", acct.ID),
		slog.String("kind", string(acct.Kind)),
		slog.String("capabilities", provider.CapabilitiesOf(p).String()),
		slog.String("path", path))
	return a, nil
}

// Get returns a registered account.
func (r *Registry) Get(id string) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	return a, ok
}

// List returns every registered account in registration order.
func (r *Registry) List() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.accounts[id])
	}
	return out
}

// Active returns the registered accounts that are active.
func (r *Registry) Active() []*Account {
	all := r.List()
	return slices.DeleteFunc(all, func(a *Account) bool { return !a.Active })
}

// Remove unregisters an account, closes its database and deletes the file.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	a, ok := r.accounts[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("Remove %s: %w", id, entity.ErrNotFound)
	}
	delete(r.accounts, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	r.mu.Unlock()

	var errs []error
	if err := a.Queue.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(a.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("Remove %s: %w", id, err)
	}

	r.logger.Info("account removed", slog.String("account_id", id))
	return nil
}

// Close closes every account database.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, id := range r.order {
		if err := r.accounts[id].Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
