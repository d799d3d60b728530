package account

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain/entity"
	"feedsync/internal/events"
	"feedsync/internal/provider"
	"feedsync/internal/provider/providertest"
	"feedsync/internal/repository"
)

func fakeFactory(_ context.Context, acct *entity.Account, _ repository.FeedStore) (provider.Provider, error) {
	f := providertest.NewFake(nil)
	f.ProviderKind = acct.Kind
	return f, nil
}

func newTestRegistry(t *testing.T, factory ProviderFactory) (*Registry, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	r := NewRegistry(Options{DataDir: dir, NewProvider: factory}, events.NewBus(), nil)
	t.Cleanup(func() { _ = r.Close() })
	return r, dir
}

func TestRegistry_AddGetList(t *testing.T) {
	r, dir := newTestRegistry(t, fakeFactory)
	ctx := context.Background()

	first, err := r.Add(ctx, &entity.Account{ID: "local-1", Kind: entity.ProviderLocal, Active: true})
	require.NoError(t, err)
	_, err = r.Add(ctx, &entity.Account{ID: "remote-1", Kind: entity.ProviderReaderAPI, Endpoint: "https://rss.example.com/api", Active: false})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "local-1.db"), first.Path())
	assert.FileExists(t, first.Path())
	assert.Equal(t, entity.ProviderLocal, first.Provider.Kind())

	got, ok := r.Get("local-1")
	require.True(t, ok)
	assert.Same(t, first, got)

	ids := func(accounts []*Account) []string {
		var out []string
		for _, a := range accounts {
			out = append(out, a.ID)
		}
		return out
	}
	assert.Equal(t, []string{"local-1", "remote-1"}, ids(r.List()))
	assert.Equal(t, []string{"local-1"}, ids(r.Active()))
}

func TestRegistry_AddRejectsDuplicatesAndInvalid(t *testing.T) {
	r, _ := newTestRegistry(t, fakeFactory)
	ctx := context.Background()

	_, err := r.Add(ctx, &entity.Account{ID: "a", Kind: entity.ProviderLocal, Active: true})
	require.NoError(t, err)

	_, err = r.Add(ctx, &entity.Account{ID: "a", Kind: entity.ProviderLocal, Active: true})
	assert.ErrorIs(t, err, ErrAccountExists)

	_, err = r.Add(ctx, &entity.Account{ID: "b", Kind: "imap"})
	var ve *entity.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRegistry_ProviderFailureClosesDatabase(t *testing.T) {
	boom := errors.New("no endpoint")
	r, _ := newTestRegistry(t, func(context.Context, *entity.Account, repository.FeedStore) (provider.Provider, error) {
		return nil, boom
	})

	_, err := r.Add(context.Background(), &entity.Account{ID: "a", Kind: entity.ProviderLocal, Active: true})
	assert.ErrorIs(t, err, boom)
	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Empty(t, r.List())
}

func TestRegistry_RemoveDeletesFile(t *testing.T) {
	r, _ := newTestRegistry(t, fakeFactory)
	ctx := context.Background()

	a, err := r.Add(ctx, &entity.Account{ID: "gone", Kind: entity.ProviderLocal, Active: true})
	require.NoError(t, err)
	require.NoError(t, a.Cursors.Save(ctx, "c1"))

	require.NoError(t, r.Remove("gone"))
	_, statErr := os.Stat(a.Path())
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	_, ok := r.Get("gone")
	assert.False(t, ok)

	assert.ErrorIs(t, r.Remove("gone"), entity.ErrNotFound)
}

func TestRegistry_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	acct := &entity.Account{ID: "persist", Kind: entity.ProviderLocal, Active: true}

	r1 := NewRegistry(Options{DataDir: dir, NewProvider: fakeFactory}, events.NewBus(), nil)
	a, err := r1.Add(ctx, acct)
	require.NoError(t, err)
	require.NoError(t, a.Cursors.Save(ctx, "page-7"))
	require.NoError(t, r1.Close())

	r2 := NewRegistry(Options{DataDir: dir, NewProvider: fakeFactory}, events.NewBus(), nil)
	defer func() { _ = r2.Close() }()
	a, err = r2.Add(ctx, acct)
	require.NoError(t, err)
	cursor, err := a.Cursors.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "page-7", cursor)
}

func TestAccount_SeedFeeds(t *testing.T) {
	r, _ := newTestRegistry(t, fakeFactory)
	ctx := context.Background()

	a, err := r.Add(ctx, &entity.Account{ID: "seed", Kind: entity.ProviderLocal, Active: true})
	require.NoError(t, err)

	feeds := []*entity.Feed{
		{ID: "https://a.example/rss", URL: "https://a.example/rss", Name: "A", FolderIDs: []string{"Tech"}},
		{ID: "https://b.example/rss", URL: "https://b.example/rss", Name: "B"},
	}
	folders := []*entity.Folder{{ID: "Tech", Name: "Tech"}}
	require.NoError(t, a.SeedFeeds(ctx, feeds, folders))

	renamed := *feeds[0]
	renamed.Name = "A (renamed)"
	require.NoError(t, a.Feeds.Save(ctx, &renamed))

	// seeding again leaves existing entries alone
	require.NoError(t, a.SeedFeeds(ctx, feeds, folders))

	stored, err := a.Feeds.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	got, err := a.Feeds.Get(ctx, "https://a.example/rss")
	require.NoError(t, err)
	assert.Equal(t, "A (renamed)", got.Name)
	assert.Equal(t, []string{"Tech"}, got.FolderIDs)

	storedFolders, err := a.Feeds.Folders(ctx)
	require.NoError(t, err)
	assert.Len(t, storedFolders, 1)
}

func TestDefaultProviders(t *testing.T) {
	factory := DefaultProviders(ProviderConfig{Credentials: staticCredentials{}})
	ctx := context.Background()

	p, err := factory(ctx, &entity.Account{ID: "l", Kind: entity.ProviderLocal}, nil)
	require.Error(t, err, "local provider needs a feed store")
	assert.Nil(t, p)

	r, _ := newTestRegistry(t, factory)
	local, err := r.Add(ctx, &entity.Account{ID: "l", Kind: entity.ProviderLocal, Active: true})
	require.NoError(t, err)
	assert.Equal(t, entity.ProviderLocal, local.Provider.Kind())
	assert.True(t, provider.CapabilitiesOf(local.Provider).MoveFeed)

	remote, err := r.Add(ctx, &entity.Account{ID: "r", Kind: entity.ProviderReaderAPI, Endpoint: "https://rss.example.com/api/greader.php", Active: true})
	require.NoError(t, err)
	assert.Equal(t, entity.ProviderReaderAPI, remote.Provider.Kind())
	assert.True(t, provider.CapabilitiesOf(remote.Provider).FetchArticles)

	_, err = factory(ctx, &entity.Account{ID: "x", Kind: "imap"}, nil)
	assert.Error(t, err)
}

type staticCredentials struct{}

func (staticCredentials) Credentials(context.Context, string) (provider.Credentials, error) {
	return provider.Credentials{Token: "t"}, nil
}
