package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain/entity"
	"feedsync/internal/events"
	"feedsync/internal/provider"
	"feedsync/internal/provider/providertest"
	"feedsync/internal/repository"
	"feedsync/internal/usecase/account"
	"feedsync/internal/usecase/unread"
)

type fakeSet struct {
	mu    sync.Mutex
	fakes map[string]*providertest.Fake
	pages map[string]map[string]provider.Page
}

func (s *fakeSet) factory(_ context.Context, acct *entity.Account, _ repository.FeedStore) (provider.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := providertest.NewFake(s.pages[acct.ID])
	f.ProviderKind = acct.Kind
	s.fakes[acct.ID] = f
	return f, nil
}

func (s *fakeSet) get(id string) *providertest.Fake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fakes[id]
}

type runRecorder struct {
	mu   sync.Mutex
	runs int
}

func (r *runRecorder) RecordRun(float64, int, bool) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
}

func (r *runRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func newTestCoordinator(t *testing.T, pages map[string]map[string]provider.Page, ids ...string) (*Coordinator, *account.Registry, *fakeSet) {
	t.Helper()
	fakes := &fakeSet{fakes: make(map[string]*providertest.Fake), pages: pages}
	bus := events.NewBus()
	reg := account.NewRegistry(account.Options{
		DataDir:     filepath.Join(t.TempDir(), "data"),
		NewProvider: fakes.factory,
	}, bus, nil)
	t.Cleanup(func() { _ = reg.Close() })

	for _, id := range ids {
		_, err := reg.Add(context.Background(), &entity.Account{ID: id, Kind: entity.ProviderLocal, Active: true})
		require.NoError(t, err)
	}
	return NewCoordinator(reg, unread.NewAggregator(bus, nil), testConfig(), &runRecorder{}, nil), reg, fakes
}

func onePage(items ...provider.RemoteItem) map[string]provider.Page {
	return map[string]provider.Page{"": {Feeds: []*entity.Feed{feed("f1")}, Items: items, Cursor: "c1"}}
}

func TestCoordinator_RefreshAllIsolatesAccounts(t *testing.T) {
	c, _, fakes := newTestCoordinator(t, map[string]map[string]provider.Page{
		"one": onePage(remote("f1", "a1")),
		"two": onePage(remote("f1", "b1")),
	}, "one", "two", "three")

	fakes.get("two").SetPullErr(func(string) error { return errors.New("bad gateway") })

	stats, err := c.RefreshAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, RefreshStats{Accounts: 3, Failed: 1}, stats)
	assert.Contains(t, err.Error(), "account two")

	e, ok := c.Engine("one")
	require.True(t, ok)
	assert.NoError(t, e.LastError())
	assert.Len(t, fakes.get("one").Pulls(), 1)
	assert.Len(t, fakes.get("three").Pulls(), 1)
}

func TestCoordinator_RefreshAllSkipsHaltedAccounts(t *testing.T) {
	c, _, fakes := newTestCoordinator(t, nil, "one", "two")
	ctx := context.Background()

	fakes.get("one").SetPullErr(func(string) error {
		return &entity.AuthError{AccountID: "one", Err: errors.New("401")}
	})
	_, err := c.RefreshAll(ctx)
	require.Error(t, err)

	stats, err := c.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshStats{Accounts: 1}, stats)
	assert.Len(t, fakes.get("one").Pulls(), 1)

	states := c.States()
	require.Len(t, states, 2)
	assert.True(t, states[0].Halted)
	assert.Error(t, states[0].LastError)
	assert.False(t, states[1].Halted)

	fakes.get("one").SetPullErr(nil)
	require.NoError(t, c.ResumeAccount("one"))
	stats, err = c.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Accounts)

	assert.ErrorIs(t, c.ResumeAccount("missing"), entity.ErrNotFound)
}

func TestCoordinator_MarkArticles(t *testing.T) {
	c, reg, fakes := newTestCoordinator(t, map[string]map[string]provider.Page{
		"one": onePage(remote("f1", "a1")),
	}, "one")
	ctx := context.Background()

	_, err := c.RefreshAll(ctx)
	require.NoError(t, err)

	changed, err := c.MarkArticles(ctx, "one", []string{"a1"}, entity.StatusStarred, true)
	require.NoError(t, err)
	assert.Len(t, changed, 1)

	a, ok := reg.Get("one")
	require.True(t, ok)
	n, err := a.Outbox.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, fakes.get("one").PushedIDs(entity.StatusStarred, true))

	_, err = c.MarkArticles(ctx, "missing", []string{"a1"}, entity.StatusRead, true)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestCoordinator_SuspendAndResume(t *testing.T) {
	c, _, _ := newTestCoordinator(t, nil, "one", "two")
	ctx := context.Background()

	require.NoError(t, c.Suspend())
	for _, st := range c.States() {
		assert.True(t, st.Suspended, st.ID)
	}

	_, err := c.RefreshAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrSuspended)

	require.NoError(t, c.Resume(ctx))
	for _, st := range c.States() {
		assert.False(t, st.Suspended, st.ID)
	}
	_, err = c.RefreshAll(ctx)
	require.NoError(t, err)
}

func TestCoordinator_InactiveAccountsHaveNoEngine(t *testing.T) {
	c, reg, _ := newTestCoordinator(t, nil, "one")
	_, err := reg.Add(context.Background(), &entity.Account{ID: "off", Kind: entity.ProviderLocal})
	require.NoError(t, err)

	c2 := NewCoordinator(reg, nil, testConfig(), nil, nil)
	_, ok := c2.Engine("off")
	assert.False(t, ok)
	_, ok = c.Engine("one")
	assert.True(t, ok)
}

func TestCoordinator_RunFeedsAggregator(t *testing.T) {
	fakes := &fakeSet{fakes: make(map[string]*providertest.Fake), pages: map[string]map[string]provider.Page{
		"one": onePage(remote("f1", "a1"), remote("f1", "a2")),
		"two": onePage(remote("f1", "b1")),
	}}
	bus := events.NewBus()
	reg := account.NewRegistry(account.Options{
		DataDir:     filepath.Join(t.TempDir(), "data"),
		NewProvider: fakes.factory,
	}, bus, nil)
	t.Cleanup(func() { _ = reg.Close() })
	for _, id := range []string{"one", "two"} {
		_, err := reg.Add(context.Background(), &entity.Account{ID: id, Kind: entity.ProviderLocal, Active: true})
		require.NoError(t, err)
	}

	agg := unread.NewAggregator(bus, nil)
	recorder := &runRecorder{}
	c := NewCoordinator(reg, agg, testConfig(), recorder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, "@every 1s") }()

	require.Eventually(t, func() bool { return agg.Total() == 3 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, agg.AccountTotal("one"))
	assert.Equal(t, 1, agg.AccountTotal("two"))

	require.Eventually(t, func() bool { return recorder.count() >= 1 }, 3*time.Second, 20*time.Millisecond,
		"scheduled refresh must report its run")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestCoordinator_AddAndRemoveAccountWhileRunning(t *testing.T) {
	fakes := &fakeSet{fakes: make(map[string]*providertest.Fake), pages: map[string]map[string]provider.Page{
		"one": onePage(remote("f1", "a1")),
		"two": onePage(remote("f1", "b1"), remote("f1", "b2")),
	}}
	bus := events.NewBus()
	reg := account.NewRegistry(account.Options{
		DataDir:     filepath.Join(t.TempDir(), "data"),
		NewProvider: fakes.factory,
	}, bus, nil)
	t.Cleanup(func() { _ = reg.Close() })
	_, err := reg.Add(context.Background(), &entity.Account{ID: "one", Kind: entity.ProviderLocal, Active: true})
	require.NoError(t, err)

	agg := unread.NewAggregator(bus, nil)
	c := NewCoordinator(reg, agg, testConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, "") }()
	require.Eventually(t, func() bool { return agg.Total() == 1 }, 3*time.Second, 10*time.Millisecond)

	added, err := c.AddAccount(ctx, &entity.Account{ID: "two", Kind: entity.ProviderLocal, Active: true})
	require.NoError(t, err)
	_, ok := c.Engine("two")
	require.True(t, ok)
	require.Eventually(t, func() bool { return agg.AccountTotal("two") == 2 }, 3*time.Second, 10*time.Millisecond,
		"an account added at runtime must start syncing")
	assert.Equal(t, 3, agg.Total())

	require.NoError(t, c.RemoveAccount("two"))
	_, ok = c.Engine("two")
	assert.False(t, ok)
	_, ok = reg.Get("two")
	assert.False(t, ok)
	assert.NoFileExists(t, added.Path())
	assert.Equal(t, 1, agg.Total())
	assert.Equal(t, 0, agg.AccountTotal("two"))

	stats, err := c.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accounts)
	assert.Len(t, c.States(), 1)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestCoordinator_AddAccountBeforeRun(t *testing.T) {
	c, reg, _ := newTestCoordinator(t, map[string]map[string]provider.Page{
		"two": onePage(remote("f1", "b1")),
	}, "one")
	ctx := context.Background()

	_, err := c.AddAccount(ctx, &entity.Account{ID: "two", Kind: entity.ProviderLocal, Active: true})
	require.NoError(t, err)
	_, err = c.AddAccount(ctx, &entity.Account{ID: "off", Kind: entity.ProviderLocal})
	require.NoError(t, err)
	_, ok := c.Engine("off")
	assert.False(t, ok, "inactive accounts are registered without an engine")

	stats, err := c.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Accounts)

	_, err = c.AddAccount(ctx, &entity.Account{ID: "two", Kind: entity.ProviderLocal, Active: true})
	assert.ErrorIs(t, err, account.ErrAccountExists)

	require.NoError(t, c.RemoveAccount("off"))
	assert.ErrorIs(t, c.RemoveAccount("missing"), entity.ErrNotFound)
	assert.Len(t, reg.List(), 2)
}

func TestCoordinator_RunRejectsBadSchedule(t *testing.T) {
	c, _, _ := newTestCoordinator(t, nil, "one")
	err := c.Run(context.Background(), "not a schedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule")
}
