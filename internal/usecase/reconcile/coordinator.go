package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"feedsync/internal/domain/entity"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/usecase/account"
	"feedsync/internal/usecase/unread"
)

// RunRecorder receives the outcome of every scheduled refresh.
type RunRecorder interface {
	RecordRun(seconds float64, accounts int, failed bool)
}

// AccountState is a point-in-time view of one account's sync state.
type AccountState struct {
	ID        string
	Kind      entity.ProviderKind
	Halted    bool
	Suspended bool
	LastError error
}

// RefreshStats summarizes a RefreshAll.
type RefreshStats struct {
	Accounts int
	Failed   int
}

// Coordinator runs one engine per active account of a registry. Engines
// never share state, so a failing or halted account does not affect the
// others.
type Coordinator struct {
	registry   *account.Registry
	aggregator *unread.Aggregator
	cfg        Config
	logger     *slog.Logger
	recorder   RunRecorder

	mu      sync.RWMutex
	engines map[string]*Engine
	order   []string
	runCtx  context.Context
	loops   map[string]*engineLoop
	loopsWG sync.WaitGroup
}

// engineLoop is the trigger loop of one running engine.
type engineLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator creates engines for every active account in registry.
// aggregator and recorder may be nil.
func NewCoordinator(registry *account.Registry, aggregator *unread.Aggregator, cfg Config, recorder RunRecorder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		registry:   registry,
		aggregator: aggregator,
		cfg:        cfg,
		logger:     logger,
		recorder:   recorder,
		engines:    make(map[string]*Engine),
		loops:      make(map[string]*engineLoop),
	}
	if aggregator != nil {
		aggregator.SetSource(func(accountID string) (map[string]int, bool) {
			a, ok := registry.Get(accountID)
			if !ok {
				return nil, false
			}
			return a.Articles.UnreadCounts(), true
		})
	}
	for _, a := range registry.Active() {
		c.addEngine(a)
	}
	return c
}

// addEngine creates and registers the engine of a. It returns the context
// of a running coordinator, or nil before Run.
func (c *Coordinator) addEngine(a *account.Account) (*Engine, context.Context) {
	e := NewEngine(a.Account, Deps{
		Provider: a.Provider,
		Articles: a.Articles,
		Outbox:   a.Outbox,
		Cursors:  a.Cursors,
		Feeds:    a.Feeds,
		Vacuumer: a.Queue,
		Bus:      c.registry.Bus(),
	}, c.cfg, c.logger)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.engines[a.ID] = e
	c.order = append(c.order, a.ID)
	return e, c.runCtx
}

// launch prepares an engine, seeds the aggregator with its counts and
// starts its trigger loop under ctx.
func (c *Coordinator) launch(ctx context.Context, e *Engine) error {
	counts, err := e.Start(ctx)
	if err != nil {
		return fmt.Errorf("account %s: %w", e.AccountID(), err)
	}
	if c.aggregator != nil {
		c.aggregator.Seed(e.AccountID(), counts)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	loop := &engineLoop{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.loops[e.AccountID()] = loop
	c.mu.Unlock()

	c.loopsWG.Add(1)
	go func() {
		defer c.loopsWG.Done()
		defer close(loop.done)
		_ = e.Run(loopCtx)
	}()
	return nil
}

// Engine returns the engine of an account.
func (c *Coordinator) Engine(accountID string) (*Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.engines[accountID]
	return e, ok
}

func (c *Coordinator) list() []*Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Engine, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.engines[id])
	}
	return out
}

// Run starts every engine, runs an initial refresh and then refreshes on
// schedule until ctx is cancelled. An empty schedule disables periodic
// refreshes. A scheduled refresh still running when the next one is due
// makes the scheduler skip that tick.
func (c *Coordinator) Run(ctx context.Context, schedule string) error {
	var scheduler *cron.Cron
	if schedule != "" {
		scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{c.logger})))
		if _, err := scheduler.AddFunc(schedule, func() { c.scheduledRefresh(ctx) }); err != nil {
			return fmt.Errorf("Run: schedule %q: %w", schedule, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.runCtx = nil
		clear(c.loops)
		c.mu.Unlock()
	}()

	for _, e := range c.list() {
		if err := c.launch(ctx, e); err != nil {
			cancel()
			c.loopsWG.Wait()
			return fmt.Errorf("Run: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if c.aggregator != nil {
		g.Go(func() error { return c.aggregator.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		c.loopsWG.Wait()
		return nil
	})

	if scheduler != nil {
		scheduler.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-scheduler.Stop().Done()
			return nil
		})
	}

	c.TriggerAll()
	c.logger.Info("sync coordinator started",
		slog.Int("accounts", len(c.list())),
		slog.String("schedule", schedule))

	return g.Wait()
}

// AddAccount registers an account and, when it is active, creates its
// engine. On a running coordinator the engine starts syncing right away.
func (c *Coordinator) AddAccount(ctx context.Context, acct *entity.Account) (*account.Account, error) {
	a, err := c.registry.Add(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("AddAccount: %w", err)
	}
	if !a.Active {
		return a, nil
	}

	e, runCtx := c.addEngine(a)
	if runCtx == nil {
		return a, nil
	}
	if err := c.launch(runCtx, e); err != nil {
		return a, fmt.Errorf("AddAccount: %w", err)
	}
	e.Trigger()
	return a, nil
}

// RemoveAccount stops the account's engine, drops its unread counts and
// deletes the account with its database.
func (c *Coordinator) RemoveAccount(accountID string) error {
	c.mu.Lock()
	e := c.engines[accountID]
	loop := c.loops[accountID]
	delete(c.engines, accountID)
	delete(c.loops, accountID)
	c.order = slices.DeleteFunc(c.order, func(id string) bool { return id == accountID })
	c.mu.Unlock()

	if loop != nil {
		loop.cancel()
		<-loop.done
	}
	if e != nil {
		e.Stop()
	}
	if c.aggregator != nil {
		c.aggregator.RemoveAccount(accountID)
	}

	if err := c.registry.Remove(accountID); err != nil {
		return fmt.Errorf("RemoveAccount: %w", err)
	}
	metrics.SetAccountHalted(accountID, false)
	return nil
}

// TriggerAll requests a cycle on every engine without waiting.
func (c *Coordinator) TriggerAll() {
	for _, e := range c.list() {
		e.Trigger()
	}
}

// RefreshAll runs one cycle on every engine that is not halted, all
// accounts concurrently, and waits for them. One account's failure does not
// cancel the others; the failures are joined into the returned error.
func (c *Coordinator) RefreshAll(ctx context.Context) (RefreshStats, error) {
	var (
		stats RefreshStats
		mu    sync.Mutex
		errs  []error
		g     errgroup.Group
	)

	for _, e := range c.list() {
		if e.HaltError() != nil {
			continue
		}
		g.Go(func() error {
			_, err := e.RunCycle(ctx)
			if errors.Is(err, ErrEngineStopped) {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			stats.Accounts++
			if err != nil {
				stats.Failed++
				errs = append(errs, fmt.Errorf("account %s: %w", e.AccountID(), err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return stats, errors.Join(errs...)
}

// MarkArticles changes statuses in one account and queues the changes for push.
func (c *Coordinator) MarkArticles(ctx context.Context, accountID string, articleIDs []string, key entity.StatusKey, flag bool) ([]entity.ArticleStatus, error) {
	e, ok := c.Engine(accountID)
	if !ok {
		return nil, fmt.Errorf("MarkArticles %s: %w", accountID, entity.ErrNotFound)
	}
	return e.MarkArticles(ctx, articleIDs, key, flag)
}

// Suspend closes every account database. Work started afterwards fails fast
// with entity.ErrSuspended until Resume.
func (c *Coordinator) Suspend() error {
	var errs []error
	for _, a := range c.registry.List() {
		if err := a.Queue.Suspend(); err != nil {
			errs = append(errs, fmt.Errorf("suspend %s: %w", a.ID, err))
		}
		metrics.SetStorageSuspended(a.ID, true)
	}
	c.logger.Info("storage suspended for all accounts")
	return errors.Join(errs...)
}

// Resume reopens every account database and triggers a cycle.
func (c *Coordinator) Resume(ctx context.Context) error {
	var errs []error
	for _, a := range c.registry.List() {
		if err := a.Queue.Resume(ctx); err != nil {
			errs = append(errs, fmt.Errorf("resume %s: %w", a.ID, err))
			continue
		}
		metrics.SetStorageSuspended(a.ID, false)
	}
	c.logger.Info("storage resumed")
	c.TriggerAll()
	return errors.Join(errs...)
}

// ResumeAccount clears an authentication halt of one account.
func (c *Coordinator) ResumeAccount(accountID string) error {
	e, ok := c.Engine(accountID)
	if !ok {
		return fmt.Errorf("ResumeAccount %s: %w", accountID, entity.ErrNotFound)
	}
	e.Resume()
	return nil
}

// States reports the sync state of every account.
func (c *Coordinator) States() []AccountState {
	var out []AccountState
	for _, a := range c.registry.List() {
		st := AccountState{ID: a.ID, Kind: a.Kind, Suspended: a.Queue.IsSuspended()}
		if e, ok := c.Engine(a.ID); ok {
			halt := e.HaltError()
			st.Halted = halt != nil
			st.LastError = e.LastError()
			if halt != nil {
				st.LastError = halt
			}
		}
		out = append(out, st)
	}
	return out
}

// cronLogger reports scheduler messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("scheduler: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("scheduler: "+msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
