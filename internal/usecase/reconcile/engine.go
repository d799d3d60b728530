// Package reconcile keeps each account's local store in step with its
// remote service: it pulls remote changes into the store and pushes the
// outbox of local status changes back.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"feedsync/internal/domain/entity"
	"feedsync/internal/events"
	"feedsync/internal/observability/logging"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/observability/tracing"
	"feedsync/internal/provider"
	"feedsync/internal/repository"
	"feedsync/internal/resilience/retry"
)

// Config tunes an Engine.
type Config struct {
	// PushBatchSize is the number of outbox rows pushed per SelectBatch.
	PushBatchSize int
	// PushThreshold triggers a cycle as soon as this many changes are pending.
	PushThreshold int
	// Retention is how long read, unstarred articles are kept.
	Retention time.Duration
	// CleanupInterval is the minimum time between two cleanups.
	CleanupInterval time.Duration
	// VacuumInterval is the minimum time between two VACUUMs.
	VacuumInterval time.Duration
	// MissingContentWindow bounds how far back statuses without articles
	// are fetched.
	MissingContentWindow time.Duration
	// PullRetry is the backoff applied to one page pull.
	PullRetry retry.Config
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		PushBatchSize:        100,
		PushThreshold:        100,
		Retention:            90 * 24 * time.Hour,
		CleanupInterval:      24 * time.Hour,
		VacuumInterval:       6 * 24 * time.Hour,
		MissingContentWindow: 30 * 24 * time.Hour,
		PullRetry:            retry.PullConfig(),
	}
}

// Vacuumer compacts the account database.
type Vacuumer interface {
	VacuumIfNeeded(ctx context.Context, minInterval time.Duration) (bool, error)
}

// Deps are the collaborators of one account's engine.
type Deps struct {
	Provider provider.Provider
	Articles repository.ArticleStore
	Outbox   repository.Outbox
	Cursors  repository.CursorStore
	Feeds    repository.FeedStore
	// Vacuumer is optional.
	Vacuumer Vacuumer
	Bus      *events.Bus
}

// PullResult summarizes the pull phase of a cycle.
type PullResult struct {
	Pages           int
	NewArticles     int
	UpdatedArticles int
	StatusesChanged int
	Corrupt         int
	Fetched         int
}

// DrainResult summarizes the push phase of a cycle.
type DrainResult struct {
	Pushed  int
	Failed  int
	Dropped int
}

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	Pull  PullResult
	Drain DrainResult
}

// ErrEngineStopped is returned by RunCycle once the engine was stopped.
var ErrEngineStopped = errors.New("sync engine stopped")

// Engine reconciles one account. At most one cycle runs at a time; triggers
// and RunCycle calls that arrive while a cycle runs coalesce into a single
// follow-up cycle.
type Engine struct {
	account *entity.Account
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	trigger chan struct{}

	cycleMu  sync.Mutex
	running  *cycleCall
	followUp *cycleCall
	stopped  bool

	mu          sync.Mutex
	haltErr     error
	lastErr     error
	lastCleanup time.Time
}

// NewEngine creates the engine of account.
func NewEngine(account *entity.Account, deps Deps, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.PushBatchSize <= 0 {
		cfg.PushBatchSize = def.PushBatchSize
	}
	if cfg.PushThreshold <= 0 {
		cfg.PushThreshold = def.PushThreshold
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.VacuumInterval <= 0 {
		cfg.VacuumInterval = def.VacuumInterval
	}
	if cfg.MissingContentWindow <= 0 {
		cfg.MissingContentWindow = def.MissingContentWindow
	}
	if cfg.PullRetry.MaxAttempts <= 0 {
		cfg.PullRetry = def.PullRetry
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		account: account,
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With(slog.String("account_id", account.ID)),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// AccountID returns the ID of the engine's account.
func (e *Engine) AccountID() string { return e.account.ID }

// Trigger requests a cycle. It never blocks; any number of triggers
// received while a cycle is pending or running result in one more cycle.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Start prepares the account for syncing: selections left over from an
// interrupted push are released and the unread cache is filled.
func (e *Engine) Start(ctx context.Context) (map[string]int, error) {
	if err := e.deps.Outbox.ResetAllSelected(ctx); err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}
	feeds, err := e.deps.Feeds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}
	ids := make([]string, len(feeds))
	for i, f := range feeds {
		ids[i] = f.ID
	}
	counts, err := e.deps.Articles.FetchUnreadCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}
	e.reportPending(ctx)
	return counts, nil
}

// Run performs a cycle for every trigger until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.trigger:
			if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("sync cycle failed", slog.Any("error", err))
			}
		}
	}
}

// cycleCall is one cycle and the result shared by everyone waiting on it.
type cycleCall struct {
	done    chan struct{}
	waiters int
	res     CycleResult
	err     error
}

func newCycleCall() *cycleCall {
	return &cycleCall{done: make(chan struct{})}
}

// RunCycle pulls, fetches missing articles, drains the outbox and cleans up.
// A halted account returns its halt error without touching the network.
//
// When a cycle is already running, the call waits for one follow-up cycle
// shared by every caller that arrived meanwhile, and returns its result. The
// follow-up runs on the goroutine that ran the first cycle, under its ctx.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	e.cycleMu.Lock()
	if e.stopped {
		e.cycleMu.Unlock()
		return CycleResult{}, ErrEngineStopped
	}
	if e.running != nil {
		if e.followUp == nil {
			e.followUp = newCycleCall()
		}
		call := e.followUp
		call.waiters++
		e.cycleMu.Unlock()

		select {
		case <-call.done:
			return call.res, call.err
		case <-ctx.Done():
			return CycleResult{}, ctx.Err()
		}
	}
	first := newCycleCall()
	e.running = first
	e.cycleMu.Unlock()

	for call := first; call != nil; call = e.nextCall() {
		call.res, call.err = e.runCycle(ctx)
		close(call.done)
	}
	return first.res, first.err
}

// nextCall promotes the pending follow-up, if any, to the running cycle.
func (e *Engine) nextCall() *cycleCall {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	next := e.followUp
	e.followUp = nil
	if next != nil && e.stopped {
		next.err = ErrEngineStopped
		close(next.done)
		next = nil
	}
	e.running = next
	if next != nil {
		e.logger.Debug("running coalesced follow-up cycle", slog.Int("waiters", next.waiters))
	}
	return next
}

// Stop makes later cycles fail with ErrEngineStopped and waits for the
// running one to finish. Pending follow-ups are not run.
func (e *Engine) Stop() {
	e.cycleMu.Lock()
	e.stopped = true
	running := e.running
	e.cycleMu.Unlock()

	if running != nil {
		<-running.done
	}
}

func (e *Engine) runCycle(ctx context.Context) (CycleResult, error) {
	if err := e.HaltError(); err != nil {
		return CycleResult{}, err
	}

	ctx = logging.WithLogger(ctx, e.logger)
	ctx, span := tracing.GetTracer().Start(ctx, "reconcile.cycle")
	span.SetAttributes(
		attribute.String("account.id", e.account.ID),
		attribute.String("account.kind", string(e.account.Kind)))
	defer span.End()

	start := time.Now()
	var res CycleResult
	err := e.cycle(ctx, &res)

	span.SetAttributes(
		attribute.Int("pull.pages", res.Pull.Pages),
		attribute.Int("pull.new", res.Pull.NewArticles),
		attribute.Int("drain.pushed", res.Drain.Pushed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	result := cycleResultLabel(err)
	metrics.RecordCycle(e.account.ID, result, time.Since(start))
	e.setLastErr(err)
	if entity.IsAuthFailure(err) {
		e.halt(err)
	}

	e.deps.Bus.Publish(events.DownloadCompleted{AccountID: e.account.ID, Err: err})
	e.logger.Info("sync cycle finished",
		slog.String("result", result),
		slog.Int("pages", res.Pull.Pages),
		slog.Int("new_articles", res.Pull.NewArticles),
		slog.Int("updated_articles", res.Pull.UpdatedArticles),
		slog.Int("statuses_changed", res.Pull.StatusesChanged),
		slog.Int("corrupt", res.Pull.Corrupt),
		slog.Int("fetched", res.Pull.Fetched),
		slog.Int("pushed", res.Drain.Pushed),
		slog.Int("push_failed", res.Drain.Failed),
		slog.Int("push_dropped", res.Drain.Dropped),
		slog.Duration("duration", time.Since(start)))
	return res, err
}

// cycle runs the phases in order. A failed pull still lets the outbox
// drain unless the account can no longer reach its store or service.
func (e *Engine) cycle(ctx context.Context, res *CycleResult) error {
	pull, pullErr := e.pull(ctx)
	res.Pull = pull
	if pullErr != nil && stopsCycle(ctx, pullErr) {
		return pullErr
	}

	drain, drainErr := e.drain(ctx)
	res.Drain = drain
	if err := errors.Join(pullErr, drainErr); err != nil {
		return err
	}

	return e.cleanup(ctx)
}

func stopsCycle(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, entity.ErrSuspended) ||
		entity.IsAuthFailure(err)
}

func cycleResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, entity.ErrSuspended):
		return "suspended"
	case entity.IsAuthFailure(err):
		return "halted"
	default:
		return "error"
	}
}

/* ───────────── halt state ───────────── */

// HaltError returns the authentication failure that halted the account,
// or nil while it syncs normally.
func (e *Engine) HaltError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haltErr
}

// LastError returns the error of the most recent cycle.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) halt(err error) {
	e.mu.Lock()
	already := e.haltErr != nil
	e.haltErr = err
	e.mu.Unlock()
	if already {
		return
	}

	metrics.SetAccountHalted(e.account.ID, true)
	e.deps.Bus.Publish(events.AccountHalted{AccountID: e.account.ID, Err: err})
	e.logger.Error("sync halted, credentials rejected", slog.Any("error", err))
}

// Resume clears a halt, typically after credentials were updated, and
// triggers a cycle.
func (e *Engine) Resume() {
	e.mu.Lock()
	wasHalted := e.haltErr != nil
	e.haltErr = nil
	e.mu.Unlock()

	if wasHalted {
		metrics.SetAccountHalted(e.account.ID, false)
		e.logger.Info("sync resumed")
	}
	e.Trigger()
}

/* ───────────── local changes ───────────── */

// MarkArticles sets key=flag locally and queues the changed statuses for
// push. A cycle is triggered once the outbox reaches PushThreshold. Setting
// a flag back before it was pushed overwrites the pending change, and the
// push that follows is idempotent.
func (e *Engine) MarkArticles(ctx context.Context, articleIDs []string, key entity.StatusKey, flag bool) ([]entity.ArticleStatus, error) {
	changed, err := e.deps.Articles.UpdateStatuses(ctx, articleIDs, key, flag)
	if err != nil {
		return nil, fmt.Errorf("MarkArticles: %w", err)
	}
	if len(changed) == 0 {
		return nil, nil
	}

	ids := make([]string, len(changed))
	for i, st := range changed {
		ids[i] = st.ArticleID
	}
	if err := e.deps.Outbox.Enqueue(ctx, entity.NewSyncStatuses(ids, key, flag)); err != nil {
		return changed, fmt.Errorf("MarkArticles: %w", err)
	}

	pending, err := e.deps.Outbox.PendingCount(ctx)
	if err != nil {
		return changed, fmt.Errorf("MarkArticles: %w", err)
	}
	metrics.SetOutboxPending(e.account.ID, pending)
	if pending >= e.cfg.PushThreshold {
		e.logger.Debug("push threshold reached, triggering sync", slog.Int("pending", pending))
		e.Trigger()
	}
	return changed, nil
}

func (e *Engine) reportPending(ctx context.Context) {
	pending, err := e.deps.Outbox.PendingCount(ctx)
	if err != nil {
		e.logger.Debug("pending count unavailable", slog.Any("error", err))
		return
	}
	metrics.SetOutboxPending(e.account.ID, pending)
}
