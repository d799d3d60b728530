// Package unread keeps unread totals per account and across all accounts,
// fed by the per-feed counts the article stores publish.
package unread

import (
	"context"
	"log/slog"
	"sync"

	"feedsync/internal/events"
	"feedsync/internal/observability/metrics"
)

// CountSource returns the cached per-feed unread counts of an account, or
// false when the account is unknown.
type CountSource func(accountID string) (map[string]int, bool)

// Aggregator folds UnreadCountChanged events into account and global
// totals. Each event adjusts the totals by the difference between the new
// and the previous count of its feed; no store is ever rescanned. When the
// bus drops events, the affected accounts are reseeded from the CountSource.
type Aggregator struct {
	bus    *events.Bus
	sub    *events.Subscription
	logger *slog.Logger

	mu            sync.RWMutex
	source        CountSource
	removed       map[string]struct{}
	feeds         map[string]map[string]int
	accountTotals map[string]int
	total         int
}

// NewAggregator creates an aggregator subscribed to the unread counts on
// bus. Events published after this call are buffered until Run consumes
// them.
func NewAggregator(bus *events.Bus, logger *slog.Logger) *Aggregator {
	return NewAggregatorWithBuffer(bus, events.DefaultBuffer, logger)
}

// NewAggregatorWithBuffer is NewAggregator with a custom subscription buffer.
func NewAggregatorWithBuffer(bus *events.Bus, buffer int, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		bus:           bus,
		sub:           bus.SubscribeFiltered(buffer, events.OnlyUnreadCounts),
		logger:        logger,
		removed:       make(map[string]struct{}),
		feeds:         make(map[string]map[string]int),
		accountTotals: make(map[string]int),
	}
}

// SetSource installs the counts used to reseed accounts that lost events.
func (a *Aggregator) SetSource(source CountSource) {
	a.mu.Lock()
	a.source = source
	a.mu.Unlock()
}

// Run consumes events until ctx is cancelled or the bus is closed.
func (a *Aggregator) Run(ctx context.Context) error {
	defer a.bus.Unsubscribe(a.sub.C)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-a.sub.C:
			if !ok {
				return nil
			}
			a.handle(ev)
		case <-a.sub.Lost():
			if !a.drainBuffered() {
				return nil
			}
			a.resync()
		}
	}
}

// drainBuffered applies the events already queued so they cannot overwrite
// a reseed. It reports false when the bus was closed.
func (a *Aggregator) drainBuffered() bool {
	for {
		select {
		case ev, ok := <-a.sub.C:
			if !ok {
				return false
			}
			a.handle(ev)
		default:
			return true
		}
	}
}

func (a *Aggregator) resync() {
	a.mu.RLock()
	source := a.source
	a.mu.RUnlock()

	for _, accountID := range a.sub.TakeLost() {
		if source == nil {
			a.logger.Warn("unread counts lost, no source to reseed from",
				slog.String("account_id", accountID))
			continue
		}
		counts, ok := source(accountID)
		if !ok {
			continue
		}
		a.Seed(accountID, counts)
		a.logger.Info("unread counts reseeded after dropped events",
			slog.String("account_id", accountID),
			slog.Int("feeds", len(counts)))
	}
}

func (a *Aggregator) handle(ev events.Event) {
	if e, ok := ev.(events.UnreadCountChanged); ok {
		a.Apply(e.AccountID, e.FeedID, e.Count)
	}
}

// Apply sets the unread count of one feed and publishes the new totals
// when they moved. Counts of a removed account are ignored until it is
// seeded again.
func (a *Aggregator) Apply(accountID, feedID string, count int) {
	a.mu.Lock()
	if _, gone := a.removed[accountID]; gone {
		a.mu.Unlock()
		return
	}
	feeds, ok := a.feeds[accountID]
	if !ok {
		feeds = make(map[string]int)
		a.feeds[accountID] = feeds
	}
	delta := count - feeds[feedID]
	feeds[feedID] = count
	if delta == 0 {
		a.mu.Unlock()
		return
	}
	a.accountTotals[accountID] += delta
	a.total += delta
	accountTotal, total := a.accountTotals[accountID], a.total
	a.mu.Unlock()

	a.publish(accountID, accountTotal, total)
}

// Seed replaces every count of an account, used when an account is loaded.
func (a *Aggregator) Seed(accountID string, counts map[string]int) {
	feeds := make(map[string]int, len(counts))
	accountTotal := 0
	for feedID, n := range counts {
		feeds[feedID] = n
		accountTotal += n
	}

	a.mu.Lock()
	delete(a.removed, accountID)
	a.total += accountTotal - a.accountTotals[accountID]
	a.feeds[accountID] = feeds
	a.accountTotals[accountID] = accountTotal
	total := a.total
	a.mu.Unlock()

	a.publish(accountID, accountTotal, total)
}

// RemoveAccount forgets an account's counts.
func (a *Aggregator) RemoveAccount(accountID string) {
	a.mu.Lock()
	a.removed[accountID] = struct{}{}
	removed, ok := a.accountTotals[accountID]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.feeds, accountID)
	delete(a.accountTotals, accountID)
	a.total -= removed
	total := a.total
	a.mu.Unlock()

	a.publish(accountID, 0, total)
}

func (a *Aggregator) publish(accountID string, accountTotal, total int) {
	metrics.SetUnreadTotal(accountID, accountTotal)
	a.bus.Publish(events.TotalUnreadChanged{
		AccountID:    accountID,
		AccountTotal: accountTotal,
		Total:        total,
	})
}

// FeedCount returns the last known unread count of a feed.
func (a *Aggregator) FeedCount(accountID, feedID string) (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.feeds[accountID][feedID]
	return n, ok
}

// AccountTotal returns the unread total of one account.
func (a *Aggregator) AccountTotal(accountID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.accountTotals[accountID]
}

// Total returns the unread total across every account.
func (a *Aggregator) Total() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total
}
