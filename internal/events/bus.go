package events

import (
	"log/slog"
	"sync"

	"feedsync/internal/observability/metrics"
)

// DefaultBuffer is the channel capacity used by Subscribe.
const DefaultBuffer = 256

// Bus fans events out to subscriber channels. Publish never blocks: an event
// for a subscriber whose buffer is full is dropped and counted.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	closed      bool
}

type subscriber struct {
	ch     chan Event
	filter func(Event) bool
	onDrop func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every event published from now on.
// The channel should be drained to avoid drops.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	return b.add(buffer, nil, nil)
}

// SubscribeFiltered returns a subscription receiving only the events for
// which filter reports true. Accounts whose events were dropped are
// remembered until TakeLost.
func (b *Bus) SubscribeFiltered(buffer int, filter func(Event) bool) *Subscription {
	s := &Subscription{
		lost:     make(chan struct{}, 1),
		accounts: make(map[string]struct{}),
	}
	s.C = b.add(buffer, filter, s.recordLost)
	return s
}

func (b *Bus) add(buffer int, filter func(Event) bool, onDrop func(Event)) <-chan Event {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, &subscriber{ch: ch, filter: filter, onDrop: onDrop})
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			metrics.RecordEventDropped()
			slog.Debug("event dropped (subscriber full)",
				slog.String("account_id", e.Account()),
				slog.String("event", eventName(e)))
			if sub.onDrop != nil {
				sub.onDrop(e)
			}
		}
	}
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
	b.closed = true
}

// Subscription is a filtered subscriber created by SubscribeFiltered.
type Subscription struct {
	// C receives the events that passed the filter.
	C <-chan Event

	lost     chan struct{}
	mu       sync.Mutex
	accounts map[string]struct{}
}

func (s *Subscription) recordLost(e Event) {
	s.mu.Lock()
	s.accounts[e.Account()] = struct{}{}
	s.mu.Unlock()

	select {
	case s.lost <- struct{}{}:
	default:
	}
}

// Lost is signalled after an event was dropped for this subscription.
func (s *Subscription) Lost() <-chan struct{} { return s.lost }

// TakeLost returns the accounts that lost events since the previous call.
func (s *Subscription) TakeLost() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		out = append(out, id)
	}
	clear(s.accounts)
	return out
}

// OnlyUnreadCounts is a filter passing UnreadCountChanged events.
func OnlyUnreadCounts(e Event) bool {
	_, ok := e.(UnreadCountChanged)
	return ok
}

func eventName(e Event) string {
	switch e.(type) {
	case UnreadCountChanged:
		return "unread_count_changed"
	case TotalUnreadChanged:
		return "total_unread_changed"
	case StatusesChanged:
		return "statuses_changed"
	case ArticlesChanged:
		return "articles_changed"
	case DownloadCompleted:
		return "download_completed"
	case AccountHalted:
		return "account_halted"
	default:
		return "unknown"
	}
}
