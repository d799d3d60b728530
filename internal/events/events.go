// Package events carries typed change notifications from the stores and the
// reconciliation engine to subscribers such as the unread aggregator.
package events

import "feedsync/internal/domain/entity"

// Event is implemented by every event type. Subscribers type-switch on it.
type Event interface {
	Account() string
}

// UnreadCountChanged reports the new cached unread count of one feed.
type UnreadCountChanged struct {
	AccountID string
	FeedID    string
	Count     int
}

// TotalUnreadChanged reports new unread totals after an aggregation update.
type TotalUnreadChanged struct {
	AccountID    string
	AccountTotal int
	Total        int
}

// StatusesChanged reports statuses whose value actually changed.
type StatusesChanged struct {
	AccountID  string
	ArticleIDs []string
	Key        entity.StatusKey
	Flag       bool
}

// ArticlesChanged reports articles created or updated by an upsert.
type ArticlesChanged struct {
	AccountID string
	New       []string
	Updated   []string
}

// DownloadCompleted is published at the end of every reconciliation cycle.
// Err is nil on success.
type DownloadCompleted struct {
	AccountID string
	Err       error
}

// AccountHalted is published when sync stops after an authentication failure.
type AccountHalted struct {
	AccountID string
	Err       error
}

func (e UnreadCountChanged) Account() string { return e.AccountID }
func (e TotalUnreadChanged) Account() string { return e.AccountID }
func (e StatusesChanged) Account() string    { return e.AccountID }
func (e ArticlesChanged) Account() string    { return e.AccountID }
func (e DownloadCompleted) Account() string  { return e.AccountID }
func (e AccountHalted) Account() string      { return e.AccountID }
