package entity

import (
	"fmt"
	"time"
)

// StatusKey names a per-article boolean status.
type StatusKey string

const (
	StatusRead    StatusKey = "read"
	StatusStarred StatusKey = "starred"
)

// ParseStatusKey converts a stored key back to a StatusKey.
func ParseStatusKey(s string) (StatusKey, error) {
	switch StatusKey(s) {
	case StatusRead, StatusStarred:
		return StatusKey(s), nil
	default:
		return "", &ValidationError{Field: "key", Message: fmt.Sprintf("unknown status key %q", s)}
	}
}

// ArticleStatus is the local state of one article in an account.
type ArticleStatus struct {
	ArticleID   string
	Read        bool
	Starred     bool
	DateArrived time.Time
}

// Flag returns the value of key.
func (s *ArticleStatus) Flag(key StatusKey) bool {
	switch key {
	case StatusStarred:
		return s.Starred
	default:
		return s.Read
	}
}

// SetFlag sets key to flag and reports whether the value changed.
func (s *ArticleStatus) SetFlag(key StatusKey, flag bool) bool {
	if s.Flag(key) == flag {
		return false
	}
	switch key {
	case StatusStarred:
		s.Starred = flag
	default:
		s.Read = flag
	}
	return true
}

// SyncStatus is a pending local status change awaiting push.
// (ArticleID, Key) is unique; a later change for the same pair overwrites.
type SyncStatus struct {
	ArticleID string
	Key       StatusKey
	Flag      bool
	Selected  bool
}

// NewSyncStatuses builds one pending change per article for key=flag.
func NewSyncStatuses(articleIDs []string, key StatusKey, flag bool) []SyncStatus {
	out := make([]SyncStatus, 0, len(articleIDs))
	for _, id := range articleIDs {
		out = append(out, SyncStatus{ArticleID: id, Key: key, Flag: flag})
	}
	return out
}
