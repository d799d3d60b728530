// Package entity defines the core domain entities of the sync core: accounts,
// feeds, articles, their per-account statuses and the pending status changes
// waiting to be pushed to a remote service.
package entity

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// articleIDNamespace seeds name-based article IDs for items without a remote sync ID.
var articleIDNamespace = uuid.MustParse("6f1c3b6e-3a3c-4f0e-9f57-1d2a8f7f4b10")

// CalculateArticleID derives a deterministic article ID from the feed URL and
// the item's unique ID. The same inputs always produce the same ID.
func CalculateArticleID(feedURL, uniqueID string) string {
	return uuid.NewSHA1(articleIDNamespace, []byte(feedURL+"\x00"+uniqueID)).String()
}

// Author is a person credited on an article.
type Author struct {
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	AvatarURL string `json:"avatarURL,omitempty"`
	Email     string `json:"email,omitempty"`
}

// ParsedItem is an item as delivered by a feed parser or a remote service,
// before it is merged into the local store.
type ParsedItem struct {
	SyncServiceID string
	UniqueID      string
	FeedURL       string
	Title         string
	URL           string
	ExternalURL   string
	ContentHTML   string
	ContentText   string
	Summary       string
	Authors       []Author
	DatePublished time.Time
	DateModified  time.Time
}

// ArticleID returns the remote sync ID when present, otherwise the derived ID.
func (p *ParsedItem) ArticleID() string {
	if p.SyncServiceID != "" {
		return p.SyncServiceID
	}
	return CalculateArticleID(p.FeedURL, p.UniqueID)
}

// Article is the stored form of an item. Empty strings and zero times mean
// the field is absent.
type Article struct {
	ArticleID     string
	FeedID        string
	UniqueID      string
	Title         string
	URL           string
	ExternalURL   string
	ContentHTML   string
	ContentText   string
	Summary       string
	Authors       []Author
	DatePublished time.Time
	DateModified  time.Time
}

// NewArticle maps a parsed item onto an article belonging to feedID. Dates
// are kept at millisecond precision, the precision they are stored with.
func NewArticle(feedID string, item ParsedItem) *Article {
	return &Article{
		ArticleID:     item.ArticleID(),
		FeedID:        feedID,
		UniqueID:      item.UniqueID,
		Title:         item.Title,
		URL:           item.URL,
		ExternalURL:   item.ExternalURL,
		ContentHTML:   item.ContentHTML,
		ContentText:   item.ContentText,
		Summary:       item.Summary,
		Authors:       slices.Clone(item.Authors),
		DatePublished: item.DatePublished.Truncate(time.Millisecond),
		DateModified:  item.DateModified.Truncate(time.Millisecond),
	}
}

// Merge folds incoming into a copy of a. Every field present in incoming
// replaces the stored one; absent fields keep the stored value, so a stored
// article never loses data. It reports whether anything changed.
func (a *Article) Merge(incoming *Article) (*Article, bool) {
	merged := *a
	changed := false

	mergeString := func(dst *string, src string) {
		if src != "" && *dst != src {
			*dst = src
			changed = true
		}
	}
	mergeTime := func(dst *time.Time, src time.Time) {
		if !src.IsZero() && !dst.Equal(src) {
			*dst = src
			changed = true
		}
	}

	mergeString(&merged.FeedID, incoming.FeedID)
	mergeString(&merged.UniqueID, incoming.UniqueID)
	mergeString(&merged.Title, incoming.Title)
	mergeString(&merged.URL, incoming.URL)
	mergeString(&merged.ExternalURL, incoming.ExternalURL)
	mergeString(&merged.ContentHTML, incoming.ContentHTML)
	mergeString(&merged.ContentText, incoming.ContentText)
	mergeString(&merged.Summary, incoming.Summary)
	mergeTime(&merged.DatePublished, incoming.DatePublished)
	mergeTime(&merged.DateModified, incoming.DateModified)

	if len(incoming.Authors) > 0 && !slices.Equal(merged.Authors, incoming.Authors) {
		merged.Authors = slices.Clone(incoming.Authors)
		changed = true
	}

	return &merged, changed
}
