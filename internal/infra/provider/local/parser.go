package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"feedsync/internal/domain/entity"
	"feedsync/internal/observability/logging"
	"feedsync/internal/provider"
	"feedsync/internal/resilience/circuitbreaker"
	"feedsync/internal/resilience/retry"
	"feedsync/internal/utils/text"
)

const parserUserAgent = "feedsync/1.0"

// GofeedParser implements provider.FeedParser with gofeed. Each host has
// its own circuit breaker and downloads are retried with backoff.
type GofeedParser struct {
	client      *http.Client
	breakers    *circuitbreaker.Set
	retryConfig retry.Config
}

var _ provider.FeedParser = (*GofeedParser)(nil)

// NewGofeedParser creates a parser using client for downloads.
func NewGofeedParser(client *http.Client) *GofeedParser {
	return &GofeedParser{
		client:      client,
		breakers:    circuitbreaker.NewSet(circuitbreaker.FeedFetchConfig()),
		retryConfig: retry.FeedFetchConfig(),
	}
}

// ParseURL downloads and parses the feed at feedURL.
func (g *GofeedParser) ParseURL(ctx context.Context, feedURL string) (*provider.ParsedFeed, error) {
	cb := g.breakers.Get(hostOf(feedURL))

	var parsed *provider.ParsedFeed
	err := retry.WithBackoff(ctx, g.retryConfig, func() error {
		var err error
		parsed, err = circuitbreaker.Do(cb, func() (*provider.ParsedFeed, error) {
			return g.doParse(ctx, feedURL)
		})
		if circuitbreaker.IsRejected(err) {
			logging.FromContext(ctx).Warn("feed fetch circuit breaker open, request rejected",
				slog.String("circuit", cb.Name()),
				slog.String("url", feedURL))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ParseURL %s: %w", feedURL, err)
	}
	return parsed, nil
}

func hostOf(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return strings.ToLower(u.Host)
}

func (g *GofeedParser) doParse(ctx context.Context, feedURL string) (*provider.ParsedFeed, error) {
	fp := gofeed.NewParser()
	fp.UserAgent = parserUserAgent
	fp.Client = g.client

	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &retry.HTTPError{StatusCode: httpErr.StatusCode, Message: httpErr.Status}
		}
		return nil, err
	}

	out := &provider.ParsedFeed{
		Title:       feed.Title,
		HomePageURL: feed.Link,
		Items:       make([]entity.ParsedItem, 0, len(feed.Items)),
	}
	for _, it := range feed.Items {
		out.Items = append(out.Items, mapItem(feedURL, it))
	}
	return out, nil
}

func mapItem(feedURL string, it *gofeed.Item) entity.ParsedItem {
	uniqueID := it.GUID
	if uniqueID == "" {
		uniqueID = it.Link
	}

	// Content preferred; Description is the summary when both exist.
	html := it.Content
	summary := ""
	if html == "" {
		html = it.Description
	} else {
		summary = text.PlainText(it.Description)
	}

	item := entity.ParsedItem{
		UniqueID:    uniqueID,
		FeedURL:     feedURL,
		Title:       it.Title,
		URL:         it.Link,
		ContentHTML: html,
		ContentText: text.PlainText(html),
		Summary:     summary,
	}
	for _, l := range it.Links {
		if l != "" && l != it.Link {
			item.ExternalURL = l
			break
		}
	}

	people := it.Authors
	if len(people) == 0 && it.Author != nil {
		people = []*gofeed.Person{it.Author}
	}
	for _, p := range people {
		if p == nil || (p.Name == "" && p.Email == "") {
			continue
		}
		item.Authors = append(item.Authors, entity.Author{Name: p.Name, Email: p.Email})
	}

	if it.PublishedParsed != nil {
		item.DatePublished = it.PublishedParsed.UTC()
	} else if it.UpdatedParsed != nil {
		item.DatePublished = it.UpdatedParsed.UTC()
	}
	if it.UpdatedParsed != nil {
		item.DateModified = it.UpdatedParsed.UTC()
	}
	return item
}
