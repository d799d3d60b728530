package entity

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateArticleID_Deterministic(t *testing.T) {
	a := CalculateArticleID("https://example.com/feed.xml", "guid-1")
	b := CalculateArticleID("https://example.com/feed.xml", "guid-1")
	c := CalculateArticleID("https://example.com/feed.xml", "guid-2")
	d := CalculateArticleID("https://other.example.com/feed.xml", "guid-1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestCalculateArticleID_NoBoundaryCollision(t *testing.T) {
	assert.NotEqual(t,
		CalculateArticleID("https://a.example/x", "y"),
		CalculateArticleID("https://a.example/", "xy"))
}

func TestParsedItem_ArticleID(t *testing.T) {
	withSync := ParsedItem{SyncServiceID: "remote-42", FeedURL: "https://f", UniqueID: "u"}
	assert.Equal(t, "remote-42", withSync.ArticleID())

	withoutSync := ParsedItem{FeedURL: "https://f", UniqueID: "u"}
	assert.Equal(t, CalculateArticleID("https://f", "u"), withoutSync.ArticleID())
}

func TestArticle_Merge(t *testing.T) {
	published := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	modified := published.Add(time.Hour)

	stored := &Article{
		ArticleID:     "a1",
		FeedID:        "f1",
		Title:         "Old title",
		URL:           "https://example.com/a1",
		Summary:       "kept summary",
		DatePublished: published,
	}

	t.Run("latest present field wins, absent fields kept", func(t *testing.T) {
		incoming := &Article{
			ArticleID:    "a1",
			FeedID:       "f1",
			Title:        "New title",
			ContentHTML:  "<p>body</p>",
			Authors:      []Author{{Name: "Ann"}},
			DateModified: modified,
		}

		merged, changed := stored.Merge(incoming)
		require.True(t, changed)

		want := &Article{
			ArticleID:     "a1",
			FeedID:        "f1",
			Title:         "New title",
			URL:           "https://example.com/a1",
			ContentHTML:   "<p>body</p>",
			Summary:       "kept summary",
			Authors:       []Author{{Name: "Ann"}},
			DatePublished: published,
			DateModified:  modified,
		}
		if diff := cmp.Diff(want, merged); diff != "" {
			t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "Old title", stored.Title, "receiver must not be mutated")
	})

	t.Run("identical content is not a change", func(t *testing.T) {
		same := *stored
		_, changed := stored.Merge(&same)
		assert.False(t, changed)
	})

	t.Run("empty incoming never regresses", func(t *testing.T) {
		merged, changed := stored.Merge(&Article{ArticleID: "a1"})
		assert.False(t, changed)
		assert.Equal(t, stored.Summary, merged.Summary)
		assert.Equal(t, stored.URL, merged.URL)
	})
}

func TestNewArticle(t *testing.T) {
	item := ParsedItem{
		FeedURL:  "https://example.com/feed",
		UniqueID: "g1",
		Title:    "Hello",
		Authors:  []Author{{Name: "Bob"}},
	}

	a := NewArticle("feed-1", item)

	assert.Equal(t, item.ArticleID(), a.ArticleID)
	assert.Equal(t, "feed-1", a.FeedID)
	assert.Equal(t, "Hello", a.Title)
	item.Authors[0].Name = "changed"
	assert.Equal(t, "Bob", a.Authors[0].Name)
}

func TestArticleStatus_SetFlag(t *testing.T) {
	s := ArticleStatus{ArticleID: "a1"}

	assert.True(t, s.SetFlag(StatusRead, true))
	assert.False(t, s.SetFlag(StatusRead, true))
	assert.True(t, s.Read)
	assert.False(t, s.Starred)

	assert.True(t, s.SetFlag(StatusStarred, true))
	assert.True(t, s.Flag(StatusStarred))
}

func TestParseStatusKey(t *testing.T) {
	k, err := ParseStatusKey("starred")
	require.NoError(t, err)
	assert.Equal(t, StatusStarred, k)

	_, err = ParseStatusKey("deleted")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}
