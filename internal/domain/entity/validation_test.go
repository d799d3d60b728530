package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "https", url: "https://example.com/feed.xml"},
		{name: "http with port", url: "http://localhost:8080/rss"},
		{name: "empty", url: "", wantErr: true},
		{name: "ftp scheme", url: "ftp://example.com/feed", wantErr: true},
		{name: "no host", url: "https:///feed", wantErr: true},
		{name: "too long", url: "https://example.com/" + strings.Repeat("a", maxURLLength), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr {
				var ve *ValidationError
				assert.ErrorAs(t, err, &ve)
				assert.Equal(t, "url", ve.Field)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAccount_Validate(t *testing.T) {
	local, err := NewAccount(ProviderLocal, "On My Mac", "")
	assert.NoError(t, err)
	assert.NotEmpty(t, local.ID)
	assert.True(t, local.Active)
	assert.Equal(t, local.ID+".db", local.DatabaseFileName())

	_, err = NewAccount(ProviderReaderAPI, "FreshRSS", "")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "endpoint", ve.Field)

	_, err = NewAccount(ProviderKind("feedbin"), "x", "")
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "kind", ve.Field)
}

func TestFeed_Validate(t *testing.T) {
	assert.NoError(t, (&Feed{ID: "f1", URL: "https://example.com/rss"}).Validate())
	assert.Error(t, (&Feed{URL: "https://example.com/rss"}).Validate())
	assert.Error(t, (&Feed{ID: "f1", URL: "mailto:x@example.com"}).Validate())
}
