package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"feedsync/internal/domain/entity"
)

// AccountsFile is the on-disk account list.
//
//	accounts:
//	  - id: 0b6f5c1e-3f0a-4e43-9d55-7a9f0f2b8c11
//	    kind: readerapi
//	    name: FreshRSS
//	    endpoint: https://rss.example.com/api/greader.php
//	  - id: on-my-mac
//	    kind: local
//	    name: On My Mac
//	    feeds:
//	      - url: https://blog.golang.org/feed.atom
//	        name: The Go Blog
//	        folder: Programming
type AccountsFile struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

// AccountConfig is one account entry. Active defaults to true.
type AccountConfig struct {
	ID       string       `yaml:"id"`
	Kind     string       `yaml:"kind"`
	Name     string       `yaml:"name"`
	Endpoint string       `yaml:"endpoint"`
	Active   *bool        `yaml:"active"`
	Feeds    []FeedConfig `yaml:"feeds"`
}

// FeedConfig seeds a subscription of a local account.
type FeedConfig struct {
	URL    string `yaml:"url"`
	Name   string `yaml:"name"`
	Folder string `yaml:"folder"`
}

// LoadAccounts reads and validates the account list at path.
// The path parameter is expected to come from a trusted source (environment or CLI flag).
func LoadAccounts(path string) (*AccountsFile, error) {
	// #nosec G304 -- path is provided by the operator, not by remote input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	return ParseAccounts(data)
}

// ParseAccounts parses and validates an account list.
func ParseAccounts(data []byte) (*AccountsFile, error) {
	var file AccountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	seen := make(map[string]bool, len(file.Accounts))
	for i := range file.Accounts {
		a := &file.Accounts[i]
		account := a.Account()
		if err := account.Validate(); err != nil {
			return nil, fmt.Errorf("account %d (%q): %w", i, a.ID, err)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("account %d: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true

		if len(a.Feeds) > 0 && account.Kind != entity.ProviderLocal {
			return nil, fmt.Errorf("account %q: feeds can only be listed for local accounts", a.ID)
		}
		for j, f := range a.Feeds {
			if err := entity.ValidateURL(f.URL); err != nil {
				return nil, fmt.Errorf("account %q feed %d: %w", a.ID, j, err)
			}
		}
	}
	return &file, nil
}

// Account converts the entry to a domain account.
func (a *AccountConfig) Account() *entity.Account {
	active := true
	if a.Active != nil {
		active = *a.Active
	}
	return &entity.Account{
		ID:       strings.TrimSpace(a.ID),
		Kind:     entity.ProviderKind(strings.ToLower(strings.TrimSpace(a.Kind))),
		Name:     a.Name,
		Endpoint: strings.TrimRight(strings.TrimSpace(a.Endpoint), "/"),
		Active:   active,
	}
}

// SeedFeeds converts the configured feeds to domain feeds. A local feed's ID
// is its URL; folder names double as folder IDs.
func (a *AccountConfig) SeedFeeds() ([]*entity.Feed, []*entity.Folder) {
	var feeds []*entity.Feed
	var folders []*entity.Folder
	seenFolder := make(map[string]bool)

	for _, f := range a.Feeds {
		feed := &entity.Feed{ID: f.URL, URL: f.URL, Name: f.Name}
		if f.Folder != "" {
			feed.FolderIDs = []string{f.Folder}
			if !seenFolder[f.Folder] {
				seenFolder[f.Folder] = true
				folders = append(folders, &entity.Folder{ID: f.Folder, Name: f.Folder})
			}
		}
		feeds = append(feeds, feed)
	}
	return feeds, folders
}
