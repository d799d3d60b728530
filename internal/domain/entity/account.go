package entity

import (
	"fmt"

	"github.com/google/uuid"
)

// ProviderKind identifies the remote service variant behind an account.
type ProviderKind string

const (
	// ProviderLocal is an account without a remote service. Feeds are
	// fetched directly and statuses are authoritative locally.
	ProviderLocal ProviderKind = "local"
	// ProviderReaderAPI is a Google-Reader-compatible service
	// (FreshRSS, Inoreader, The Old Reader, ...).
	ProviderReaderAPI ProviderKind = "readerapi"
)

// Valid reports whether k is a known provider kind.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderLocal, ProviderReaderAPI:
		return true
	default:
		return false
	}
}

// Account owns a set of feeds and folders and exactly one database file.
type Account struct {
	ID       string
	Kind     ProviderKind
	Name     string
	Endpoint string
	Active   bool
}

// NewAccount creates an active account with a freshly generated stable ID.
func NewAccount(kind ProviderKind, name, endpoint string) (*Account, error) {
	a := &Account{
		ID:       uuid.NewString(),
		Kind:     kind,
		Name:     name,
		Endpoint: endpoint,
		Active:   true,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the account's required fields.
func (a *Account) Validate() error {
	if a.ID == "" {
		return &ValidationError{Field: "id", Message: "account id is required"}
	}
	if !a.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown provider kind %q", a.Kind)}
	}
	if a.Kind == ProviderReaderAPI {
		if err := ValidateEndpoint(a.Endpoint); err != nil {
			return err
		}
	}
	return nil
}

// DatabaseFileName is the name of the account's database file inside the data directory.
func (a *Account) DatabaseFileName() string {
	return a.ID + ".db"
}
