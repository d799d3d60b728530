// Package credentials provides the default provider.CredentialStore, which
// reads account credentials from environment variables.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"feedsync/internal/provider"
)

// EnvStore reads FEEDSYNC_<ACCOUNT>_TOKEN, FEEDSYNC_<ACCOUNT>_USERNAME and
// FEEDSYNC_<ACCOUNT>_PASSWORD, where <ACCOUNT> is the account ID upper-cased
// with every character outside [A-Z0-9] replaced by '_'.
type EnvStore struct {
	lookup func(string) (string, bool)
}

var _ provider.CredentialStore = (*EnvStore)(nil)

// NewEnvStore creates a store reading the process environment.
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

// NewEnvStoreWithLookup creates a store reading through lookup.
func NewEnvStoreWithLookup(lookup func(string) (string, bool)) *EnvStore {
	return &EnvStore{lookup: lookup}
}

// Credentials implements provider.CredentialStore.
func (s *EnvStore) Credentials(_ context.Context, accountID string) (provider.Credentials, error) {
	prefix := EnvPrefix(accountID)
	creds := provider.Credentials{
		Token:    s.get(prefix + "TOKEN"),
		Username: s.get(prefix + "USERNAME"),
		Password: s.get(prefix + "PASSWORD"),
	}
	if creds.IsEmpty() {
		return provider.Credentials{}, fmt.Errorf("account %s: %w (set %sTOKEN or %sUSERNAME/%sPASSWORD)",
			accountID, provider.ErrNoCredentials, prefix, prefix, prefix)
	}
	return creds, nil
}

func (s *EnvStore) get(key string) string {
	v, _ := s.lookup(key)
	return strings.TrimSpace(v)
}

// EnvPrefix returns the variable prefix for accountID, e.g. "FEEDSYNC_MY_ACCOUNT_".
func EnvPrefix(accountID string) string {
	var b strings.Builder
	b.WriteString("FEEDSYNC_")
	for _, r := range strings.ToUpper(accountID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteByte('_')
	return b.String()
}
