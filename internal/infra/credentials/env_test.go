package credentials_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/infra/credentials"
	"feedsync/internal/provider"
)

func TestEnvPrefix(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"freshrss", "FEEDSYNC_FRESHRSS_"},
		{"my-account.1", "FEEDSYNC_MY_ACCOUNT_1_"},
		{"6f1c3b6e-3a3c", "FEEDSYNC_6F1C3B6E_3A3C_"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, credentials.EnvPrefix(tt.id))
		})
	}
}

func TestEnvStore_Credentials(t *testing.T) {
	env := map[string]string{
		"FEEDSYNC_TOKENONLY_TOKEN": " abc ",
		"FEEDSYNC_LOGIN_USERNAME":  "alice",
		"FEEDSYNC_LOGIN_PASSWORD":  "secret",
		"FEEDSYNC_HALF_USERNAME":   "bob",
	}
	store := credentials.NewEnvStoreWithLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	ctx := context.Background()

	creds, err := store.Credentials(ctx, "tokenonly")
	require.NoError(t, err)
	assert.Equal(t, "abc", creds.Token)

	creds, err = store.Credentials(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, provider.Credentials{Username: "alice", Password: "secret"}, creds)

	_, err = store.Credentials(ctx, "half")
	assert.ErrorIs(t, err, provider.ErrNoCredentials)

	_, err = store.Credentials(ctx, "absent")
	assert.ErrorIs(t, err, provider.ErrNoCredentials)
}
