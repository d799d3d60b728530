package account

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"feedsync/internal/domain/entity"
	"feedsync/internal/infra/provider/local"
	"feedsync/internal/infra/provider/readerapi"
	"feedsync/internal/observability/tracing"
	"feedsync/internal/provider"
	"feedsync/internal/repository"
)

// ProviderConfig holds what the built-in providers need beyond the account.
type ProviderConfig struct {
	Credentials       provider.CredentialStore
	HTTPTimeout       time.Duration
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// DefaultProviders returns a factory for every built-in provider kind. Local
// accounts share one feed parser so its circuit breaker sees every host.
func DefaultProviders(cfg ProviderConfig) ProviderFactory {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: tracing.NewTransport(nil),
	}
	parser := local.NewGofeedParser(client)

	return func(_ context.Context, acct *entity.Account, feeds repository.FeedStore) (provider.Provider, error) {
		switch acct.Kind {
		case entity.ProviderLocal:
			return local.New(local.Config{
				AccountID: acct.ID,
				Feeds:     feeds,
				Parser:    parser,
				Logger:    cfg.Logger,
			})
		case entity.ProviderReaderAPI:
			return readerapi.New(readerapi.Config{
				AccountID:         acct.ID,
				Endpoint:          acct.Endpoint,
				Credentials:       cfg.Credentials,
				HTTPClient:        client,
				RequestsPerSecond: cfg.RequestsPerSecond,
				Logger:            cfg.Logger,
			})
		default:
			return nil, fmt.Errorf("unknown provider kind %q", acct.Kind)
		}
	}
}
