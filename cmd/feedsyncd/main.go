// Command feedsyncd keeps the configured feed reader accounts in sync with
// their remote services.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/events"
	"feedsync/internal/infra/credentials"
	"feedsync/internal/infra/db"
	workerPkg "feedsync/internal/infra/worker"
	"feedsync/internal/observability/logging"
	"feedsync/internal/observability/tracing"
	"feedsync/internal/usecase/account"
	"feedsync/internal/usecase/reconcile"
	"feedsync/internal/usecase/unread"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("feedsyncd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load sync configuration (fail-open strategy)
	schedulerMetrics := workerPkg.NewSchedulerMetrics()
	cfg := config.LoadSyncConfigFromEnv(logger, schedulerMetrics.ConfigMetrics)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Info("sync configuration loaded",
		slog.String("data_dir", cfg.DataDir),
		slog.String("accounts_file", cfg.AccountsFile),
		slog.String("schedule", cfg.Schedule),
		slog.Int("push_threshold", cfg.PushThreshold),
		slog.Int("push_batch_size", cfg.PushBatchSize),
		slog.Duration("article_retention", cfg.ArticleRetention),
		slog.Int("health_port", cfg.HealthPort))

	shutdownTracing := tracing.Init(tracing.Config{
		Enabled:     cfg.TracingEnabled,
		SampleRatio: cfg.TracingSampleRatio,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", slog.Any("error", err))
		}
	}()

	accounts, err := config.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	registry := account.NewRegistry(account.Options{
		DataDir: cfg.DataDir,
		Connection: db.ConnectionConfig{
			BusyTimeout: cfg.BusyTimeout,
			Synchronous: db.DefaultConnectionConfig().Synchronous,
		},
		NewProvider: account.DefaultProviders(account.ProviderConfig{
			Credentials:       credentials.NewEnvStore(),
			HTTPTimeout:       cfg.HTTPTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Logger:            logger,
		}),
	}, bus, logger)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Error("failed to close account databases", slog.Any("error", err))
		}
	}()

	if err := registerAccounts(ctx, registry, accounts); err != nil {
		return err
	}

	aggregator := unread.NewAggregator(bus, logger)
	coordinator := reconcile.NewCoordinator(registry, aggregator, reconcile.Config{
		PushBatchSize:  cfg.PushBatchSize,
		PushThreshold:  cfg.PushThreshold,
		Retention:      cfg.ArticleRetention,
		VacuumInterval: cfg.VacuumInterval,
	}, schedulerMetrics, logger)

	// Start health check server
	healthAddr := fmt.Sprintf(":%d", cfg.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger, accountStatuses{coordinator})
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	go reloadOnHangup(ctx, coordinator, registry, cfg.AccountsFile, logger)

	healthServer.SetReady(true)
	logger.Info("feedsyncd started", slog.Int("accounts", len(registry.List())))

	err = coordinator.Run(ctx, cfg.Schedule)
	healthServer.SetReady(false)
	logger.Info("feedsyncd shutting down")
	return err
}

// registerAccounts opens every configured account. Local accounts get the
// feeds listed in the accounts file on first start.
func registerAccounts(ctx context.Context, registry *account.Registry, file *config.AccountsFile) error {
	for i := range file.Accounts {
		ac := &file.Accounts[i]
		a, err := registry.Add(ctx, ac.Account())
		if err != nil {
			return err
		}
		if err := seedFeeds(ctx, a, ac); err != nil {
			return err
		}
	}
	return nil
}

func seedFeeds(ctx context.Context, a *account.Account, ac *config.AccountConfig) error {
	feeds, folders := ac.SeedFeeds()
	if len(feeds) == 0 && len(folders) == 0 {
		return nil
	}
	if err := a.SeedFeeds(ctx, feeds, folders); err != nil {
		return fmt.Errorf("account %s: %w", a.ID, err)
	}
	return nil
}

// reloadOnHangup re-reads the accounts file on SIGHUP.
func reloadOnHangup(ctx context.Context, coordinator *reconcile.Coordinator, registry *account.Registry, path string, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reloadAccounts(ctx, coordinator, registry, path, logger); err != nil {
				logger.Error("accounts reload failed", slog.Any("error", err))
			}
		}
	}
}

// reloadAccounts adds the listed accounts that are not registered yet and
// removes, with their data, the registered accounts no longer listed.
func reloadAccounts(ctx context.Context, coordinator *reconcile.Coordinator, registry *account.Registry, path string, logger *slog.Logger) error {
	file, err := config.LoadAccounts(path)
	if err != nil {
		return err
	}

	var errs []error
	listed := make(map[string]bool, len(file.Accounts))
	for i := range file.Accounts {
		ac := &file.Accounts[i]
		acct := ac.Account()
		listed[acct.ID] = true
		if _, ok := registry.Get(acct.ID); ok {
			continue
		}

		a, err := coordinator.AddAccount(ctx, acct)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := seedFeeds(ctx, a, ac); err != nil {
			errs = append(errs, err)
			continue
		}
		if e, ok := coordinator.Engine(a.ID); ok {
			e.Trigger()
		}
		logger.Info("account added from accounts file", slog.String("account_id", a.ID))
	}

	for _, a := range registry.List() {
		if listed[a.ID] {
			continue
		}
		if err := coordinator.RemoveAccount(a.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Warn("account no longer listed, removed with its data", slog.String("account_id", a.ID))
	}
	return errors.Join(errs...)
}

// accountStatuses exposes coordinator state on /health/accounts.
type accountStatuses struct {
	coordinator *reconcile.Coordinator
}

func (s accountStatuses) AccountStatuses() []workerPkg.AccountStatus {
	states := s.coordinator.States()
	out := make([]workerPkg.AccountStatus, len(states))
	for i, st := range states {
		out[i] = workerPkg.AccountStatus{
			ID:        st.ID,
			Kind:      string(st.Kind),
			Halted:    st.Halted,
			Suspended: st.Suspended,
			LastError: logging.SanitizeError(st.LastError),
		}
	}
	return out
}
