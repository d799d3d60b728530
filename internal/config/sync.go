// Package config loads the daemon configuration: sync tuning from the
// environment and the account list from a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"feedsync/internal/infra/db"
	pkgconfig "feedsync/internal/pkg/config"
)

// SyncConfig holds the tuning knobs of the sync daemon.
type SyncConfig struct {
	// DataDir holds one database file per account.
	DataDir string

	// AccountsFile is the YAML account list.
	AccountsFile string

	// Schedule is the cron expression (or "@every" descriptor) that
	// triggers a sync of every active account.
	Schedule string

	// PushThreshold triggers an immediate push once this many changes are
	// pending in an account's outbox.
	PushThreshold int

	// PushBatchSize is the number of outbox rows selected per push call.
	PushBatchSize int

	// ArticleRetention is how long read, unstarred articles are kept.
	ArticleRetention time.Duration

	// VacuumInterval is the minimum time between two VACUUMs of an account file.
	VacuumInterval time.Duration

	// HTTPTimeout bounds one request to a sync service or feed host.
	HTTPTimeout time.Duration

	// RequestsPerSecond limits calls to one sync service.
	RequestsPerSecond float64

	// BusyTimeout is the SQLite busy timeout for account databases.
	BusyTimeout time.Duration

	// HealthPort serves /health, /health/ready and /metrics.
	HealthPort int

	// TracingEnabled turns on span export to the log.
	TracingEnabled bool

	// TracingSampleRatio is the fraction of sync cycles traced.
	TracingSampleRatio float64
}

// DefaultSyncConfig returns the configuration used when no environment
// variable overrides a field.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		DataDir:            "./data",
		AccountsFile:       "./accounts.yaml",
		Schedule:           "@every 15m",
		PushThreshold:      100,
		PushBatchSize:      100,
		ArticleRetention:   90 * 24 * time.Hour,
		VacuumInterval:     6 * 24 * time.Hour,
		HTTPTimeout:        60 * time.Second,
		RequestsPerSecond:  5,
		BusyTimeout:        db.DefaultConnectionConfig().BusyTimeout,
		HealthPort:         9091,
		TracingEnabled:     false,
		TracingSampleRatio: 1,
	}
}

// Validate checks every field and reports all problems at once.
func (c *SyncConfig) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data dir: cannot be empty"))
	}
	if err := pkgconfig.ValidateCronSchedule(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	if err := pkgconfig.ValidateIntRange(c.PushThreshold, 1, 10000); err != nil {
		errs = append(errs, fmt.Errorf("push threshold: %w", err))
	}
	if err := pkgconfig.ValidateIntRange(c.PushBatchSize, 1, 1000); err != nil {
		errs = append(errs, fmt.Errorf("push batch size: %w", err))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.ArticleRetention); err != nil {
		errs = append(errs, fmt.Errorf("article retention: %w", err))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.VacuumInterval); err != nil {
		errs = append(errs, fmt.Errorf("vacuum interval: %w", err))
	}
	if err := pkgconfig.ValidateDuration(c.HTTPTimeout, time.Second, 10*time.Minute); err != nil {
		errs = append(errs, fmt.Errorf("http timeout: %w", err))
	}
	if c.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("requests per second: must be positive, got %v", c.RequestsPerSecond))
	}
	if err := pkgconfig.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}
	if err := pkgconfig.ValidateRatio(c.TracingSampleRatio); err != nil {
		errs = append(errs, fmt.Errorf("tracing sample ratio: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadSyncConfigFromEnv loads SyncConfig from FEEDSYNC_* variables. Invalid
// values never fail the load: the default is kept, a warning is logged and
// the fallback is recorded in metrics.
func LoadSyncConfigFromEnv(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) *SyncConfig {
	cfg := DefaultSyncConfig()
	fallbackApplied := false

	report := func(field string, warnings []string) {
		fallbackApplied = true
		if metrics != nil {
			metrics.RecordFallback(field)
		}
		for _, warning := range warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", warning))
		}
	}

	cfg.DataDir = pkgconfig.LoadEnvString("FEEDSYNC_DATA_DIR", cfg.DataDir)
	cfg.AccountsFile = pkgconfig.LoadEnvString("FEEDSYNC_ACCOUNTS_FILE", cfg.AccountsFile)

	if r := pkgconfig.LoadEnvWithFallback("FEEDSYNC_SYNC_SCHEDULE", cfg.Schedule, pkgconfig.ValidateCronSchedule); r.FallbackApplied {
		report("sync_schedule", r.Warnings)
	} else {
		cfg.Schedule = r.Value
	}

	ints := []struct {
		env, field string
		dst        *int
		min, max   int
	}{
		{"FEEDSYNC_PUSH_THRESHOLD", "push_threshold", &cfg.PushThreshold, 1, 10000},
		{"FEEDSYNC_PUSH_BATCH_SIZE", "push_batch_size", &cfg.PushBatchSize, 1, 1000},
		{"FEEDSYNC_HEALTH_PORT", "health_port", &cfg.HealthPort, 1024, 65535},
	}
	for _, f := range ints {
		min, max := f.min, f.max
		r := pkgconfig.LoadEnvInt(f.env, *f.dst, func(v int) error {
			return pkgconfig.ValidateIntRange(v, min, max)
		})
		*f.dst = r.Value
		if r.FallbackApplied {
			report(f.field, r.Warnings)
		}
	}

	durations := []struct {
		env, field string
		dst        *time.Duration
		validate   func(time.Duration) error
	}{
		{"FEEDSYNC_ARTICLE_RETENTION", "article_retention", &cfg.ArticleRetention, pkgconfig.ValidatePositiveDuration},
		{"FEEDSYNC_VACUUM_INTERVAL", "vacuum_interval", &cfg.VacuumInterval, pkgconfig.ValidatePositiveDuration},
		{"FEEDSYNC_HTTP_TIMEOUT", "http_timeout", &cfg.HTTPTimeout, func(d time.Duration) error {
			return pkgconfig.ValidateDuration(d, time.Second, 10*time.Minute)
		}},
		{"FEEDSYNC_DB_BUSY_TIMEOUT", "db_busy_timeout", &cfg.BusyTimeout, pkgconfig.ValidatePositiveDuration},
	}
	for _, f := range durations {
		r := pkgconfig.LoadEnvDuration(f.env, *f.dst, f.validate)
		*f.dst = r.Value
		if r.FallbackApplied {
			report(f.field, r.Warnings)
		}
	}

	if r := pkgconfig.LoadEnvFloat("FEEDSYNC_REQUESTS_PER_SECOND", cfg.RequestsPerSecond, func(v float64) error {
		if v <= 0 {
			return fmt.Errorf("must be positive")
		}
		return nil
	}); r.FallbackApplied {
		report("requests_per_second", r.Warnings)
	} else {
		cfg.RequestsPerSecond = r.Value
	}

	if r := pkgconfig.LoadEnvBool("FEEDSYNC_TRACING_ENABLED", cfg.TracingEnabled); r.FallbackApplied {
		report("tracing_enabled", r.Warnings)
	} else {
		cfg.TracingEnabled = r.Value
	}

	if r := pkgconfig.LoadEnvFloat("FEEDSYNC_TRACING_SAMPLE_RATIO", cfg.TracingSampleRatio, pkgconfig.ValidateRatio); r.FallbackApplied {
		report("tracing_sample_ratio", r.Warnings)
	} else {
		cfg.TracingSampleRatio = r.Value
	}

	if metrics != nil {
		metrics.SetFallbackActive(fallbackApplied)
		metrics.RecordLoadTimestamp()
	}
	return &cfg
}
