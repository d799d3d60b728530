package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "feedsync/internal/pkg/config"
)

func TestDefaultSyncConfig_IsValid(t *testing.T) {
	cfg := DefaultSyncConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.PushThreshold)
	assert.Equal(t, 90*24*time.Hour, cfg.ArticleRetention)
}

func TestSyncConfig_Validate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultSyncConfig()
	cfg.DataDir = ""
	cfg.Schedule = "sometimes"
	cfg.PushBatchSize = 0
	cfg.RequestsPerSecond = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"data dir", "schedule", "push batch size", "requests per second"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadSyncConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("FEEDSYNC_DATA_DIR", "/tmp/feedsync")
	t.Setenv("FEEDSYNC_SYNC_SCHEDULE", "@every 2m")
	t.Setenv("FEEDSYNC_PUSH_THRESHOLD", "25")
	t.Setenv("FEEDSYNC_HTTP_TIMEOUT", "15s")
	t.Setenv("FEEDSYNC_REQUESTS_PER_SECOND", "0.5")
	t.Setenv("FEEDSYNC_TRACING_ENABLED", "true")

	cfg := LoadSyncConfigFromEnv(slog.Default(), nil)

	assert.Equal(t, "/tmp/feedsync", cfg.DataDir)
	assert.Equal(t, "@every 2m", cfg.Schedule)
	assert.Equal(t, 25, cfg.PushThreshold)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 0.5, cfg.RequestsPerSecond)
	assert.True(t, cfg.TracingEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadSyncConfigFromEnv_FallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("FEEDSYNC_SYNC_SCHEDULE", "every now and then")
	t.Setenv("FEEDSYNC_PUSH_BATCH_SIZE", "100000")
	t.Setenv("FEEDSYNC_VACUUM_INTERVAL", "-1h")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	metrics := pkgconfig.NewConfigMetrics("test_sync_fallback")

	cfg := LoadSyncConfigFromEnv(logger, metrics)

	defaults := DefaultSyncConfig()
	assert.Equal(t, defaults.Schedule, cfg.Schedule)
	assert.Equal(t, defaults.PushBatchSize, cfg.PushBatchSize)
	assert.Equal(t, defaults.VacuumInterval, cfg.VacuumInterval)

	assert.Contains(t, buf.String(), "Configuration fallback applied")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("sync_schedule")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("push_batch_size")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FallbackActive))
}
