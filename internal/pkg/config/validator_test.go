package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ============================================================
// Test Group 1: ValidateCronSchedule
// ============================================================

func TestValidateCronSchedule_Valid(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
	}{
		{"every 5 minutes", "*/5 * * * *"},
		{"every 6 hours", "0 */6 * * *"},
		{"weekdays at 9:30", "30 9 * * 1-5"},
		{"interval descriptor", "@every 5m"},
		{"compound interval", "@every 1h30m"},
		{"hourly descriptor", "@hourly"},
		{"complex expression", "15,45 */2 * * 1,3,5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, ValidateCronSchedule(tt.schedule))
		})
	}
}

func TestValidateCronSchedule_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
	}{
		{"empty string", ""},
		{"too few fields", "0 0"},
		{"too many fields", "0 0 * * * * *"},
		{"invalid minute", "60 0 * * *"},
		{"invalid weekday", "0 0 * * 8"},
		{"bad interval", "@every soon"},
		{"unknown descriptor", "@fortnightly"},
		{"random text", "invalid format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCronSchedule(tt.schedule)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "invalid cron schedule")
		})
	}
}

// ============================================================
// Test Group 2: ranges
// ============================================================

func TestValidateDuration(t *testing.T) {
	assert.NoError(t, ValidateDuration(time.Hour, time.Minute, 24*time.Hour))
	assert.NoError(t, ValidateDuration(time.Minute, time.Minute, time.Minute))
	assert.ErrorContains(t, ValidateDuration(time.Second, time.Minute, time.Hour), "below minimum")
	assert.ErrorContains(t, ValidateDuration(2*time.Hour, time.Minute, time.Hour), "exceeds maximum")
	assert.ErrorContains(t, ValidateDuration(time.Minute, time.Hour, time.Minute), "invalid range")
}

func TestValidateIntRange(t *testing.T) {
	assert.NoError(t, ValidateIntRange(100, 1, 1000))
	assert.NoError(t, ValidateIntRange(1, 1, 1))
	assert.ErrorContains(t, ValidateIntRange(0, 1, 10), "below minimum")
	assert.ErrorContains(t, ValidateIntRange(11, 1, 10), "exceeds maximum")
	assert.ErrorContains(t, ValidateIntRange(5, 10, 1), "invalid range")
}

func TestValidatePositiveDuration(t *testing.T) {
	assert.NoError(t, ValidatePositiveDuration(time.Nanosecond))
	assert.ErrorContains(t, ValidatePositiveDuration(0), "must be positive")
	assert.ErrorContains(t, ValidatePositiveDuration(-time.Second), "must be positive")
}

func TestValidateRatio(t *testing.T) {
	assert.NoError(t, ValidateRatio(0))
	assert.NoError(t, ValidateRatio(1))
	assert.NoError(t, ValidateRatio(0.5))
	assert.Error(t, ValidateRatio(-0.1))
	assert.Error(t, ValidateRatio(1.01))
}
