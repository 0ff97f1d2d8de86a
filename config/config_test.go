package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staffsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile_AppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "/var/lib/staffsync/jobs.db"

[scheduler]
poll_interval_ms = 1000
max_attempts = 7

[business]
timezone = "America/New_York"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/staffsync/jobs.db", cfg.Database.Path)
	assert.Equal(t, 1000, cfg.Scheduler.PollIntervalMS)
	assert.Equal(t, 7, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, "America/New_York", cfg.Business.Timezone)

	// Untouched keys keep their defaults.
	assert.Equal(t, 25, cfg.Scheduler.BatchLimit)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentJobs)
	assert.Equal(t, 14, cfg.Business.PrehireExecHour)
	assert.Equal(t, 45, cfg.Business.PrehireExecMinute)
	assert.Equal(t, 5, cfg.Business.PrehireOffsetDays)

	assert.Equal(t, path, cfg.FilePath())
}

func TestLoadFromFile_EnvOverride(t *testing.T) {
	t.Setenv("STAFFSYNC_SCHEDULER_MAX_ATTEMPTS", "9")

	path := writeConfig(t, `
[scheduler]
max_attempts = 3
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Scheduler.MaxAttempts, "environment wins over the file")
}

func TestLoadFromFile_InvalidValuesRejected(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero poll interval", "[scheduler]\npoll_interval_ms = 0\n"},
		{"bad jitter", "[scheduler]\nbackoff_jitter_fraction = 1.5\n"},
		{"bad timezone", "[business]\ntimezone = \"Mars/Olympus\"\n"},
		{"bad hour", "[business]\noffboard_exec_hour = 24\n"},
		{"bad minute", "[business]\nprehire_exec_minute = 60\n"},
		{"empty db path", "[database]\npath = \"\"\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tc.content))
			require.Error(t, err)
		})
	}
}

func TestConfigDurationHelpers(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.TickerConfig().Interval)
	assert.Equal(t, 25, cfg.TickerConfig().BatchLimit)

	ec := cfg.ExecutorConfig()
	assert.Equal(t, 4, ec.MaxConcurrent)
	assert.Equal(t, 5, ec.MaxAttempts)
	assert.Equal(t, 30*time.Second, ec.Backoff.Base)
	assert.Equal(t, 30*time.Minute, ec.Backoff.Cap)
	assert.Equal(t, 5*time.Second, ec.Backoff.Min)

	assert.Equal(t, time.Minute, cfg.DedupTolerance())
	assert.Equal(t, 10*time.Minute, cfg.CooldownDuration())
	assert.Equal(t, 15*time.Minute, cfg.StaleRunningThreshold())
	assert.Equal(t, 2*time.Minute, cfg.QuickFallback())
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}
