// Package config loads staffsync configuration from a TOML file with
// environment overrides. Search order: explicit path, then staffsync.toml
// walking up from the working directory. Every key has a default so the
// daemon runs with no file at all.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teranos/staffsync/errors"
	"github.com/teranos/staffsync/sched"
)

const (
	configName = "staffsync"
	configType = "toml"
	envPrefix  = "STAFFSYNC"
)

// Config is the full configuration surface.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Business  BusinessConfig  `mapstructure:"business"`
	Log       LogConfig       `mapstructure:"log"`

	// loadedFrom is the resolved config file path, empty when running on
	// defaults only. Used by the hot-reload watcher.
	loadedFrom string
}

// DatabaseConfig locates the embedded store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig tunes the ticker, executor and dedup/cooldown windows.
type SchedulerConfig struct {
	PollIntervalMS        int     `mapstructure:"poll_interval_ms"`
	BatchLimit            int     `mapstructure:"batch_limit"`
	MaxConcurrentJobs     int     `mapstructure:"max_concurrent_jobs"`
	MaxAttempts           int     `mapstructure:"max_attempts"`
	DispatchRatePerMinute int     `mapstructure:"dispatch_rate_per_minute"`
	BackoffBaseMS         int     `mapstructure:"backoff_base_ms"`
	BackoffMultiplier     float64 `mapstructure:"backoff_multiplier"`
	BackoffCapMS          int     `mapstructure:"backoff_cap_ms"`
	BackoffJitterFraction float64 `mapstructure:"backoff_jitter_fraction"`
	BackoffMinMS          int     `mapstructure:"backoff_min_ms"`
	DedupToleranceMS      int     `mapstructure:"dedup_tolerance_ms"`
	CooldownMinutes       int     `mapstructure:"cooldown_minutes"`
	StaleRunningMinutes   int     `mapstructure:"stale_running_minutes"`
}

// BusinessConfig holds the business-date scheduling parameters.
type BusinessConfig struct {
	Timezone             string `mapstructure:"timezone"`
	PrehireExecHour      int    `mapstructure:"prehire_exec_hour"`
	PrehireExecMinute    int    `mapstructure:"prehire_exec_minute"`
	PrehireOffsetDays    int    `mapstructure:"prehire_offset_days"`
	OffboardExecHour     int    `mapstructure:"offboard_exec_hour"`
	OffboardExecMinute   int    `mapstructure:"offboard_exec_minute"`
	QuickFallbackMinutes int    `mapstructure:"quick_fallback_minutes"`
	EmailDomain          string `mapstructure:"email_domain"`
}

// LogConfig controls log output format.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// SetDefaults registers every config key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "staffsync.db")

	v.SetDefault("scheduler.poll_interval_ms", 5000)
	v.SetDefault("scheduler.batch_limit", 25)
	v.SetDefault("scheduler.max_concurrent_jobs", 4)
	v.SetDefault("scheduler.max_attempts", 5)
	v.SetDefault("scheduler.dispatch_rate_per_minute", 0)
	v.SetDefault("scheduler.backoff_base_ms", 30000)
	v.SetDefault("scheduler.backoff_multiplier", 2.0)
	v.SetDefault("scheduler.backoff_cap_ms", 1800000)
	v.SetDefault("scheduler.backoff_jitter_fraction", 0.2)
	v.SetDefault("scheduler.backoff_min_ms", 5000)
	v.SetDefault("scheduler.dedup_tolerance_ms", 60000)
	v.SetDefault("scheduler.cooldown_minutes", 10)
	v.SetDefault("scheduler.stale_running_minutes", 15)

	v.SetDefault("business.timezone", "Europe/Berlin")
	v.SetDefault("business.prehire_exec_hour", 14)
	v.SetDefault("business.prehire_exec_minute", 45)
	v.SetDefault("business.prehire_offset_days", 5)
	v.SetDefault("business.offboard_exec_hour", 18)
	v.SetDefault("business.offboard_exec_minute", 0)
	v.SetDefault("business.quick_fallback_minutes", 2)
	v.SetDefault("business.email_domain", "example.com")

	v.SetDefault("log.json", false)
}

// Load reads configuration from the first staffsync.toml found walking up
// from the working directory, overlaid with STAFFSYNC_* environment
// variables. A missing file is not an error.
func Load() (*Config, error) {
	return load("")
}

// LoadFromFile reads configuration from an explicit path.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.NewInvalidRequestError("config path is empty")
	}
	return load(path)
}

func load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType(configType)
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", explicitPath)
		}
	} else if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.loadedFrom = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile walks up from the working directory looking for
// staffsync.toml. Returns "" when none exists.
func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, configName+"."+configType)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.NewInvalidRequestError("database.path must not be empty")
	}

	s := c.Scheduler
	if s.PollIntervalMS <= 0 {
		return errors.NewInvalidRequestError("scheduler.poll_interval_ms must be positive")
	}
	if s.BatchLimit < 1 {
		return errors.NewInvalidRequestError("scheduler.batch_limit must be at least 1")
	}
	if s.MaxConcurrentJobs < 1 {
		return errors.NewInvalidRequestError("scheduler.max_concurrent_jobs must be at least 1")
	}
	if s.MaxAttempts < 1 {
		return errors.NewInvalidRequestError("scheduler.max_attempts must be at least 1")
	}
	if s.BackoffMultiplier < 1 {
		return errors.NewInvalidRequestError("scheduler.backoff_multiplier must be at least 1")
	}
	if s.BackoffJitterFraction < 0 || s.BackoffJitterFraction > 1 {
		return errors.NewInvalidRequestError("scheduler.backoff_jitter_fraction must be between 0 and 1")
	}
	if s.DedupToleranceMS < 0 {
		return errors.NewInvalidRequestError("scheduler.dedup_tolerance_ms must not be negative")
	}

	b := c.Business
	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return errors.NewInvalidRequestError("business.timezone %q is not a valid IANA zone", b.Timezone)
	}
	for _, hm := range []struct {
		name         string
		hour, minute int
	}{
		{"prehire_exec", b.PrehireExecHour, b.PrehireExecMinute},
		{"offboard_exec", b.OffboardExecHour, b.OffboardExecMinute},
	} {
		if hm.hour < 0 || hm.hour > 23 {
			return errors.NewInvalidRequestError("business.%s_hour must be between 0 and 23", hm.name)
		}
		if hm.minute < 0 || hm.minute > 59 {
			return errors.NewInvalidRequestError("business.%s_minute must be between 0 and 59", hm.name)
		}
	}
	if b.PrehireOffsetDays < 0 {
		return errors.NewInvalidRequestError("business.prehire_offset_days must not be negative")
	}
	if b.QuickFallbackMinutes < 1 {
		return errors.NewInvalidRequestError("business.quick_fallback_minutes must be at least 1")
	}
	return nil
}

// FilePath returns the config file this configuration was loaded from, or
// "" when running on defaults.
func (c *Config) FilePath() string {
	return c.loadedFrom
}

// Location resolves the business time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Business.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TickerConfig maps scheduler settings onto the engine ticker.
func (c *Config) TickerConfig() sched.TickerConfig {
	return sched.TickerConfig{
		Interval:   time.Duration(c.Scheduler.PollIntervalMS) * time.Millisecond,
		BatchLimit: c.Scheduler.BatchLimit,
	}
}

// ExecutorConfig maps scheduler settings onto the engine executor.
func (c *Config) ExecutorConfig() sched.ExecutorConfig {
	return sched.ExecutorConfig{
		MaxConcurrent: c.Scheduler.MaxConcurrentJobs,
		MaxAttempts:   c.Scheduler.MaxAttempts,
		RatePerMinute: c.Scheduler.DispatchRatePerMinute,
		Backoff: sched.Backoff{
			Base:           time.Duration(c.Scheduler.BackoffBaseMS) * time.Millisecond,
			Multiplier:     c.Scheduler.BackoffMultiplier,
			Cap:            time.Duration(c.Scheduler.BackoffCapMS) * time.Millisecond,
			JitterFraction: c.Scheduler.BackoffJitterFraction,
			Min:            time.Duration(c.Scheduler.BackoffMinMS) * time.Millisecond,
		},
	}
}

// DedupTolerance returns the dedup window as a duration.
func (c *Config) DedupTolerance() time.Duration {
	return time.Duration(c.Scheduler.DedupToleranceMS) * time.Millisecond
}

// CooldownDuration returns the post-mutation cooldown as a duration.
func (c *Config) CooldownDuration() time.Duration {
	return time.Duration(c.Scheduler.CooldownMinutes) * time.Minute
}

// StaleRunningThreshold returns how old a running row must be before the
// startup reconciliation returns it to pending.
func (c *Config) StaleRunningThreshold() time.Duration {
	return time.Duration(c.Scheduler.StaleRunningMinutes) * time.Minute
}

// QuickFallback returns the quick-fallback delay as a duration.
func (c *Config) QuickFallback() time.Duration {
	return time.Duration(c.Business.QuickFallbackMinutes) * time.Minute
}
