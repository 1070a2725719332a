// Package config loads the orchestrator settings from YAML and FLOWFARM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ADB struct {
	Path              string
	CommandTimeout    time.Duration
	CommandsPerSecond float64
	Burst             int
}

type Monitor struct {
	Interval       time.Duration
	OfflineTimeout time.Duration
	// Capabilities are package names probed on every scanned device.
	Capabilities []string
}

// Pacing bounds the randomized delay a worker sleeps between items.
type Pacing struct {
	Min time.Duration
	Max time.Duration
}

type Navigation struct {
	App            string // lexicon name
	VerifyAttempts int
	SettleDelay    time.Duration
	MaxBackPresses int
	MaxRecoveries  int
	MaxScrolls     int
	DedupEpsilon   int
	RowTolerance   int
}

type Batch struct {
	Platform   string
	MaxRetries int
}

type Log struct {
	Level      string
	Console    bool
	File       bool
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

type Config struct {
	DataDir      string
	InboxDir     string
	FilterScript string
	ADB          ADB
	Monitor      Monitor
	Pacing       Pacing
	Navigation   Navigation
	Batch        Batch
	Log          Log
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("inbox_dir", "")
	v.SetDefault("filter_script", "")

	v.SetDefault("adb.path", "")
	v.SetDefault("adb.command_timeout", "30s")
	v.SetDefault("adb.commands_per_second", 5.0)
	v.SetDefault("adb.burst", 3)

	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.offline_timeout", "60s")
	v.SetDefault("monitor.capabilities", []string{"com.xingin.xhs", "com.ss.android.ugc.aweme"})

	v.SetDefault("pacing.min", "2s")
	v.SetDefault("pacing.max", "5s")

	v.SetDefault("navigation.app", "xiaohongshu")
	v.SetDefault("navigation.verify_attempts", 3)
	v.SetDefault("navigation.settle_delay", "1500ms")
	v.SetDefault("navigation.max_back_presses", 3)
	v.SetDefault("navigation.max_recoveries", 2)
	v.SetDefault("navigation.max_scrolls", 5)
	v.SetDefault("navigation.dedup_epsilon", 10)
	v.SetDefault("navigation.row_tolerance", 60)

	v.SetDefault("batch.platform", "xiaohongshu")
	v.SetDefault("batch.max_retries", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", false)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.max_backups", 5)
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return build(v)
}

// Load reads path (YAML) over the defaults. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLOWFARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := build(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(v *viper.Viper) *Config {
	return &Config{
		DataDir:      v.GetString("data_dir"),
		InboxDir:     v.GetString("inbox_dir"),
		FilterScript: v.GetString("filter_script"),
		ADB: ADB{
			Path:              v.GetString("adb.path"),
			CommandTimeout:    v.GetDuration("adb.command_timeout"),
			CommandsPerSecond: v.GetFloat64("adb.commands_per_second"),
			Burst:             v.GetInt("adb.burst"),
		},
		Monitor: Monitor{
			Interval:       v.GetDuration("monitor.interval"),
			OfflineTimeout: v.GetDuration("monitor.offline_timeout"),
			Capabilities:   v.GetStringSlice("monitor.capabilities"),
		},
		Pacing: Pacing{
			Min: v.GetDuration("pacing.min"),
			Max: v.GetDuration("pacing.max"),
		},
		Navigation: Navigation{
			App:            v.GetString("navigation.app"),
			VerifyAttempts: v.GetInt("navigation.verify_attempts"),
			SettleDelay:    v.GetDuration("navigation.settle_delay"),
			MaxBackPresses: v.GetInt("navigation.max_back_presses"),
			MaxRecoveries:  v.GetInt("navigation.max_recoveries"),
			MaxScrolls:     v.GetInt("navigation.max_scrolls"),
			DedupEpsilon:   v.GetInt("navigation.dedup_epsilon"),
			RowTolerance:   v.GetInt("navigation.row_tolerance"),
		},
		Batch: Batch{
			Platform:   v.GetString("batch.platform"),
			MaxRetries: v.GetInt("batch.max_retries"),
		},
		Log: Log{
			Level:      v.GetString("log.level"),
			Console:    v.GetBool("log.console"),
			File:       v.GetBool("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			MaxBackups: v.GetInt("log.max_backups"),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Pacing.Min < 0 {
		errs = append(errs, fmt.Errorf("pacing.min must not be negative"))
	}
	if c.Pacing.Max < c.Pacing.Min {
		errs = append(errs, fmt.Errorf("pacing.max (%s) is below pacing.min (%s)", c.Pacing.Max, c.Pacing.Min))
	}
	if c.ADB.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("adb.command_timeout must be positive"))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.interval must be positive"))
	}
	if c.Monitor.OfflineTimeout <= 0 {
		errs = append(errs, fmt.Errorf("monitor.offline_timeout must be positive"))
	}
	if c.Navigation.VerifyAttempts < 1 {
		errs = append(errs, fmt.Errorf("navigation.verify_attempts must be at least 1"))
	}
	if c.Navigation.MaxBackPresses < 1 {
		errs = append(errs, fmt.Errorf("navigation.max_back_presses must be at least 1"))
	}
	if c.Navigation.DedupEpsilon < 0 {
		errs = append(errs, fmt.Errorf("navigation.dedup_epsilon must not be negative"))
	}
	if c.Batch.Platform == "" {
		errs = append(errs, fmt.Errorf("batch.platform is required"))
	}
	return errors.Join(errs...)
}
