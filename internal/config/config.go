package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from a YAML file.
type Config struct {
	Timezone  string          `yaml:"timezone,omitempty"`
	DataDir   string          `yaml:"data_dir"`
	Backup    BackupConfig    `yaml:"backup"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// BackupConfig controls artifact placement and retention.
type BackupConfig struct {
	// Root is the directory backup artifacts are written under.
	Root string `yaml:"root"`

	// MirrorRoot is an optional secondary storage root. Artifacts and
	// sidecars are copied there best-effort after each backup.
	MirrorRoot string `yaml:"mirror_root,omitempty"`

	// StateDir holds persisted runtime state (maintenance flag,
	// scheduler markers). Defaults to <root>/state.
	StateDir string `yaml:"state_dir,omitempty"`

	FullRetentionDays int `yaml:"full_retention_days,omitempty"`
	SiteRetentionDays int `yaml:"site_retention_days,omitempty"`
}

// SchedulerConfig controls the automatic backup loop.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// TickSeconds is the interval between calendar checks.
	TickSeconds int `yaml:"tick_seconds,omitempty"`

	// DailyWindowMinutes bounds the time-of-day window after midnight
	// in which the daily full backup may fire.
	DailyWindowMinutes int `yaml:"daily_window_minutes,omitempty"`

	// WeeklyDay is the weekday for the per-site backup run.
	WeeklyDay string `yaml:"weekly_day,omitempty"`

	// WeeklyHour is the hour of day the weekly window opens.
	WeeklyHour int `yaml:"weekly_hour,omitempty"`

	// WeeklyWindowMinutes bounds the weekly trigger window.
	WeeklyWindowMinutes int `yaml:"weekly_window_minutes,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level   string `yaml:"level,omitempty"`
	Format  string `yaml:"format,omitempty"`
	LogFile string `yaml:"log_file,omitempty"`
}

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg.applyDefaults(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(baseDir, c.DataDir)
	}
	if c.Backup.Root == "" {
		c.Backup.Root = filepath.Join(baseDir, "backups")
	} else if !filepath.IsAbs(c.Backup.Root) {
		c.Backup.Root = filepath.Join(baseDir, c.Backup.Root)
	}
	if c.Backup.MirrorRoot != "" && !filepath.IsAbs(c.Backup.MirrorRoot) {
		c.Backup.MirrorRoot = filepath.Join(baseDir, c.Backup.MirrorRoot)
	}
	if c.Backup.StateDir == "" {
		c.Backup.StateDir = filepath.Join(c.Backup.Root, "state")
	} else if !filepath.IsAbs(c.Backup.StateDir) {
		c.Backup.StateDir = filepath.Join(baseDir, c.Backup.StateDir)
	}
	if c.Backup.FullRetentionDays == 0 {
		c.Backup.FullRetentionDays = 14
	}
	if c.Backup.SiteRetentionDays == 0 {
		c.Backup.SiteRetentionDays = 30
	}
	if c.Scheduler.TickSeconds == 0 {
		c.Scheduler.TickSeconds = 30
	}
	if c.Scheduler.DailyWindowMinutes == 0 {
		c.Scheduler.DailyWindowMinutes = 15
	}
	if c.Scheduler.WeeklyDay == "" {
		c.Scheduler.WeeklyDay = "sunday"
	}
	if c.Scheduler.WeeklyWindowMinutes == 0 {
		c.Scheduler.WeeklyWindowMinutes = 15
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if _, err := ParseWeekday(c.Scheduler.WeeklyDay); err != nil {
		return err
	}
	if c.Scheduler.TickSeconds < 1 {
		return fmt.Errorf("scheduler tick_seconds must be positive")
	}
	if c.Scheduler.WeeklyHour < 0 || c.Scheduler.WeeklyHour > 23 {
		return fmt.Errorf("scheduler weekly_hour must be 0-23")
	}
	if c.Backup.FullRetentionDays < 1 || c.Backup.SiteRetentionDays < 1 {
		return fmt.Errorf("retention windows must be at least one day")
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseWeekday maps a lowercase weekday name to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(name) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("invalid weekday %q", name)
}
