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
	dir := t.TempDir()
	path := filepath.Join(dir, "aptops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "data_dir: data\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.Timezone)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, filepath.Join(filepath.Dir(path), "backups"), cfg.Backup.Root)
	assert.Equal(t, filepath.Join(cfg.Backup.Root, "state"), cfg.Backup.StateDir)
	assert.Equal(t, 14, cfg.Backup.FullRetentionDays)
	assert.Equal(t, 30, cfg.Backup.SiteRetentionDays)
	assert.Equal(t, 30, cfg.Scheduler.TickSeconds)
	assert.Equal(t, "sunday", cfg.Scheduler.WeeklyDay)
	assert.Equal(t, 15, cfg.Scheduler.DailyWindowMinutes)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
timezone: Asia/Seoul
data_dir: /var/lib/aptops
backup:
  root: /srv/backups
  mirror_root: /mnt/nas/backups
  full_retention_days: 7
  site_retention_days: 60
scheduler:
  enabled: true
  tick_seconds: 10
  weekly_day: wednesday
  weekly_hour: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/aptops", cfg.DataDir)
	assert.Equal(t, "/srv/backups", cfg.Backup.Root)
	assert.Equal(t, "/mnt/nas/backups", cfg.Backup.MirrorRoot)
	assert.Equal(t, 7, cfg.Backup.FullRetentionDays)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 10, cfg.Scheduler.TickSeconds)
	assert.Equal(t, "Asia/Seoul", cfg.Location().String())
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	path := writeConfig(t, "timezone: Mars/Olympus\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
}

func TestLoadRejectsBadWeekday(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  weekly_day: someday\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekday")
}

func TestParseWeekday(t *testing.T) {
	day, err := ParseWeekday("Wednesday")
	require.NoError(t, err)
	assert.Equal(t, time.Wednesday, day)

	_, err = ParseWeekday("noday")
	assert.Error(t, err)
}
