package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State holds the persisted calendar markers. A marker records the
// last calendar slot a job ran for, so a restart inside a trigger
// window does not fire the same job twice.
type State struct {
	// FullBackupLastDate is the local date (2006-01-02) of the last
	// scheduled full backup.
	FullBackupLastDate string `json:"full_backup_last_date,omitempty"`

	// SiteBackupLastWeek is the ISO week (2006-W02) of the last
	// scheduled per-site backup run.
	SiteBackupLastWeek string `json:"site_backup_last_week,omitempty"`
}

const stateFileName = "scheduler.json"

func loadState(stateDir string) (State, error) {
	var st State
	data, err := os.ReadFile(filepath.Join(stateDir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read scheduler state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse scheduler state: %w", err)
	}
	return st, nil
}

func saveState(stateDir string, st State) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(stateDir, stateFileName)
	tmp, err := os.CreateTemp(stateDir, ".scheduler-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// dateKey is the daily calendar marker for a local time.
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// weekKey is the ISO-week calendar marker for a local time.
func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
