// Package maintenance owns the persisted maintenance-mode flag that the
// web layer observes while disruptive operations run. Every transition
// is flushed to disk immediately so a crash mid-maintenance leaves the
// flag set for the next process to see.
package maintenance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Reasons recorded on the maintenance flag by job runners. A reason
// ending in _failed means a job left maintenance active deliberately
// and a human must clear it.
const (
	ReasonFullBackup             = "full_backup"
	ReasonRestore                = "restore"
	ReasonManual                 = "manual"
	ReasonFullBackupFailed       = "full_backup_failed"
	ReasonRestoreFailed          = "restore_failed"
	ReasonPostBackupCheckFailed  = "post_backup_check_failed"
	ReasonPostRestoreCheckFailed = "post_restore_check_failed"
)

// State is the singleton maintenance record.
type State struct {
	Active    bool      `json:"active"`
	Message   string    `json:"message,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Store persists the maintenance state. Safe for concurrent readers
// with a single writer.
type Store struct {
	path  string
	mu    sync.RWMutex
	state State
}

// NewStore loads (or initializes) the maintenance state under stateDir.
func NewStore(stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &Store{path: filepath.Join(stateDir, "maintenance.json")}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read maintenance state: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse maintenance state: %w", err)
	}
	return s, nil
}

// Status returns the current state.
func (s *Store) Status() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Active reports whether maintenance mode is on.
func (s *Store) Active() bool {
	return s.Status().Active
}

// Set turns maintenance mode on. Idempotent: when already active the
// message, reason, and actor are updated but StartedAt is preserved.
func (s *Store) Set(message, reason, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	started := now
	if s.state.Active && !s.state.StartedAt.IsZero() {
		started = s.state.StartedAt
	}
	s.state = State{
		Active:    true,
		Message:   message,
		Reason:    reason,
		StartedAt: started,
		UpdatedAt: now,
		UpdatedBy: actor,
	}
	return s.persistLocked()
}

// Clear turns maintenance mode off.
func (s *Store) Clear(actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{
		Active:    false,
		UpdatedAt: time.Now().UTC(),
		UpdatedBy: actor,
	}
	return s.persistLocked()
}

// persistLocked writes the state through a temp file + rename so a
// crash never leaves a truncated state file behind.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal maintenance state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write maintenance state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist maintenance state: %w", err)
	}
	return nil
}
