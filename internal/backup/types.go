// Package backup orchestrates point-in-time, integrity-checked
// snapshots of the operational datastores and their restoration:
// full-scope hot copies of every datastore file, or site-scoped row
// exports across the dependency graph. At most one backup or restore
// job runs at a time.
package backup

import (
	"time"

	"aptops/internal/tenant"
)

// Scope selects what a job covers.
type Scope string

const (
	// ScopeFull covers whole-datastore copies of every target.
	ScopeFull Scope = "full"
	// ScopeSite covers one site's rows across site-scoped targets.
	ScopeSite Scope = "site"
)

// Valid reports whether the scope is a known value.
func (s Scope) Valid() bool {
	return s == ScopeFull || s == ScopeSite
}

// Trigger records what started a job.
type Trigger string

const (
	TriggerManual          Trigger = "manual"
	TriggerScheduledDaily  Trigger = "scheduled-daily"
	TriggerScheduledWeekly Trigger = "scheduled-weekly"
	// TriggerPreRestore marks the mandatory rollback snapshot captured
	// at the start of every restore.
	TriggerPreRestore Trigger = "pre-restore"
)

// Target is one independent embedded datastore eligible for backup.
// Exists and SizeBytes are derived from the filesystem at call time.
type Target struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	Path       string `json:"path"`
	Exists     bool   `json:"exists"`
	SiteScoped bool   `json:"site_scoped"`
	SizeBytes  int64  `json:"size_bytes"`
}

// Check is one per-target integrity verification outcome.
type Check struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Manifest is the durable record embedded in every artifact as
// manifest.json and mirrored into the sidecar metadata file.
type Manifest struct {
	OK                      bool      `json:"ok"`
	JobID                   string    `json:"job_id"`
	Timezone                string    `json:"timezone"`
	Scope                   Scope     `json:"scope"`
	Trigger                 Trigger   `json:"trigger"`
	Actor                   string    `json:"actor"`
	CreatedAt               time.Time `json:"created_at"`
	SiteID                  int64     `json:"site_id,omitempty"`
	SiteCode                string    `json:"site_code,omitempty"`
	SiteName                string    `json:"site_name,omitempty"`
	TargetKeys              []string  `json:"target_keys"`
	TargetLabels            []string  `json:"target_labels"`
	MaintenanceEnabled      bool      `json:"maintenance_enabled"`
	ContainsUserData        bool      `json:"contains_user_data"`
	Notes                   []string  `json:"notes,omitempty"`
	Checks                  []Check   `json:"checks"`
	PostOperationLiveChecks bool      `json:"post_operation_live_checks"`
	MaintenanceReleased     bool      `json:"maintenance_released"`
}

// Sidecar is the metadata file written next to each archive. History
// listings read sidecars only, so they survive loss of any index.
type Sidecar struct {
	Manifest
	RelativePath       string `json:"relative_path"`
	FileName           string `json:"file_name"`
	FileSizeBytes      int64  `json:"file_size_bytes"`
	MirrorRelativePath string `json:"mirror_relative_path,omitempty"`
}

// BackupOptions configures one backup job.
type BackupOptions struct {
	Actor   string
	Trigger Trigger
	Scope   Scope

	// TargetKeys limits the job to the named targets. Empty means all
	// targets (full scope) or all site-scoped targets (site scope).
	TargetKeys []string

	// SiteCode identifies the site for site-scoped jobs.
	SiteCode string

	// WithMaintenance toggles maintenance mode around a full backup.
	// Site-scoped jobs never touch maintenance.
	WithMaintenance bool

	// SkipUserData excludes resident/user tables from site exports.
	SkipUserData bool
}

// BackupResult is returned by RunBackup. On failure the partially
// built manifest is still populated for diagnostics.
type BackupResult struct {
	Manifest      Manifest `json:"manifest"`
	ArchivePath   string   `json:"archive_path"`
	RelativePath  string   `json:"relative_path"`
	SidecarPath   string   `json:"sidecar_path"`
	FileSizeBytes int64    `json:"file_size_bytes"`
	Duration      time.Duration
}

// RestoreOptions configures one restore job.
type RestoreOptions struct {
	Actor string

	// ArchivePath points at the artifact to restore, either absolute
	// or relative to the backup root.
	ArchivePath string

	// TargetKeys optionally restricts the restore to a subset of the
	// targets recorded in the artifact's manifest.
	TargetKeys []string

	// SkipMaintenance leaves maintenance mode alone during a full
	// restore. Full restores hold a maintenance window unless this is
	// set; site-scoped restores never touch maintenance.
	SkipMaintenance bool

	// SkipUserData excludes resident/user tables from a site import.
	SkipUserData bool
}

// RestoreResult is returned by Restore.
type RestoreResult struct {
	OK                      bool                           `json:"ok"`
	Scope                   Scope                          `json:"scope"`
	TargetKeys              []string                       `json:"target_keys"`
	SiteCode                string                         `json:"site_code,omitempty"`
	StagingChecks           []Check                        `json:"staging_checks"`
	LiveChecks              []Check                        `json:"live_checks"`
	PostOperationLiveChecks bool                           `json:"post_operation_live_checks"`
	MaintenanceReleased     bool                           `json:"maintenance_released"`
	RollbackArchivePath     string                         `json:"rollback_archive_path"`
	ImportStats             map[string]*tenant.ImportStats `json:"import_stats,omitempty"`
	Duration                time.Duration
}

// HistoryFilter narrows history listings.
type HistoryFilter struct {
	Scope    Scope
	SiteCode string
	Limit    int
}
