package scheduler

import (
	"context"

	"aptops/internal/backup"
	"aptops/internal/tenant"
)

// Runner is the slice of the backup service the scheduler drives.
// Declared here so tests can substitute a mock.
type Runner interface {
	// RunBackup executes one backup job.
	RunBackup(ctx context.Context, opts backup.BackupOptions) (*backup.BackupResult, error)

	// Sites lists the registered sites for the weekly per-site run.
	Sites(ctx context.Context) ([]tenant.Site, error)

	// Purge removes archives older than the retention window.
	Purge(scope backup.Scope, keepDays int) (int, error)
}

var _ Runner = (*backup.Service)(nil)
