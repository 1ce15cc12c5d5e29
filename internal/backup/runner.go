package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"aptops/internal/apperrors"
	"aptops/internal/database"
	"aptops/internal/maintenance"
	"aptops/internal/tenant"
)

const (
	fullBackupMessage       = "A full data backup is in progress. Service will resume shortly."
	fullBackupFailedMessage = "A full data backup failed. An operator must verify the datastores."
	postCheckFailedMessage  = "Post-operation integrity checks failed. An operator must verify the datastores."

	// reasonSiteBackupFailed tags job errors from site-scoped backups.
	// Unlike the maintenance.Reason* values it is never recorded on
	// the maintenance flag, because site jobs do not disrupt service.
	reasonSiteBackupFailed = "site_backup_failed"
)

// RunBackup produces a backup artifact per the given options. It fails
// fast with ErrAlreadyRunning when another job holds the gate. On
// failure the returned result still carries the partially built
// manifest for diagnostics.
func (s *Service) RunBackup(ctx context.Context, opts BackupOptions) (*BackupResult, error) {
	if !opts.Scope.Valid() {
		return nil, apperrors.NewValidationError("invalid backup scope %q", opts.Scope)
	}
	if opts.Scope == ScopeSite && opts.SiteCode == "" {
		return nil, apperrors.NewValidationError("site-scoped backup requires a site code")
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}

	if !s.gate.TryAcquire() {
		return nil, apperrors.ErrAlreadyRunning
	}
	defer s.gate.Release()

	return s.runBackupLocked(ctx, opts)
}

// runBackupLocked runs a backup with the gate already held. Restore
// reuses it for the mandatory pre-restore rollback snapshot.
func (s *Service) runBackupLocked(ctx context.Context, opts BackupOptions) (*BackupResult, error) {
	start := time.Now()
	now := start.In(s.opts.Location)

	// Validation happens before any state is mutated.
	targets, err := s.catalog.ResolveSelected(opts.TargetKeys, opts.Scope)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, apperrors.NewValidationError("no backup targets selected")
	}

	manifest := Manifest{
		JobID:            uuid.NewString(),
		Timezone:         s.opts.Location.String(),
		Scope:            opts.Scope,
		Trigger:          opts.Trigger,
		Actor:            opts.Actor,
		CreatedAt:        now,
		ContainsUserData: opts.Scope == ScopeFull || !opts.SkipUserData,
	}
	for _, t := range targets {
		manifest.TargetKeys = append(manifest.TargetKeys, t.Key)
		manifest.TargetLabels = append(manifest.TargetLabels, t.Label)
	}

	maintSet := false
	if opts.Scope == ScopeFull && opts.WithMaintenance {
		if err := s.maint.Set(fullBackupMessage, maintenance.ReasonFullBackup, opts.Actor); err != nil {
			return nil, fmt.Errorf("enable maintenance: %w", err)
		}
		maintSet = true
		manifest.MaintenanceEnabled = true
	}

	result, err := s.buildArtifact(ctx, opts, targets, &manifest, maintSet, now)
	if err != nil {
		manifest.OK = false
		reason := reasonSiteBackupFailed
		if opts.Scope == ScopeFull {
			// A failed disruptive job never resumes normal operation
			// silently; maintenance stays on until a human clears it.
			reason = maintenance.ReasonFullBackupFailed
			if mErr := s.maint.Set(fullBackupFailedMessage, maintenance.ReasonFullBackupFailed, opts.Actor); mErr != nil {
				s.log.WithError(mErr).Error("failed to flag maintenance after backup failure")
			}
		}
		s.log.WithError(err).WithField("job_id", manifest.JobID).Error("backup job failed")
		return &BackupResult{Manifest: manifest}, wrapJobError(err, reason)
	}

	result.Duration = time.Since(start)
	s.log.WithFields(map[string]any{
		"job_id":  result.Manifest.JobID,
		"scope":   string(opts.Scope),
		"trigger": string(opts.Trigger),
		"archive": result.RelativePath,
		"bytes":   result.FileSizeBytes,
	}).Info("backup complete")
	return result, nil
}

// buildArtifact performs the copy/export, verification, packaging,
// mirroring, and retention steps for one backup job.
func (s *Service) buildArtifact(ctx context.Context, opts BackupOptions, targets []Target, manifest *Manifest, maintSet bool, now time.Time) (*BackupResult, error) {
	tmpDir, err := os.MkdirTemp("", "aptops-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	type entry struct {
		name string
		path string
		data []byte
	}
	var entries []entry

	switch opts.Scope {
	case ScopeFull:
		// Hot-copy each live datastore and verify the copy before
		// anything is packaged.
		for _, t := range targets {
			snapPath := filepath.Join(tmpDir, t.Key+".db")
			if err := database.Snapshot(ctx, t.Path, snapPath); err != nil {
				manifest.Checks = append(manifest.Checks, Check{Key: t.Key, Label: t.Label, OK: false, Detail: err.Error()})
				return nil, fmt.Errorf("snapshot %s: %w", t.Key, err)
			}
			outcome := database.IntegrityCheck(ctx, snapPath)
			manifest.Checks = append(manifest.Checks, Check{Key: t.Key, Label: t.Label, OK: outcome.OK, Detail: outcome.Detail})
			if !outcome.OK {
				return nil, &apperrors.IntegrityError{TargetKey: t.Key, Detail: outcome.Detail}
			}
			entries = append(entries, entry{name: "db/" + t.Key + ".db", path: snapPath})
		}

	case ScopeSite:
		dir, closeDir, err := s.Directory()
		if err != nil {
			return nil, err
		}
		site, siteErr := dir.ByCode(ctx, opts.SiteCode)
		if siteErr != nil {
			closeDir()
			return nil, siteErr
		}
		aliases, aliasErr := dir.Aliases(ctx, site)
		closeDir()
		if aliasErr != nil {
			return nil, aliasErr
		}
		manifest.SiteID = site.ID
		manifest.SiteCode = site.Code
		manifest.SiteName = site.Name

		for _, t := range targets {
			db, err := s.openTarget(t.Key)
			if err != nil {
				return nil, err
			}
			snap, expErr := tenant.Export(ctx, db, t.Key, site, aliases, !opts.SkipUserData)
			db.Close()
			if expErr != nil {
				manifest.Checks = append(manifest.Checks, Check{Key: t.Key, Label: t.Label, OK: false, Detail: expErr.Error()})
				return nil, expErr
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("serialize %s snapshot: %w", t.Key, err)
			}
			manifest.Checks = append(manifest.Checks, Check{
				Key: t.Key, Label: t.Label, OK: true,
				Detail: fmt.Sprintf("%d rows", snap.TotalRows()),
			})
			entries = append(entries, entry{name: "site_data/" + t.Key + ".json", data: data})
		}
	}

	// Artifacts are built under a temporary name and only renamed to
	// their final path after everything passes; partial artifacts are
	// never visible to history or retention.
	relPath := artifactRelPath(opts.Scope, opts.Trigger, opts.SiteCode, now)
	finalPath := filepath.Join(s.opts.Root, relPath)
	partialPath := finalPath + ".partial"

	w, err := newArchiveWriter(partialPath)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		var addErr error
		if e.path != "" {
			addErr = w.AddFile(e.name, e.path)
		} else {
			addErr = w.AddBytes(e.name, e.data)
		}
		if addErr != nil {
			w.Abort(partialPath)
			return nil, fmt.Errorf("write %s: %w", e.name, addErr)
		}
	}

	// Full scope: re-verify the live sources after the copy, and only
	// release maintenance if they are still healthy.
	if opts.Scope == ScopeFull {
		liveChecks, liveOK := s.RunLiveChecks(ctx)
		manifest.PostOperationLiveChecks = liveOK
		if !liveOK {
			for _, c := range liveChecks {
				if !c.OK {
					manifest.Notes = append(manifest.Notes, fmt.Sprintf("live check failed for %s: %s", c.Key, c.Detail))
				}
			}
		}
		if maintSet {
			if liveOK {
				if err := s.maint.Clear(opts.Actor); err != nil {
					w.Abort(partialPath)
					return nil, fmt.Errorf("clear maintenance: %w", err)
				}
				manifest.MaintenanceReleased = true
			} else {
				if err := s.maint.Set(postCheckFailedMessage, maintenance.ReasonPostBackupCheckFailed, opts.Actor); err != nil {
					s.log.WithError(err).Error("failed to update maintenance reason")
				}
			}
		}
	}

	manifest.OK = true
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		w.Abort(partialPath)
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := w.AddBytes(manifestEntry, manifestData); err != nil {
		w.Abort(partialPath)
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := w.Close(); err != nil {
		os.Remove(partialPath)
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return nil, fmt.Errorf("publish archive: %w", err)
	}

	fi, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	sc := &Sidecar{
		Manifest:      *manifest,
		RelativePath:  filepath.ToSlash(relPath),
		FileName:      filepath.Base(finalPath),
		FileSizeBytes: fi.Size(),
	}

	// Mirroring is best-effort: failure becomes a note, never an error.
	if s.opts.MirrorRoot != "" {
		if err := s.mirrorArtifact(relPath); err != nil {
			note := fmt.Sprintf("mirror failed: %v", err)
			sc.Notes = append(sc.Notes, note)
			s.log.WithError(err).Warn("artifact mirror failed")
		} else {
			sc.MirrorRelativePath = filepath.ToSlash(relPath)
		}
	}

	scPath := sidecarPath(finalPath)
	if err := writeSidecar(scPath, sc); err != nil {
		return nil, err
	}
	if sc.MirrorRelativePath != "" {
		if err := s.mirrorSidecar(relPath); err != nil {
			s.log.WithError(err).Warn("sidecar mirror failed")
		}
	}

	s.sweepRetention(ctx)

	return &BackupResult{
		Manifest:      sc.Manifest,
		ArchivePath:   finalPath,
		RelativePath:  sc.RelativePath,
		SidecarPath:   scPath,
		FileSizeBytes: sc.FileSizeBytes,
	}, nil
}

// artifactRelPath builds the date-partitioned path for a new artifact.
func artifactRelPath(scope Scope, trigger Trigger, siteCode string, now time.Time) string {
	stamp := now.Format("20060102-150405")
	if trigger == TriggerPreRestore {
		if scope == ScopeSite {
			return filepath.Join("pre_restore", "site", fmt.Sprintf("pre-restore-%s-%s.tar.gz", siteCode, stamp))
		}
		return filepath.Join("pre_restore", "full", fmt.Sprintf("pre-restore-full-%s.tar.gz", stamp))
	}
	yearMonth := filepath.Join(now.Format("2006"), now.Format("01"))
	if scope == ScopeSite {
		return filepath.Join("site", siteCode, yearMonth, fmt.Sprintf("site-%s-%s.tar.gz", siteCode, stamp))
	}
	return filepath.Join("full", yearMonth, fmt.Sprintf("full-%s.tar.gz", stamp))
}

// wrapJobError leaves taxonomy errors intact and wraps everything else
// as a JobError carrying the maintenance reason that was persisted.
func wrapJobError(err error, reason string) error {
	var vErr *apperrors.ValidationError
	var iErr *apperrors.IntegrityError
	var jErr *apperrors.JobError
	if errors.Is(err, apperrors.ErrAlreadyRunning) || errors.As(err, &vErr) || errors.As(err, &iErr) || errors.As(err, &jErr) {
		return err
	}
	return &apperrors.JobError{Reason: reason, Err: err}
}
