package backup

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aptops/internal/apperrors"
	"aptops/internal/database"
	"aptops/internal/maintenance"
	"aptops/internal/tenant"
)

const (
	restoreMessage             = "A data restore is in progress. Service will resume shortly."
	restoreFailedMessage       = "A data restore failed. An operator must verify the datastores."
	postRestoreCheckFailedText = "Post-restore integrity checks failed. An operator must verify the datastores."
)

// Restore applies a backup artifact. A rollback snapshot of the
// current state is always captured before any mutation; on failure it
// remains on disk for a human-initiated follow-up restore.
func (s *Service) Restore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error) {
	if !s.gate.TryAcquire() {
		return nil, apperrors.ErrAlreadyRunning
	}
	defer s.gate.Release()

	start := time.Now()

	archivePath, err := s.resolveArchive(opts.ArchivePath)
	if err != nil {
		return nil, err
	}

	manifest, err := readManifest(archivePath)
	if err != nil {
		return nil, apperrors.NewValidationError("unusable artifact %s: %v", opts.ArchivePath, err)
	}
	if !manifest.Scope.Valid() {
		return nil, apperrors.NewValidationError("artifact has invalid scope %q", manifest.Scope)
	}
	if len(manifest.TargetKeys) == 0 {
		return nil, apperrors.NewValidationError("artifact lists no targets")
	}

	// Scope and targets come from the manifest unless explicitly
	// overridden; overrides must stay within what the artifact holds.
	keys := manifest.TargetKeys
	if len(opts.TargetKeys) > 0 {
		recorded := make(map[string]bool, len(manifest.TargetKeys))
		for _, k := range manifest.TargetKeys {
			recorded[k] = true
		}
		for _, k := range opts.TargetKeys {
			if !recorded[k] {
				return nil, apperrors.NewValidationError("target %q is not present in the artifact", k)
			}
		}
		keys = opts.TargetKeys
	}
	targets, err := s.catalog.ResolveSelected(keys, manifest.Scope)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		Scope:    manifest.Scope,
		SiteCode: manifest.SiteCode,
	}
	for _, t := range targets {
		result.TargetKeys = append(result.TargetKeys, t.Key)
	}

	maintSet := false
	if manifest.Scope == ScopeFull && !opts.SkipMaintenance {
		if err := s.maint.Set(restoreMessage, maintenance.ReasonRestore, opts.Actor); err != nil {
			return nil, fmt.Errorf("enable maintenance: %w", err)
		}
		maintSet = true
	}

	if err := s.applyRestore(ctx, opts, archivePath, manifest, targets, result, maintSet); err != nil {
		result.OK = false
		if manifest.Scope == ScopeFull {
			if mErr := s.maint.Set(restoreFailedMessage, maintenance.ReasonRestoreFailed, opts.Actor); mErr != nil {
				s.log.WithError(mErr).Error("failed to flag maintenance after restore failure")
			}
		}
		s.log.WithError(err).WithField("archive", opts.ArchivePath).Error("restore job failed")
		return result, wrapJobError(err, maintenance.ReasonRestoreFailed)
	}

	result.OK = true
	result.Duration = time.Since(start)
	s.log.WithFields(map[string]any{
		"scope":    string(manifest.Scope),
		"archive":  opts.ArchivePath,
		"rollback": result.RollbackArchivePath,
	}).Info("restore complete")
	return result, nil
}

func (s *Service) applyRestore(ctx context.Context, opts RestoreOptions, archivePath string, manifest *Manifest, targets []Target, result *RestoreResult, maintSet bool) error {
	var keys []string
	for _, t := range targets {
		keys = append(keys, t.Key)
	}

	// Mandatory rollback snapshot, captured before any mutation. This
	// is the only safety net against a bad restore, so it is taken
	// even though the caller did not ask for it.
	rollback, err := s.runBackupLocked(ctx, BackupOptions{
		Actor:        opts.Actor,
		Trigger:      TriggerPreRestore,
		Scope:        manifest.Scope,
		TargetKeys:   keys,
		SiteCode:     manifest.SiteCode,
		SkipUserData: opts.SkipUserData,
	})
	if err != nil {
		return fmt.Errorf("capture rollback snapshot: %w", err)
	}
	result.RollbackArchivePath = rollback.ArchivePath

	switch manifest.Scope {
	case ScopeFull:
		if err := s.applyFullRestore(ctx, archivePath, targets, result); err != nil {
			return err
		}
		if err := s.reloadCapabilities(ctx); err != nil {
			return fmt.Errorf("reload schema capabilities: %w", err)
		}
	case ScopeSite:
		if err := s.applySiteRestore(ctx, opts, archivePath, manifest, targets, result); err != nil {
			return err
		}
	}

	liveChecks, liveOK := s.RunLiveChecks(ctx)
	result.LiveChecks = liveChecks
	result.PostOperationLiveChecks = liveOK

	if maintSet {
		if liveOK {
			if err := s.maint.Clear(opts.Actor); err != nil {
				return fmt.Errorf("clear maintenance: %w", err)
			}
			result.MaintenanceReleased = true
		} else {
			if err := s.maint.Set(postRestoreCheckFailedText, maintenance.ReasonPostRestoreCheckFailed, opts.Actor); err != nil {
				s.log.WithError(err).Error("failed to update maintenance reason")
			}
		}
	}
	return nil
}

// applyFullRestore stages every selected datastore copy out of the
// archive, verifies each before touching anything live, then swaps
// them in one target at a time. Per-target applies are independent:
// a later failure does not roll back earlier targets (the pre-restore
// snapshot is the recovery path).
func (s *Service) applyFullRestore(ctx context.Context, archivePath string, targets []Target, result *RestoreResult) error {
	tmpDir, err := os.MkdirTemp("", "aptops-restore-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	wanted := make(map[string]Target, len(targets))
	for _, t := range targets {
		wanted[t.Key] = t
	}

	staged := make(map[string]string)
	err = forEachEntry(archivePath, func(hdr *tar.Header, r io.Reader) error {
		key, ok := dbEntryKey(hdr.Name)
		if !ok {
			return nil
		}
		if _, selected := wanted[key]; !selected {
			return nil
		}
		dest := filepath.Join(tmpDir, key+".db")
		if err := extractEntry(r, dest); err != nil {
			return fmt.Errorf("stage %s: %w", key, err)
		}
		staged[key] = dest
		return nil
	})
	if err != nil {
		return err
	}

	for _, t := range targets {
		path, ok := staged[t.Key]
		if !ok {
			return apperrors.NewValidationError("artifact is missing datastore %q", t.Key)
		}
		outcome := database.IntegrityCheck(ctx, path)
		result.StagingChecks = append(result.StagingChecks, Check{Key: t.Key, Label: t.Label, OK: outcome.OK, Detail: outcome.Detail})
		if !outcome.OK {
			return &apperrors.IntegrityError{TargetKey: t.Key, Detail: outcome.Detail}
		}
	}

	for _, t := range targets {
		if err := database.Replace(ctx, t.Path, staged[t.Key]); err != nil {
			return fmt.Errorf("apply %s: %w", t.Key, err)
		}
		outcome := database.IntegrityCheck(ctx, t.Path)
		if !outcome.OK {
			return &apperrors.IntegrityError{TargetKey: t.Key, Detail: outcome.Detail}
		}
	}
	return nil
}

// applySiteRestore parses and validates every snapshot before touching
// anything live, then imports them one target datastore at a time,
// each inside its own transaction.
func (s *Service) applySiteRestore(ctx context.Context, opts RestoreOptions, archivePath string, manifest *Manifest, targets []Target, result *RestoreResult) error {
	wanted := make(map[string]Target, len(targets))
	for _, t := range targets {
		wanted[t.Key] = t
	}

	snapshots := make(map[string]*tenant.Snapshot)
	err := forEachEntry(archivePath, func(hdr *tar.Header, r io.Reader) error {
		key, ok := siteEntryKey(hdr.Name)
		if !ok {
			return nil
		}
		if _, selected := wanted[key]; !selected {
			return nil
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read snapshot %s: %w", key, err)
		}
		var snap tenant.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return apperrors.NewValidationError("snapshot %s is not valid JSON: %v", key, err)
		}
		snapshots[key] = &snap
		return nil
	})
	if err != nil {
		return err
	}

	for _, t := range targets {
		snap, ok := snapshots[t.Key]
		if !ok {
			return apperrors.NewValidationError("artifact is missing snapshot %q", t.Key)
		}
		if snap.SiteCode != manifest.SiteCode {
			return apperrors.NewValidationError(
				"snapshot %s belongs to site %q, artifact says %q", t.Key, snap.SiteCode, manifest.SiteCode)
		}
		result.StagingChecks = append(result.StagingChecks, Check{
			Key: t.Key, Label: t.Label, OK: true,
			Detail: fmt.Sprintf("%d rows", snap.TotalRows()),
		})
	}

	dir, closeDir, err := s.Directory()
	if err != nil {
		return err
	}
	site, siteErr := dir.ByCode(ctx, manifest.SiteCode)
	if siteErr != nil {
		closeDir()
		return siteErr
	}
	aliases, aliasErr := dir.Aliases(ctx, site)
	closeDir()
	if aliasErr != nil {
		return aliasErr
	}

	result.ImportStats = make(map[string]*tenant.ImportStats, len(targets))
	for _, t := range targets {
		db, err := s.openTarget(t.Key)
		if err != nil {
			return err
		}
		stats, impErr := tenant.Import(ctx, db, t.Key, site, aliases, snapshots[t.Key], s.caps, !opts.SkipUserData)
		db.Close()
		if impErr != nil {
			return impErr
		}
		result.ImportStats[t.Key] = stats
	}
	return nil
}

// resolveArchive accepts an absolute path or a path relative to the
// backup root (traversal-safe).
func (s *Service) resolveArchive(path string) (string, error) {
	if path == "" {
		return "", apperrors.NewValidationError("no artifact path given")
	}
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("artifact not found: %w", err)
		}
		return path, nil
	}
	return s.ResolveBackupFile(path)
}

func dbEntryKey(name string) (string, bool) {
	if !strings.HasPrefix(name, "db/") || !strings.HasSuffix(name, ".db") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, "db/"), ".db"), true
}

func siteEntryKey(name string) (string, bool) {
	if !strings.HasPrefix(name, "site_data/") || !strings.HasSuffix(name, ".json") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, "site_data/"), ".json"), true
}
