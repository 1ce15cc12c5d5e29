package backup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Purge removes archives of the given scope whose modification time is
// older than keepDays. Pre-restore rollback snapshots age out on the
// same clock as the scope they protect. A keepDays of zero or less
// disables expiry. Returns the number of archives removed.
func (s *Service) Purge(scope Scope, keepDays int) (int, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().In(s.opts.Location).AddDate(0, 0, -keepDays)

	roots := []string{
		filepath.Join(s.opts.Root, string(scope)),
		filepath.Join(s.opts.Root, "pre_restore", string(scope)),
	}
	removed := 0
	for _, root := range roots {
		n, err := s.purgeTree(root, cutoff)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *Service) purgeTree(root string, cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".tar.gz") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		// Orphaned sidecars are useless; remove them with the archive.
		if err := os.Remove(sidecarPath(path)); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("path", path).Warn("failed to remove expired sidecar")
		}
		removed++
		s.log.WithField("path", path).Info("expired archive removed")
		return nil
	})
	if os.IsNotExist(err) {
		return removed, nil
	}
	return removed, err
}

// sweepRetention runs both scope sweeps after a completed job. Errors
// are logged, never surfaced: retention must not fail a backup that
// already succeeded.
func (s *Service) sweepRetention(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Purge(ScopeFull, s.opts.FullRetentionDays); err != nil {
		s.log.WithError(err).Warn("full-scope retention sweep failed")
	}
	if _, err := s.Purge(ScopeSite, s.opts.SiteRetentionDays); err != nil {
		s.log.WithError(err).Warn("site-scope retention sweep failed")
	}
}
