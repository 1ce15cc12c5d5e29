package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAgedArchive(t *testing.T, root, rel string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("archive"), 0o644))
	require.NoError(t, os.WriteFile(sidecarPath(path), []byte("{}"), 0o644))

	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestPurgeRemovesOnlyExpiredArchives(t *testing.T) {
	svc := newTestService(t)
	root := svc.BackupRoot()

	const keepDays = 14
	day := 24 * time.Hour

	expired := writeAgedArchive(t, root, "full/2026/08/full-old.tar.gz", (keepDays+1)*day)
	// An archive aged exactly keepDays sits before the cutoff computed
	// at sweep time, so it expires with the older one.
	atBoundary := writeAgedArchive(t, root, "full/2026/08/full-boundary.tar.gz", keepDays*day)
	kept := writeAgedArchive(t, root, "full/2026/08/full-new.tar.gz", (keepDays-1)*day)
	expiredPre := writeAgedArchive(t, root, "pre_restore/full/pre-restore-full-old.tar.gz", (keepDays+1)*day)
	otherScope := writeAgedArchive(t, root, "site/A1/2026/08/site-A1-old.tar.gz", (keepDays+10)*day)

	removed, err := svc.Purge(ScopeFull, keepDays)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	assert.NoFileExists(t, expired)
	assert.NoFileExists(t, sidecarPath(expired))
	assert.NoFileExists(t, atBoundary)
	assert.NoFileExists(t, expiredPre)
	assert.FileExists(t, kept)
	assert.FileExists(t, sidecarPath(kept))
	assert.FileExists(t, otherScope, "full purge must not touch site archives")
}

func TestPurgeSiteScope(t *testing.T) {
	svc := newTestService(t)
	root := svc.BackupRoot()
	day := 24 * time.Hour

	expired := writeAgedArchive(t, root, "site/A1/2026/01/site-A1-old.tar.gz", 31*day)
	kept := writeAgedArchive(t, root, "site/B2/2026/08/site-B2-new.tar.gz", 2*day)

	removed, err := svc.Purge(ScopeSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, expired)
	assert.FileExists(t, kept)
}

func TestPurgeDisabledByNonPositiveWindow(t *testing.T) {
	svc := newTestService(t)
	ancient := writeAgedArchive(t, svc.BackupRoot(), "full/2020/01/full-ancient.tar.gz", 2000*24*time.Hour)

	removed, err := svc.Purge(ScopeFull, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.FileExists(t, ancient)
}

func TestPurgeIgnoresMissingDirectories(t *testing.T) {
	svc := newTestService(t)

	removed, err := svc.Purge(ScopeFull, 14)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
