package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListHistory(t *testing.T) {
	svc := newTestService(t)
	seedSites(t, svc)
	ctx := context.Background()

	_, err := svc.RunBackup(ctx, BackupOptions{Scope: ScopeFull})
	require.NoError(t, err)
	_, err = svc.RunBackup(ctx, BackupOptions{Scope: ScopeSite, SiteCode: "A1"})
	require.NoError(t, err)
	_, err = svc.RunBackup(ctx, BackupOptions{Scope: ScopeSite, SiteCode: "B2"})
	require.NoError(t, err)

	all, err := svc.ListHistory(HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i-1].CreatedAt.Before(all[i].CreatedAt), "history must be newest first")
	}

	fullOnly, err := svc.ListHistory(HistoryFilter{Scope: ScopeFull})
	require.NoError(t, err)
	require.Len(t, fullOnly, 1)
	assert.Equal(t, ScopeFull, fullOnly[0].Scope)

	siteA, err := svc.ListHistory(HistoryFilter{Scope: ScopeSite, SiteCode: "A1"})
	require.NoError(t, err)
	require.Len(t, siteA, 1)
	assert.Equal(t, "A1", siteA[0].SiteCode)

	limited, err := svc.ListHistory(HistoryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListHistorySkipsCorruptSidecars(t *testing.T) {
	svc := newTestService(t)
	seedSites(t, svc)
	ctx := context.Background()

	_, err := svc.RunBackup(ctx, BackupOptions{Scope: ScopeFull})
	require.NoError(t, err)

	// A mangled sidecar must not break the listing.
	bad := filepath.Join(svc.BackupRoot(), "full", "2026", "01", "full-broken.tar.gz.meta.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(bad), 0o755))
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o644))

	entries, err := svc.ListHistory(HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListHistoryEmptyRoot(t *testing.T) {
	svc := newTestService(t)

	entries, err := svc.ListHistory(HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
