package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coreStore(t *testing.T) Store {
	t.Helper()
	for _, s := range Stores() {
		if s.Key == "core" {
			return s
		}
	}
	t.Fatal("core store not registered")
	return Store{}
}

func openSeeded(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "core.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, EnsureSchema(db, coreStore(t)))
	_, err = db.Exec(`INSERT INTO sites (code, name, address) VALUES ('A1', 'Riverside Towers', '12 River Rd')`)
	require.NoError(t, err)
	return path
}

func TestIntegrityCheckHealthy(t *testing.T) {
	path := openSeeded(t, t.TempDir())

	outcome := IntegrityCheck(context.Background(), path)
	assert.True(t, outcome.OK)
	assert.Equal(t, "ok", outcome.Detail)
}

func TestIntegrityCheckMissingFile(t *testing.T) {
	outcome := IntegrityCheck(context.Background(), filepath.Join(t.TempDir(), "nope.db"))
	assert.False(t, outcome.OK)
	assert.Equal(t, "missing", outcome.Detail)
}

func TestIntegrityCheckGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a database"), 0o644))

	outcome := IntegrityCheck(context.Background(), path)
	assert.False(t, outcome.OK)
}

func TestSnapshotProducesVerifiableCopy(t *testing.T) {
	dir := t.TempDir()
	src := openSeeded(t, dir)
	dst := filepath.Join(dir, "copy.db")

	require.NoError(t, Snapshot(context.Background(), src, dst))

	outcome := IntegrityCheck(context.Background(), dst)
	require.True(t, outcome.OK, outcome.Detail)

	db, err := Open(dst)
	require.NoError(t, err)
	defer db.Close()

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM sites WHERE code = 'A1'`).Scan(&name))
	assert.Equal(t, "Riverside Towers", name)
}

func TestReplaceSwapsLiveFile(t *testing.T) {
	dir := t.TempDir()
	live := openSeeded(t, dir)

	// Build a staged copy with different content.
	staged := filepath.Join(dir, "staged.db")
	require.NoError(t, Snapshot(context.Background(), live, staged))
	sdb, err := Open(staged)
	require.NoError(t, err)
	_, err = sdb.Exec(`UPDATE sites SET name = 'Harborview Flats' WHERE code = 'A1'`)
	require.NoError(t, sdb.Close())
	require.NoError(t, err)

	require.NoError(t, Replace(context.Background(), live, staged))

	db, err := Open(live)
	require.NoError(t, err)
	defer db.Close()

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM sites WHERE code = 'A1'`).Scan(&name))
	assert.Equal(t, "Harborview Flats", name)

	outcome := IntegrityCheck(context.Background(), live)
	assert.True(t, outcome.OK)
}

func TestTablesAndColumns(t *testing.T) {
	path := openSeeded(t, t.TempDir())
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	tables, err := Tables(context.Background(), db)
	require.NoError(t, err)
	assert.Contains(t, tables, "sites")
	assert.Contains(t, tables, "users")

	cols, err := TableColumns(context.Background(), db, "sites")
	require.NoError(t, err)
	assert.Contains(t, cols, "code")
	assert.Contains(t, cols, "name")
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	store := coreStore(t)
	require.NoError(t, EnsureSchema(db, store))
	require.NoError(t, EnsureSchema(db, store))
}
