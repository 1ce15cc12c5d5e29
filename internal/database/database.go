package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens an embedded datastore file for read/write access.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open datastore %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// CheckOutcome is the result of an integrity check on one datastore file.
type CheckOutcome struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// IntegrityCheck verifies a datastore file is structurally sound.
// A missing file reports Detail "missing".
func IntegrityCheck(ctx context.Context, path string) CheckOutcome {
	if _, err := os.Stat(path); err != nil {
		return CheckOutcome{OK: false, Detail: "missing"}
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return CheckOutcome{OK: false, Detail: fmt.Sprintf("open: %v", err)}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return CheckOutcome{OK: false, Detail: fmt.Sprintf("integrity_check: %v", err)}
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return CheckOutcome{OK: false, Detail: fmt.Sprintf("scan: %v", err)}
		}
		results = append(results, line)
	}
	if err := rows.Err(); err != nil {
		return CheckOutcome{OK: false, Detail: fmt.Sprintf("integrity_check: %v", err)}
	}

	if len(results) == 1 && results[0] == "ok" {
		return CheckOutcome{OK: true, Detail: "ok"}
	}
	return CheckOutcome{OK: false, Detail: strings.Join(results, "; ")}
}

// Snapshot creates a clean point-in-time copy of a live datastore via
// VACUUM INTO, falling back to file copy when the source is not a
// usable database. VACUUM INTO reads through the connection, so WAL
// content is included and torn reads are impossible.
func Snapshot(ctx context.Context, srcPath, dstPath string) error {
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("stat datastore: %w", err)
	}

	db, err := sql.Open("sqlite", srcPath+"?mode=ro")
	if err == nil {
		defer db.Close()
		_, vacErr := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(dstPath, "'", "''")))
		if vacErr == nil {
			return nil
		}
		os.Remove(dstPath)
	}

	if err := copyFile(srcPath, dstPath); err != nil {
		return fmt.Errorf("copy datastore: %w", err)
	}
	return nil
}

// Replace swaps a live datastore for a staged, already-verified copy.
// The staged file is first copied into the live file's directory and
// then atomically renamed into place; readers either see the old file
// or the new one, never a torn write. Stale WAL/SHM sidecars are
// removed so the replaced file is opened cold.
func Replace(ctx context.Context, livePath, stagedPath string) error {
	dir := filepath.Dir(livePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create datastore dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(livePath)+".incoming-*")
	if err != nil {
		return fmt.Errorf("stage incoming datastore: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := copyFile(stagedPath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("copy staged datastore: %w", err)
	}

	// Checkpoint the live file so no WAL frames outlive the swap.
	if live, err := sql.Open("sqlite", livePath); err == nil {
		live.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
		live.Close()
	}

	if err := os.Rename(tmpPath, livePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("swap datastore: %w", err)
	}

	os.Remove(livePath + "-wal")
	os.Remove(livePath + "-shm")
	return nil
}

// Tables lists the user tables in an open datastore.
func Tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableColumns lists the column names of one table.
func TableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
