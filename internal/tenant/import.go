package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"aptops/internal/apperrors"
)

// Import replaces one site's rows in one target datastore with the
// contents of a snapshot, inside a single transaction.
//
// The delete phase walks the graph leaf-to-root and removes rows keyed
// by ids collected from the CURRENT live data, so rows absent from the
// snapshot are purged too: import is a strict replace, not a merge.
// The insert phase then upserts every snapshot row with
// INSERT OR REPLACE, restricted to columns present in the live schema.
// Any failure rolls back the whole transaction.
func Import(ctx context.Context, db *sql.DB, targetKey string, site Site, aliases []string, snap *Snapshot, caps Capabilities, includeUserData bool) (*ImportStats, error) {
	if snap == nil {
		return nil, apperrors.NewValidationError("nil snapshot for target %s", targetKey)
	}
	if snap.SiteCode != site.Code {
		return nil, apperrors.NewValidationError(
			"snapshot belongs to site %q, not %q", snap.SiteCode, site.Code)
	}
	if snap.TargetKey != "" && snap.TargetKey != targetKey {
		return nil, apperrors.NewValidationError(
			"snapshot was exported from target %q, not %q", snap.TargetKey, targetKey)
	}

	entries := GraphForTarget(targetKey)
	if len(entries) == 0 {
		return nil, apperrors.NewValidationError("target %q has no dependency graph entries", targetKey)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	stats := &ImportStats{
		Deleted:  make(map[string]int),
		Inserted: make(map[string]int),
	}

	// Collect live ids parent-first so children can be located, then
	// delete leaf-to-root.
	liveIDs := make(map[string][]any)
	for _, e := range entries {
		if e.Shared || (e.UserData && !includeUserData) {
			continue
		}
		rows, err := fetchRows(ctx, tx, e, site, aliases, liveIDs)
		if err != nil {
			return nil, fmt.Errorf("collect live rows %s.%s: %w", targetKey, e.Table, err)
		}
		liveIDs[e.Table] = collectIDs(rows, e.IDColumn)
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Shared || (e.UserData && !includeUserData) {
			continue
		}
		n, err := deleteByIDs(ctx, tx, e.Table, e.IDColumn, liveIDs[e.Table])
		if err != nil {
			return nil, fmt.Errorf("delete phase %s.%s: %w", targetKey, e.Table, err)
		}
		stats.Deleted[e.Table] = n
	}

	for _, e := range entries {
		if e.UserData && !includeUserData {
			continue
		}
		if !caps.HasTable(targetKey, e.Table) {
			continue
		}
		n, err := upsertRows(ctx, tx, targetKey, e.Table, snap.Tables[e.Table], caps)
		if err != nil {
			return nil, fmt.Errorf("insert phase %s.%s: %w", targetKey, e.Table, err)
		}
		stats.Inserted[e.Table] = n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return stats, nil
}

// deleteByIDs removes rows in bind-variable-sized chunks.
func deleteByIDs(ctx context.Context, tx *sql.Tx, table, idColumn string, ids []any) (int, error) {
	deleted := 0
	for start := 0; start < len(ids); start += maxBindVars {
		end := start + maxBindVars
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %q WHERE %q IN (%s)", table, idColumn, placeholders(len(chunk))),
			chunk...)
		if err != nil {
			return deleted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	return deleted, nil
}

// upsertRows inserts snapshot rows with replace-on-conflict semantics,
// dropping any column the live schema no longer has.
func upsertRows(ctx context.Context, tx *sql.Tx, targetKey, table string, rows []Row, caps Capabilities) (int, error) {
	inserted := 0
	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for col := range row {
			if caps.HasColumn(targetKey, table, col) {
				cols = append(cols, col)
			}
		}
		if len(cols) == 0 {
			continue
		}
		sort.Strings(cols)

		quoted := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, col := range cols {
			quoted[i] = fmt.Sprintf("%q", col)
			args[i] = row[col]
		}

		query := fmt.Sprintf("INSERT OR REPLACE INTO %q (%s) VALUES (%s)",
			table, strings.Join(quoted, ", "), placeholders(len(cols)))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}
