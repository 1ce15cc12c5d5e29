package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// maxBindVars keeps IN-clause parameter counts under SQLite's limit.
const maxBindVars = 400

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Export walks the dependency graph for one target datastore and
// captures every row owned by the site, plus the shared reference
// tables in full. Parent tables are fetched before children so child
// rows can be located by the collected parent ids.
func Export(ctx context.Context, db *sql.DB, targetKey string, site Site, aliases []string, includeUserData bool) (*Snapshot, error) {
	snap := &Snapshot{
		SiteID:      site.ID,
		SiteCode:    site.Code,
		SiteName:    site.Name,
		TargetKey:   targetKey,
		GeneratedAt: time.Now().UTC(),
		Tables:      make(map[string][]Row),
		RowCounts:   make(map[string]int),
	}

	collected := make(map[string][]any)
	for _, e := range GraphForTarget(targetKey) {
		if e.UserData && !includeUserData {
			continue
		}

		rows, err := fetchRows(ctx, db, e, site, aliases, collected)
		if err != nil {
			return nil, fmt.Errorf("export %s.%s: %w", targetKey, e.Table, err)
		}

		snap.Tables[e.Table] = rows
		snap.RowCounts[e.Table] = len(rows)
		collected[e.Table] = collectIDs(rows, e.IDColumn)
	}

	return snap, nil
}

// fetchRows selects the site-owned rows for one graph entry.
func fetchRows(ctx context.Context, q querier, e GraphEntry, site Site, aliases []string, collected map[string][]any) ([]Row, error) {
	switch {
	case e.Shared:
		return queryRows(ctx, q, fmt.Sprintf("SELECT * FROM %q", e.Table))

	case e.NameColumn != "":
		return queryRowsIn(ctx, q,
			fmt.Sprintf("SELECT * FROM %q WHERE %q IN", e.Table, e.NameColumn),
			toAnySlice(aliases))

	case e.ParentTable != "":
		parentIDs := collected[e.ParentTable]
		if len(parentIDs) == 0 {
			return nil, nil
		}
		return queryRowsIn(ctx, q,
			fmt.Sprintf("SELECT * FROM %q WHERE %q IN", e.Table, e.LinkColumn),
			parentIDs)

	default:
		return queryRows(ctx, q,
			fmt.Sprintf("SELECT * FROM %q WHERE %q = ?", e.Table, e.LinkColumn), site.Code)
	}
}

// queryRows runs a query and materializes every row as a flat record.
func queryRows(ctx context.Context, q querier, query string, args ...any) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// queryRowsIn runs "<prefix> (?,?,...)" in chunks so large id sets
// stay under the bind-variable limit.
func queryRowsIn(ctx context.Context, q querier, prefix string, values []any) ([]Row, error) {
	var out []Row
	for start := 0; start < len(values); start += maxBindVars {
		end := start + maxBindVars
		if end > len(values) {
			end = len(values)
		}
		chunk := values[start:end]

		query := fmt.Sprintf("%s (%s)", prefix, placeholders(len(chunk)))
		rows, err := queryRows(ctx, q, query, chunk...)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func collectIDs(rows []Row, idColumn string) []any {
	ids := make([]any, 0, len(rows))
	for _, r := range rows {
		if id, ok := r[idColumn]; ok && id != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
