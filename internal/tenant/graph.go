// Package tenant implements site-scoped export and import: walking the
// fixed dependency graph of site-owned tables to capture, purge, and
// reload exactly one site's rows across the operational datastores.
package tenant

import (
	"context"
	"database/sql"
	"fmt"

	"aptops/internal/database"
)

// GraphEntry describes one table in the site dependency graph.
//
// Exactly one of these linkage forms applies:
//   - ParentTable == "" and NameColumn == "": rows are found by
//     matching LinkColumn against the site code.
//   - ParentTable != "": rows are found by matching LinkColumn against
//     the ids collected from the parent table in the same walk.
//   - NameColumn != "": legacy table keyed by site display name; rows
//     are matched against the site's alias set.
//
// Shared entries are reference tables exported in full and never
// deleted on import.
type GraphEntry struct {
	Table       string
	TargetKey   string
	IDColumn    string
	LinkColumn  string
	ParentTable string
	NameColumn  string
	Shared      bool
	UserData    bool
}

// Graph returns the dependency graph in parent-first order. Deletion
// walks it in reverse. The ordering is hand-maintained; ValidateGraph
// checks it against the live schema at startup.
func Graph() []GraphEntry {
	return []GraphEntry{
		// core
		{Table: "sites", TargetKey: "core", IDColumn: "id", LinkColumn: "code"},
		{Table: "site_aliases", TargetKey: "core", IDColumn: "id", LinkColumn: "site_code"},
		{Table: "users", TargetKey: "core", IDColumn: "id", LinkColumn: "site_code", UserData: true},
		{Table: "categories", TargetKey: "core", IDColumn: "id", Shared: true},
		{Table: "templates", TargetKey: "core", IDColumn: "id", Shared: true},
		{Table: "faqs", TargetKey: "core", IDColumn: "id", Shared: true},

		// facility
		{Table: "entries", TargetKey: "facility", IDColumn: "id", LinkColumn: "site_code"},
		{Table: "entry_values", TargetKey: "facility", IDColumn: "id", LinkColumn: "entry_id", ParentTable: "entries"},

		// complaint
		{Table: "complaints", TargetKey: "complaint", IDColumn: "id", LinkColumn: "site_code"},
		{Table: "complaint_comments", TargetKey: "complaint", IDColumn: "id", LinkColumn: "complaint_id", ParentTable: "complaints"},
		{Table: "notices", TargetKey: "complaint", IDColumn: "id", NameColumn: "site_name"},

		// parking
		{Table: "vehicles", TargetKey: "parking", IDColumn: "id", LinkColumn: "site_code"},
		{Table: "parking_violations", TargetKey: "parking", IDColumn: "id", LinkColumn: "vehicle_id", ParentTable: "vehicles"},
		{Table: "parking_permits", TargetKey: "parking", IDColumn: "id", LinkColumn: "site_code"},

		// inspection
		{Table: "inspection_targets", TargetKey: "inspection", IDColumn: "id", LinkColumn: "site_code"},
		{Table: "inspection_regulations", TargetKey: "inspection", IDColumn: "id", LinkColumn: "target_id", ParentTable: "inspection_targets"},
	}
}

// GraphForTarget returns the graph entries for one target datastore,
// preserving parent-first order.
func GraphForTarget(targetKey string) []GraphEntry {
	var entries []GraphEntry
	for _, e := range Graph() {
		if e.TargetKey == targetKey {
			entries = append(entries, e)
		}
	}
	return entries
}

// Capabilities records which columns actually exist per table per
// target datastore. It is built once at startup instead of probing the
// schema on every query; import uses it to tolerate schema drift.
type Capabilities map[string]map[string]map[string]bool

// LoadCapabilities probes each open datastore once.
func LoadCapabilities(ctx context.Context, dbs map[string]*sql.DB) (Capabilities, error) {
	caps := make(Capabilities, len(dbs))
	for key, db := range dbs {
		tables, err := database.Tables(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", key, err)
		}
		caps[key] = make(map[string]map[string]bool, len(tables))
		for _, table := range tables {
			cols, err := database.TableColumns(ctx, db, table)
			if err != nil {
				return nil, fmt.Errorf("probe %s.%s: %w", key, table, err)
			}
			set := make(map[string]bool, len(cols))
			for _, c := range cols {
				set[c] = true
			}
			caps[key][table] = set
		}
	}
	return caps, nil
}

// HasColumn reports whether a column exists in the live schema.
func (c Capabilities) HasColumn(targetKey, table, column string) bool {
	return c[targetKey][table][column]
}

// HasTable reports whether a table exists in the live schema.
func (c Capabilities) HasTable(targetKey, table string) bool {
	_, ok := c[targetKey][table]
	return ok
}

// ValidateGraph checks every graph entry against the live schema. A
// mismatch is a startup error, not a per-query skip.
func ValidateGraph(caps Capabilities) error {
	known := make(map[string]bool)
	for _, e := range Graph() {
		if !caps.HasTable(e.TargetKey, e.Table) {
			return fmt.Errorf("dependency graph references missing table %s.%s", e.TargetKey, e.Table)
		}
		if e.IDColumn != "" && !caps.HasColumn(e.TargetKey, e.Table, e.IDColumn) {
			return fmt.Errorf("dependency graph: %s.%s has no id column %q", e.TargetKey, e.Table, e.IDColumn)
		}
		if e.LinkColumn != "" && !caps.HasColumn(e.TargetKey, e.Table, e.LinkColumn) {
			return fmt.Errorf("dependency graph: %s.%s has no link column %q", e.TargetKey, e.Table, e.LinkColumn)
		}
		if e.NameColumn != "" && !caps.HasColumn(e.TargetKey, e.Table, e.NameColumn) {
			return fmt.Errorf("dependency graph: %s.%s has no name column %q", e.TargetKey, e.Table, e.NameColumn)
		}
		if e.ParentTable != "" && !known[e.TargetKey+"."+e.ParentTable] {
			return fmt.Errorf("dependency graph: %s.%s lists parent %q before it is defined", e.TargetKey, e.Table, e.ParentTable)
		}
		known[e.TargetKey+"."+e.Table] = true
	}
	return nil
}
