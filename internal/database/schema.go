package database

import (
	"database/sql"
	"fmt"
)

// Store identifies one embedded datastore file. SiteScoped stores
// participate in site-scoped backups; the rest are only covered by
// full-scope jobs.
type Store struct {
	Key        string
	Label      string
	File       string
	SiteScoped bool
	Schema     string
}

// Stores returns the operational datastores in a stable order.
func Stores() []Store {
	return []Store{
		{
			Key:        "core",
			Label:      "Sites & Residents",
			File:       "core.db",
			SiteScoped: true,
			Schema: `
				CREATE TABLE IF NOT EXISTS sites (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					code TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					address TEXT DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS site_aliases (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					site_code TEXT NOT NULL,
					alias TEXT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					site_code TEXT NOT NULL,
					name TEXT NOT NULL,
					role TEXT DEFAULT 'resident',
					phone TEXT DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS templates (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					body TEXT DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS faqs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					question TEXT NOT NULL,
					answer TEXT DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_site_aliases_site_code ON site_aliases (site_code);
				CREATE INDEX IF NOT EXISTS idx_users_site_code ON users (site_code);
			`,
		},
		{
			Key:        "facility",
			Label:      "Work Orders",
			File:       "facility.db",
			SiteScoped: true,
			Schema: `
				CREATE TABLE IF NOT EXISTS entries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					site_code TEXT NOT NULL,
					title TEXT NOT NULL,
					status TEXT DEFAULT 'open',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS entry_values (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					entry_id INTEGER NOT NULL,
					field TEXT NOT NULL,
					value TEXT DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_entries_site_code ON entries (site_code);
				CREATE INDEX IF NOT EXISTS idx_entry_values_entry_id ON entry_values (entry_id);
			`,
		},
		{
			Key:        "complaint",
			Label:      "Complaints & Notices",
			File:       "complaint.db",
			SiteScoped: true,
			Schema: `
				CREATE TABLE IF NOT EXISTS complaints (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					site_code TEXT NOT NULL,
					category_id INTEGER,
					body TEXT NOT NULL,
					status TEXT DEFAULT 'open',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS complaint_comments (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					complaint_id INTEGER NOT NULL,
					author TEXT NOT NULL,
					body TEXT DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				-- Legacy table: rows are keyed by site display name, not code.
				CREATE TABLE IF NOT EXISTS notices (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					site_name TEXT NOT NULL,
					title TEXT NOT NULL,
					body TEXT DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_complaints_site_code ON complaints (site_code);
				CREATE INDEX IF NOT EXISTS idx_complaint_comments_complaint_id ON complaint_comments (complaint_id);
			`,
		},
		{
			Key:        "parking",
			Label:      "Parking Enforcement",
			File:       "parking.db",
			SiteScoped: true,
			Schema: `
				CREATE TABLE IF NOT EXISTS vehicles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					site_code TEXT NOT NULL,
					plate TEXT NOT NULL,
					owner TEXT DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS parking_violations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					vehicle_id INTEGER NOT NULL,
					kind TEXT NOT NULL,
					noted_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS parking_permits (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					site_code TEXT NOT NULL,
					plate TEXT NOT NULL,
					valid_until DATETIME
				);

				CREATE INDEX IF NOT EXISTS idx_vehicles_site_code ON vehicles (site_code);
				CREATE INDEX IF NOT EXISTS idx_parking_violations_vehicle_id ON parking_violations (vehicle_id);
			`,
		},
		{
			Key:        "inspection",
			Label:      "Inspections",
			File:       "inspection.db",
			SiteScoped: true,
			Schema: `
				CREATE TABLE IF NOT EXISTS inspection_targets (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					site_code TEXT NOT NULL,
					name TEXT NOT NULL,
					location TEXT DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS inspection_regulations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					target_id INTEGER NOT NULL,
					rule TEXT NOT NULL,
					severity TEXT DEFAULT 'minor'
				);

				CREATE INDEX IF NOT EXISTS idx_inspection_targets_site_code ON inspection_targets (site_code);
				CREATE INDEX IF NOT EXISTS idx_inspection_regulations_target_id ON inspection_regulations (target_id);
			`,
		},
		{
			Key:   "oplog",
			Label: "Operations Log",
			File:  "oplog.db",
			Schema: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					actor TEXT NOT NULL,
					action TEXT NOT NULL,
					detail TEXT DEFAULT '',
					at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// EnsureSchema applies a store's schema to an open datastore.
func EnsureSchema(db *sql.DB, store Store) error {
	if _, err := db.Exec(store.Schema); err != nil {
		return fmt.Errorf("apply %s schema: %w", store.Key, err)
	}
	return nil
}
