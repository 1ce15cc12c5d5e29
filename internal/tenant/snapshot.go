package tenant

import "time"

// Row is one flat table record. Values survive a JSON round trip, so
// integers may come back as float64; SQLite column affinity absorbs
// that on insert.
type Row map[string]any

// Snapshot is the payload of one site-scoped export for one target
// datastore: every site-owned row plus the shared reference tables.
type Snapshot struct {
	SiteID      int64            `json:"site_id"`
	SiteCode    string           `json:"site_code"`
	SiteName    string           `json:"site_name"`
	TargetKey   string           `json:"target_key"`
	GeneratedAt time.Time        `json:"generated_at"`
	Tables      map[string][]Row `json:"tables"`
	RowCounts   map[string]int   `json:"row_counts"`
}

// TotalRows sums the per-table row counts.
func (s *Snapshot) TotalRows() int {
	total := 0
	for _, n := range s.RowCounts {
		total += n
	}
	return total
}

// ImportStats reports per-table deleted and inserted row counts from
// one scoped import, for the audit trail.
type ImportStats struct {
	Deleted  map[string]int `json:"deleted"`
	Inserted map[string]int `json:"inserted"`
}
