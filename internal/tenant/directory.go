package tenant

import (
	"context"
	"database/sql"
	"fmt"

	"aptops/internal/apperrors"
)

// Site is one logically isolated customer complex.
type Site struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Directory lists known sites and resolves their name aliases. It is
// backed by the core datastore's sites and site_aliases tables.
type Directory struct {
	db *sql.DB
}

// NewDirectory wraps an open core datastore.
func NewDirectory(coreDB *sql.DB) *Directory {
	return &Directory{db: coreDB}
}

// Sites returns every known site ordered by code.
func (d *Directory) Sites(ctx context.Context) ([]Site, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, code, name FROM sites ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.ID, &s.Code, &s.Name); err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// ByCode resolves a site by its code.
func (d *Directory) ByCode(ctx context.Context, code string) (Site, error) {
	var s Site
	err := d.db.QueryRowContext(ctx,
		"SELECT id, code, name FROM sites WHERE code = ?", code).Scan(&s.ID, &s.Code, &s.Name)
	if err == sql.ErrNoRows {
		return Site{}, apperrors.NewValidationError("unknown site code %q", code)
	}
	if err != nil {
		return Site{}, fmt.Errorf("lookup site %s: %w", code, err)
	}
	return s, nil
}

// Aliases returns the full alias set for a site: its code, its current
// display name, and every historical name recorded in site_aliases.
// Legacy tables key rows by display name, so exports match against the
// whole set.
func (d *Directory) Aliases(ctx context.Context, site Site) ([]string, error) {
	seen := map[string]bool{site.Code: true, site.Name: true}
	aliases := []string{site.Code, site.Name}

	rows, err := d.db.QueryContext(ctx,
		"SELECT alias FROM site_aliases WHERE site_code = ?", site.Code)
	if err != nil {
		return nil, fmt.Errorf("list aliases for %s: %w", site.Code, err)
	}
	defer rows.Close()

	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, err
		}
		if !seen[alias] {
			seen[alias] = true
			aliases = append(aliases, alias)
		}
	}
	return aliases, rows.Err()
}
