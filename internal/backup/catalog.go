package backup

import (
	"os"
	"path/filepath"

	"aptops/internal/apperrors"
	"aptops/internal/database"
)

// Catalog enumerates the embedded datastores eligible for backup.
// Listings are a pure read: existence and size come from the
// filesystem at call time.
type Catalog struct {
	dataDir string
}

// NewCatalog builds a catalog over the live data directory.
func NewCatalog(dataDir string) *Catalog {
	return &Catalog{dataDir: dataDir}
}

// List returns every known target in stable order.
func (c *Catalog) List() []Target {
	stores := database.Stores()
	targets := make([]Target, 0, len(stores))
	for _, store := range stores {
		path := filepath.Join(c.dataDir, store.File)
		t := Target{
			Key:        store.Key,
			Label:      store.Label,
			Path:       path,
			SiteScoped: store.SiteScoped,
		}
		if fi, err := os.Stat(path); err == nil {
			t.Exists = true
			t.SizeBytes = fi.Size()
		}
		targets = append(targets, t)
	}
	return targets
}

// ByKey indexes the catalog by target key.
func (c *Catalog) ByKey() map[string]Target {
	byKey := make(map[string]Target)
	for _, t := range c.List() {
		byKey[t.Key] = t
	}
	return byKey
}

// ResolveSelected maps requested keys to targets for the given scope.
// An empty key list defaults to all targets (full scope) or all
// site-scoped targets (site scope). Unknown keys are dropped from
// default resolution but rejected when explicitly requested; a
// non-site-scoped key explicitly requested for a site job is also
// rejected. Duplicates are collapsed.
func (c *Catalog) ResolveSelected(keys []string, scope Scope) ([]Target, error) {
	byKey := c.ByKey()

	if len(keys) == 0 {
		var targets []Target
		for _, t := range c.List() {
			if scope == ScopeSite && !t.SiteScoped {
				continue
			}
			targets = append(targets, t)
		}
		return targets, nil
	}

	seen := make(map[string]bool)
	var targets []Target
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true

		t, ok := byKey[key]
		if !ok {
			return nil, apperrors.NewValidationError("unknown backup target %q", key)
		}
		if scope == ScopeSite && !t.SiteScoped {
			return nil, apperrors.NewValidationError("target %q is not site-scoped", key)
		}
		targets = append(targets, t)
	}
	return targets, nil
}
