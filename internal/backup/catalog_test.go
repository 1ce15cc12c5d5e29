package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptops/internal/apperrors"
)

func TestCatalogListCoversEveryStore(t *testing.T) {
	c := NewCatalog(t.TempDir())

	targets := c.List()
	require.NotEmpty(t, targets)

	byKey := c.ByKey()
	assert.Contains(t, byKey, "core")
	assert.Contains(t, byKey, "oplog")
	assert.True(t, byKey["core"].SiteScoped)
	assert.False(t, byKey["oplog"].SiteScoped)

	// Nothing on disk yet.
	for _, tg := range targets {
		assert.False(t, tg.Exists, tg.Key)
	}
}

func TestResolveSelectedDefaults(t *testing.T) {
	c := NewCatalog(t.TempDir())

	full, err := c.ResolveSelected(nil, ScopeFull)
	require.NoError(t, err)
	assert.Len(t, full, len(c.List()))

	site, err := c.ResolveSelected(nil, ScopeSite)
	require.NoError(t, err)
	assert.Less(t, len(site), len(full), "site default excludes non-site-scoped targets")
	for _, tg := range site {
		assert.True(t, tg.SiteScoped)
	}
}

func TestResolveSelectedExplicitKeys(t *testing.T) {
	c := NewCatalog(t.TempDir())

	targets, err := c.ResolveSelected([]string{"core", "facility", "core"}, ScopeFull)
	require.NoError(t, err)
	require.Len(t, targets, 2, "duplicates collapse")
	assert.Equal(t, "core", targets[0].Key)

	_, err = c.ResolveSelected([]string{"nope"}, ScopeFull)
	var verr *apperrors.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = c.ResolveSelected([]string{"oplog"}, ScopeSite)
	assert.ErrorAs(t, err, &verr)
}
