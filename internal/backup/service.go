package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"aptops/internal/apperrors"
	"aptops/internal/database"
	"aptops/internal/maintenance"
	"aptops/internal/tenant"
)

// Options configures the backup service.
type Options struct {
	// DataDir holds the live datastore files.
	DataDir string

	// Root is where artifacts and sidecars are written.
	Root string

	// MirrorRoot is an optional secondary storage root for best-effort
	// mirroring. Empty disables mirroring.
	MirrorRoot string

	// Location is the timezone used for artifact paths and retention.
	Location *time.Location

	FullRetentionDays int
	SiteRetentionDays int
}

// Service owns backup and restore orchestration. Construct one
// instance at process start and inject it; there are no package-level
// singletons.
type Service struct {
	opts    Options
	catalog *Catalog
	gate    *Gate
	maint   *maintenance.Store
	caps    tenant.Capabilities
	log     *logrus.Logger
}

// NewService bootstraps the datastore schemas, loads the schema
// capability descriptor, and validates the dependency graph against
// it. A graph/schema mismatch is a startup error.
func NewService(opts Options, maint *maintenance.Store, logger *logrus.Logger) (*Service, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.FullRetentionDays == 0 {
		opts.FullRetentionDays = 14
	}
	if opts.SiteRetentionDays == 0 {
		opts.SiteRetentionDays = 30
	}

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}

	s := &Service{
		opts:    opts,
		catalog: NewCatalog(opts.DataDir),
		gate:    &Gate{},
		maint:   maint,
		log:     logger,
	}

	if err := s.bootstrap(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// bootstrap ensures every datastore exists with its schema, then
// builds and validates the capability descriptor.
func (s *Service) bootstrap(ctx context.Context) error {
	dbs := make(map[string]*sql.DB)
	defer func() {
		for _, db := range dbs {
			db.Close()
		}
	}()

	for _, store := range database.Stores() {
		db, err := database.Open(filepath.Join(s.opts.DataDir, store.File))
		if err != nil {
			return err
		}
		dbs[store.Key] = db
		if err := database.EnsureSchema(db, store); err != nil {
			return err
		}
	}

	caps, err := tenant.LoadCapabilities(ctx, dbs)
	if err != nil {
		return fmt.Errorf("load schema capabilities: %w", err)
	}
	if err := tenant.ValidateGraph(caps); err != nil {
		return err
	}
	s.caps = caps
	return nil
}

// reloadCapabilities refreshes the descriptor, used after a full
// restore may have changed the live schema.
func (s *Service) reloadCapabilities(ctx context.Context) error {
	dbs := make(map[string]*sql.DB)
	defer func() {
		for _, db := range dbs {
			db.Close()
		}
	}()
	for _, store := range database.Stores() {
		db, err := database.Open(filepath.Join(s.opts.DataDir, store.File))
		if err != nil {
			return err
		}
		dbs[store.Key] = db
	}
	caps, err := tenant.LoadCapabilities(ctx, dbs)
	if err != nil {
		return err
	}
	s.caps = caps
	return nil
}

// ListTargets returns the target catalog.
func (s *Service) ListTargets() []Target {
	return s.catalog.List()
}

// TargetsByKey returns the target catalog indexed by key.
func (s *Service) TargetsByKey() map[string]Target {
	return s.catalog.ByKey()
}

// BackupRoot returns the artifact root directory.
func (s *Service) BackupRoot() string {
	return s.opts.Root
}

// RunLiveChecks verifies every live datastore file. It is callable as
// a standalone health probe and is also the post-operation gate for
// releasing maintenance mode.
func (s *Service) RunLiveChecks(ctx context.Context) ([]Check, bool) {
	var checks []Check
	allOK := true
	for _, t := range s.catalog.List() {
		outcome := database.IntegrityCheck(ctx, t.Path)
		checks = append(checks, Check{Key: t.Key, Label: t.Label, OK: outcome.OK, Detail: outcome.Detail})
		if !outcome.OK {
			allOK = false
		}
	}
	return checks, allOK
}

// MaintenanceStatus returns the persisted maintenance state.
func (s *Service) MaintenanceStatus() maintenance.State {
	return s.maint.Status()
}

// SetMaintenance turns maintenance mode on.
func (s *Service) SetMaintenance(message, reason, actor string) error {
	if reason == "" {
		reason = maintenance.ReasonManual
	}
	return s.maint.Set(message, reason, actor)
}

// ClearMaintenance turns maintenance mode off.
func (s *Service) ClearMaintenance(actor string) error {
	return s.maint.Clear(actor)
}

// Directory opens the site directory over the core datastore. The
// returned closer must be called when done.
func (s *Service) Directory() (*tenant.Directory, func() error, error) {
	db, err := s.openTarget("core")
	if err != nil {
		return nil, nil, err
	}
	return tenant.NewDirectory(db), db.Close, nil
}

// Sites lists the registered sites from the core datastore.
func (s *Service) Sites(ctx context.Context) ([]tenant.Site, error) {
	dir, closeDir, err := s.Directory()
	if err != nil {
		return nil, err
	}
	defer closeDir()
	return dir.Sites(ctx)
}

// ResolveBackupFile maps a relative artifact path to an absolute path
// under the backup root, rejecting any path that escapes it.
func (s *Service) ResolveBackupFile(relativePath string) (string, error) {
	cleaned := filepath.Clean(relativePath)
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", apperrors.NewValidationError("invalid backup path %q", relativePath)
	}

	abs := filepath.Join(s.opts.Root, cleaned)
	rel, err := filepath.Rel(s.opts.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", apperrors.NewValidationError("invalid backup path %q", relativePath)
	}

	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("backup file not found: %w", err)
	}
	return abs, nil
}

// openTarget opens one live datastore by key.
func (s *Service) openTarget(key string) (*sql.DB, error) {
	t, ok := s.catalog.ByKey()[key]
	if !ok {
		return nil, apperrors.NewValidationError("unknown backup target %q", key)
	}
	return database.Open(t.Path)
}

// writeSidecar persists the sidecar metadata file next to an archive.
func writeSidecar(path string, sc *Sidecar) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// sidecarPath returns the metadata file path for an archive.
func sidecarPath(archivePath string) string {
	return archivePath + ".meta.json"
}
