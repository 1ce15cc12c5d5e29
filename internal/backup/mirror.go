package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// mirrorArtifact copies a finished archive into the mirror root,
// preserving its relative layout. The mirror is typically a mounted
// NAS or synced folder; a second physical copy of every artifact.
func (s *Service) mirrorArtifact(relativePath string) error {
	return s.mirrorCopy(relativePath)
}

// mirrorSidecar copies the archive's metadata sidecar alongside the
// mirrored artifact so the mirror is browsable on its own.
func (s *Service) mirrorSidecar(relativePath string) error {
	return s.mirrorCopy(sidecarPath(relativePath))
}

func (s *Service) mirrorCopy(relativePath string) error {
	if s.opts.MirrorRoot == "" {
		return nil
	}
	src := filepath.Join(s.opts.Root, relativePath)
	dst := filepath.Join(s.opts.MirrorRoot, relativePath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create mirror dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".mirror-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
