package backup

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

const manifestEntry = "manifest.json"

// archiveWriter builds a .tar.gz artifact. The writer stays open until
// Close so late entries (the manifest) can be appended after the data
// entries are already written.
type archiveWriter struct {
	file *os.File
	gz   *gzip.Writer
	tw   *tar.Writer
}

func newArchiveWriter(path string) (*archiveWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	gz := gzip.NewWriter(f)
	return &archiveWriter{file: f, gz: gz, tw: tar.NewWriter(gz)}, nil
}

// AddBytes writes in-memory data as a tar entry.
func (w *archiveWriter) AddBytes(name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := w.tw.Write(data)
	return err
}

// AddFile adds a file from disk under the given archive name.
func (w *archiveWriter) AddFile(name, diskPath string) error {
	fi, err := os.Stat(diskPath)
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(fi.Mode().Perm()),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(diskPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w.tw, f)
	return err
}

// Close flushes and closes all layers.
func (w *archiveWriter) Close() error {
	if err := w.tw.Close(); err != nil {
		w.gz.Close()
		w.file.Close()
		return err
	}
	if err := w.gz.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Abort discards a partially written archive.
func (w *archiveWriter) Abort(path string) {
	w.tw.Close()
	w.gz.Close()
	w.file.Close()
	os.Remove(path)
}

// forEachEntry streams an archive, invoking fn per tar entry.
func forEachEntry(archivePath string, fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// readManifest extracts and parses manifest.json from an archive.
func readManifest(archivePath string) (*Manifest, error) {
	var m *Manifest
	err := forEachEntry(archivePath, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Name != manifestEntry {
			return nil
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}
		var parsed Manifest
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("invalid manifest JSON: %w", err)
		}
		m = &parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("manifest.json not found in archive")
	}
	return m, nil
}

// extractEntry writes one tar entry to disk.
func extractEntry(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}
