package backup

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListHistory scans the backup root for metadata sidecars and returns
// matching entries, newest first. The sidecars are the index: a backup
// tree rsynced from another host is browsable with no extra state.
func (s *Service) ListHistory(filter HistoryFilter) ([]Sidecar, error) {
	var entries []Sidecar
	err := filepath.WalkDir(s.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".meta.json") {
			return nil
		}
		sc, err := readSidecar(path)
		if err != nil {
			s.log.WithError(err).WithField("path", path).Warn("skipping unreadable sidecar")
			return nil
		}
		if filter.Scope != "" && sc.Scope != filter.Scope {
			return nil
		}
		if filter.SiteCode != "" && sc.SiteCode != filter.SiteCode {
			return nil
		}
		entries = append(entries, *sc)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

func readSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
