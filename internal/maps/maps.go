// Package maps resolves configured map names to .SC2Map files on disk.
package maps

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrMapNotFound is returned when no configured directory contains the map.
var ErrMapNotFound = errors.New("map not found")

const mapExtension = ".SC2Map"

// Manager searches a set of map directories. Lookups are cached; the
// directories are expected to be static for the lifetime of the process.
type Manager struct {
	dirs  []string
	mu    sync.Mutex
	cache map[string]string
}

// NewManager creates a manager over the given directories. Empty entries are
// skipped; if none remain, the SC2PATH environment variable's Maps
// subdirectory is used.
func NewManager(dirs ...string) *Manager {
	var clean []string
	for _, d := range dirs {
		if d != "" {
			clean = append(clean, d)
		}
	}
	if len(clean) == 0 {
		if base := os.Getenv("SC2PATH"); base != "" {
			clean = append(clean, filepath.Join(base, "Maps"))
		}
	}
	return &Manager{dirs: clean, cache: make(map[string]string)}
}

// FindMap resolves a map name to an absolute file path. The name is matched
// case-insensitively against file base names, with or without the .SC2Map
// extension, anywhere under the configured directories.
func (m *Manager) FindMap(name string) (string, error) {
	want := strings.ToLower(strings.TrimSuffix(name, mapExtension))
	if want == "" {
		return "", ErrMapNotFound
	}

	m.mu.Lock()
	cached, ok := m.cache[want]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	for _, dir := range m.dirs {
		found := ""
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil // unreadable entries are skipped, not fatal
			}
			base := strings.ToLower(strings.TrimSuffix(d.Name(), mapExtension))
			if base == want && strings.EqualFold(filepath.Ext(d.Name()), mapExtension) {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			continue
		}
		if found != "" {
			abs, err := filepath.Abs(found)
			if err != nil {
				abs = found
			}
			m.mu.Lock()
			m.cache[want] = abs
			m.mu.Unlock()
			return abs, nil
		}
	}
	return "", ErrMapNotFound
}
