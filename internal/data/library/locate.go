package library

import (
	"path/filepath"
	"semcache/internal/engine/naming"
	"semcache/internal/shared/util"
)

// Locate maps a source file path to its module location in a loaded library.
// Paths outside every loaded library, or without the source extension, yield
// false.
func (m *Manager) Locate(path string) (naming.ModuleLocation, bool) {
	if filepath.Ext(path) != SourceExt {
		return naming.ModuleLocation{}, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return naming.ModuleLocation{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var best naming.ModuleLocation
	bestLen := -1
	for _, lib := range m.loaded {
		for _, d := range []struct {
			dir  string
			kind naming.LocationKind
		}{
			{lib.manifest.Sources, naming.SourceModule},
			{lib.manifest.Tests, naming.TestModule},
		} {
			if d.dir == "" {
				continue
			}
			base, err := filepath.Abs(filepath.Join(lib.root, d.dir))
			if err != nil {
				continue
			}
			if !util.IsWithin(abs, base) {
				continue
			}
			rel, err := filepath.Rel(base, abs)
			if err != nil {
				continue
			}
			// Nested libraries win over the library that contains them.
			if len(base) <= bestLen {
				continue
			}
			bestLen = len(base)
			best = naming.ModuleLocation{Library: lib.Name(), Kind: d.kind, Path: ModulePath(rel)}
		}
	}
	return best, bestLen >= 0
}
