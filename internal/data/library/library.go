package library

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"semcache/internal/engine/source"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Library is a library read from disk. It implements ports.Library.
type Library struct {
	manifest Manifest
	root     string
	external bool
	files    []*source.File
	skipped  []string
}

var _ ports.Library = (*Library)(nil)

func (l *Library) Name() string           { return l.manifest.Name }
func (l *Library) Version() string        { return l.manifest.Version }
func (l *Library) IsExternal() bool       { return l.external }
func (l *Library) Dependencies() []string { return append([]string(nil), l.manifest.Dependencies...) }
func (l *Library) Root() string           { return l.root }
func (l *Library) Manifest() Manifest     { return l.manifest }

func (l *Library) Files() []ports.File {
	out := make([]ports.File, 0, len(l.files))
	for _, f := range l.files {
		out = append(out, f)
	}
	return out
}

// Skipped lists the files that failed to parse during the last load.
func (l *Library) Skipped() []string { return append([]string(nil), l.skipped...) }

func (l *Library) paths() map[string]bool {
	out := make(map[string]bool, len(l.files))
	for _, f := range l.files {
		out[f.Path()] = true
	}
	return out
}

func (l *Library) definitionCount() int {
	n := 0
	for _, f := range l.files {
		n += len(f.Definitions())
	}
	return n
}

type sourceFile struct {
	path    string
	loc     naming.ModuleLocation
	content string
}

// collectSources lists the .sem files of the library ordered by path. Files
// under the tests directory become test modules.
func collectSources(root string, m Manifest) ([]sourceFile, error) {
	var out []sourceFile
	dirs := []struct {
		dir  string
		kind naming.LocationKind
	}{
		{m.Sources, naming.SourceModule},
		{m.Tests, naming.TestModule},
	}
	for _, d := range dirs {
		if d.dir == "" {
			continue
		}
		base := filepath.Join(root, d.dir)
		if info, err := os.Stat(base); err != nil || !info.IsDir() {
			if d.kind == naming.SourceModule {
				return nil, fmt.Errorf("library %s: sources directory %s not found", m.Name, base)
			}
			continue
		}
		err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				if path != base && strings.HasPrefix(entry.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != SourceExt {
				return nil
			}
			rel, err := filepath.Rel(base, path)
			if err != nil {
				return err
			}
			out = append(out, sourceFile{
				path: path,
				loc: naming.ModuleLocation{
					Library: m.Name,
					Kind:    d.kind,
					Path:    ModulePath(rel),
				},
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", base, err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

// ModulePath turns a path relative to a sources directory into a dotted
// module path: "Data/List.sem" becomes "Data.List".
func ModulePath(rel string) string {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), SourceExt)
	return strings.ReplaceAll(rel, "/", ".")
}

// readSources fills the content of every file, at most limit reads at a time.
func readSources(ctx context.Context, files []sourceFile, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range files {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(files[i].path)
			if err != nil {
				return fmt.Errorf("read %s: %w", files[i].path, err)
			}
			files[i].content = string(data)
			return nil
		})
	}
	return g.Wait()
}

// apply loads the read files into tree without notifications. A file that
// does not parse is skipped and listed in Skipped.
func apply(tree *source.Tree, lib *Library, files []sourceFile) {
	for _, sf := range files {
		f, err := tree.Load(sf.path, sf.loc, sf.content)
		if err != nil {
			slog.Warn("skipping library file", "library", lib.Name(), "path", sf.path, "error", err)
			lib.skipped = append(lib.skipped, sf.path)
			continue
		}
		lib.files = append(lib.files, f)
	}
}
