package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"semcache/internal/core/errors"
	"semcache/internal/core/ports"
	"semcache/internal/data/libstore"
	"semcache/internal/engine/source"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Options configures a Manager.
type Options struct {
	// LibrariesDir holds one directory per external library.
	LibrariesDir string
	// Internal lists the directories of the project's own libraries.
	Internal        []string
	LanguageVersion string
	// Parallelism bounds concurrent file reads; 0 means unbounded.
	Parallelism int
	ProjectKey  string
}

// Recorder receives one record per load attempt.
type Recorder interface {
	RecordLoad(load libstore.Load) error
}

type candidate struct {
	dir      string
	external bool
}

type pending struct {
	lib   *Library
	files []sourceFile
}

// Manager implements ports.LibraryManager on top of the filesystem. Loaded
// sources go into the shared syntax tree without change notifications.
type Manager struct {
	opts     Options
	tree     *source.Tree
	reporter ports.LibraryErrorReporter
	recorder Recorder
	fetcher  *Fetcher
	lang     *semver.Version

	mu        sync.Mutex
	scanned   bool
	available map[string]candidate
	loaded    map[string]*Library
}

var _ ports.LibraryManager = (*Manager)(nil)

func NewManager(tree *source.Tree, opts Options, reporter ports.LibraryErrorReporter) (*Manager, error) {
	if tree == nil {
		return nil, errors.New(errors.CodeValidationError, "library manager requires a syntax tree")
	}
	var lang *semver.Version
	if opts.LanguageVersion != "" {
		v, err := semver.NewVersion(opts.LanguageVersion)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeValidationError, "invalid language version")
		}
		lang = v
	}
	if reporter == nil {
		reporter = NewNotificationReporter()
	}
	m := &Manager{
		opts:      opts,
		tree:      tree,
		reporter:  reporter,
		lang:      lang,
		available: make(map[string]candidate),
		loaded:    make(map[string]*Library),
	}
	if opts.LibrariesDir != "" {
		m.fetcher = NewFetcher(opts.LibrariesDir)
	}
	return m, nil
}

// WithRecorder makes every load attempt leave a record in r.
func (m *Manager) WithRecorder(r Recorder) *Manager {
	m.recorder = r
	return m
}

// Refresh rescans the libraries directory and the internal library list.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked()
}

func (m *Manager) refreshLocked() error {
	available := make(map[string]candidate)
	if m.opts.LibrariesDir != "" {
		entries, err := os.ReadDir(m.opts.LibrariesDir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("scan libraries directory %s: %w", m.opts.LibrariesDir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			dir := filepath.Join(m.opts.LibrariesDir, entry.Name())
			if !hasManifest(dir) {
				continue
			}
			name := entry.Name()
			if mf, err := ReadManifest(dir); err == nil {
				name = mf.Name
			}
			available[name] = candidate{dir: dir, external: true}
		}
	}
	// Project libraries shadow external ones of the same name.
	for _, dir := range m.opts.Internal {
		mf, err := ReadManifest(dir)
		if err != nil {
			slog.Warn("skipping internal library", "dir", dir, "error", err)
			continue
		}
		available[mf.Name] = candidate{dir: dir, external: false}
	}
	m.available = available
	m.scanned = true
	return nil
}

// Available returns the names of every library found on disk.
func (m *Manager) Available() []string {
	m.mu.Lock()
	if !m.scanned {
		if err := m.refreshLocked(); err != nil {
			slog.Warn("library scan failed", "error", err)
		}
	}
	out := make([]string, 0, len(m.available))
	for name := range m.available {
		out = append(out, name)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

// ManifestPaths maps the manifest path of every known library to whether it
// belongs to the project.
func (m *Manager) ManifestPaths() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.available))
	for _, c := range m.available {
		out[filepath.Join(c.dir, ManifestFile)] = !c.external
	}
	return out
}

// Libraries returns the loaded libraries ordered by name.
func (m *Manager) Libraries() []ports.Library {
	m.mu.Lock()
	out := make([]ports.Library, 0, len(m.loaded))
	for _, lib := range m.loaded {
		out = append(out, lib)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// LoadLibrary loads name and, first, its dependencies. A library that is
// already loaded is returned as is.
func (m *Manager) LoadLibrary(ctx context.Context, name string) (ports.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.scanned {
		if err := m.refreshLocked(); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "scan libraries")
		}
	}
	lib, err := m.loadLocked(ctx, name, make(map[string]bool))
	if err != nil {
		return nil, err
	}
	return lib, nil
}

func (m *Manager) loadLocked(ctx context.Context, name string, visiting map[string]bool) (*Library, error) {
	if lib, ok := m.loaded[name]; ok {
		return lib, nil
	}
	if visiting[name] {
		return nil, errors.AddContext(errors.New(errors.CodeConflict, "library dependency cycle"), errors.CtxLibrary, name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	p, err := m.prepare(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, dep := range p.lib.manifest.Dependencies {
		if _, err := m.loadLocked(ctx, dep, visiting); err != nil {
			m.record(p.lib, len(p.files), 0, "dependency", err)
			code, ok := errors.CodeOf(err)
			if !ok {
				code = errors.CodeInternal
			}
			return nil, errors.AddContext(errors.Wrap(err, code, "load dependency "+dep), errors.CtxLibrary, name)
		}
	}
	m.commit(p, nil)
	slog.Debug("library read", "library", name, "files", len(p.lib.files), "skipped", len(p.lib.skipped))
	return p.lib, nil
}

// prepare reads the manifest and the sources of name without touching the
// syntax tree. Not-found and language-version problems go to the reporter.
func (m *Manager) prepare(ctx context.Context, name string) (*pending, error) {
	c, ok := m.available[name]
	if !ok {
		m.reporter.LibraryNotFound(name)
		err := errors.AddContext(errors.New(errors.CodeLibraryNotFound, "library not found"), errors.CtxLibrary, name)
		m.record(&Library{manifest: Manifest{Name: name}}, 0, 0, "not_found", err)
		return nil, err
	}
	mf, err := ReadManifest(c.dir)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "read manifest"), errors.CtxLibrary, name)
	}
	lib := &Library{manifest: mf, root: c.dir, external: c.external}
	if !mf.SupportsLanguage(m.lang) {
		m.reporter.IncorrectLanguageVersion(name, mf.LangVersion)
		err := errors.New(errors.CodeVersionMismatch, fmt.Sprintf("library requires language %s", mf.LangVersion))
		err = errors.AddContext(err, errors.CtxLibrary, name)
		err = errors.AddContext(err, errors.CtxVersion, m.opts.LanguageVersion)
		m.record(lib, 0, 0, "version", err)
		return nil, err
	}
	files, err := collectSources(c.dir, mf)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "collect sources"), errors.CtxLibrary, name)
	}
	if err := readSources(ctx, files, m.opts.Parallelism); err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "read sources"), errors.CtxLibrary, name)
	}
	return &pending{lib: lib, files: files}, nil
}

// commit loads p into the tree and replaces the previous version of the
// library, dropping files that disappeared.
func (m *Manager) commit(p *pending, previous *Library) {
	apply(m.tree, p.lib, p.files)
	if previous != nil {
		keep := p.lib.paths()
		for path := range previous.paths() {
			if !keep[path] {
				m.tree.Remove(path, false)
			}
		}
	}
	m.loaded[p.lib.Name()] = p.lib
	m.record(p.lib, len(p.lib.files), p.lib.definitionCount(), "", nil)
}

// Reload re-reads every loaded library and passes them to rebuild.
func (m *Manager) Reload(ctx context.Context, rebuild ports.RebuildFunc) error {
	return m.reload(ctx, rebuild, func(*Library) bool { return true })
}

// ReloadInternalLibraries re-reads the project libraries only.
func (m *Manager) ReloadInternalLibraries(ctx context.Context, rebuild ports.RebuildFunc) error {
	return m.reload(ctx, rebuild, func(l *Library) bool { return !l.external })
}

// reload reads every selected library before anything is replaced, so a
// read failure leaves the loaded set and the tree as they were.
func (m *Manager) reload(ctx context.Context, rebuild ports.RebuildFunc, selected func(*Library) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refreshLocked(); err != nil {
		return err
	}

	names := make([]string, 0, len(m.loaded))
	for name, lib := range m.loaded {
		if selected(lib) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	prepared := make([]*pending, 0, len(names))
	var dropped []string
	for _, name := range names {
		p, err := m.prepare(ctx, name)
		if err != nil {
			// Missing libraries and language mismatches are already reported;
			// the rest of the project still reloads without them.
			if errors.IsCode(err, errors.CodeLibraryNotFound) || errors.IsCode(err, errors.CodeVersionMismatch) {
				slog.Warn("library dropped from reload", "library", name, "error", err)
				dropped = append(dropped, name)
				continue
			}
			return err
		}
		prepared = append(prepared, p)
	}
	for _, name := range dropped {
		m.unloadLocked(name)
	}

	libs := make([]ports.Library, 0, len(prepared))
	for _, p := range prepared {
		m.commit(p, m.loaded[p.lib.Name()])
		libs = append(libs, p.lib)
	}
	if rebuild == nil {
		return nil
	}
	return rebuild(ctx, libs)
}

// unloadLocked forgets a loaded library and removes its files from the tree
// without notifying listeners.
func (m *Manager) unloadLocked(name string) {
	lib, ok := m.loaded[name]
	if !ok {
		return
	}
	for path := range lib.paths() {
		m.tree.Remove(path, false)
	}
	delete(m.loaded, name)
}

// Fetch clones a missing library into the libraries directory and rescans it.
func (m *Manager) Fetch(ctx context.Context, name, url, revision string) (string, error) {
	if m.fetcher == nil {
		return "", errors.New(errors.CodeNotSupported, "no libraries directory configured")
	}
	dir, err := m.fetcher.Fetch(ctx, name, url, revision)
	if err != nil {
		return "", errors.AddContext(errors.Wrap(err, errors.CodeInternal, "fetch library"), errors.CtxLibrary, name)
	}
	if err := m.Refresh(ctx); err != nil {
		return dir, err
	}
	return dir, nil
}

func (m *Manager) record(lib *Library, modules, definitions int, kind string, err error) {
	if m.recorder == nil {
		return
	}
	load := libstore.Load{
		ProjectKey:  m.opts.ProjectKey,
		Library:     lib.Name(),
		Version:     lib.Version(),
		External:    lib.external,
		SourcePath:  lib.root,
		Modules:     modules,
		Definitions: definitions,
		ErrorKind:   kind,
	}
	if err != nil {
		load.Error = err.Error()
	}
	if recErr := m.recorder.RecordLoad(load); recErr != nil {
		slog.Warn("failed to record library load", "library", lib.Name(), "error", recErr)
	}
}
