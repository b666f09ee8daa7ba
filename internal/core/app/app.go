package app

import (
	"context"
	"log/slog"
	"os"
	"semcache/internal/core/config"
	"semcache/internal/core/errors"
	"semcache/internal/core/ports"
	"semcache/internal/core/watcher"
	"semcache/internal/data/library"
	"semcache/internal/data/libstore"
	"semcache/internal/engine/elab"
	"semcache/internal/engine/naming"
	"semcache/internal/engine/prelude"
	"semcache/internal/engine/source"
	"semcache/internal/engine/typecheck"
	"semcache/internal/shared/observability"
	"sort"
	"sync"
	"time"
)

// Update summarizes one batch of source changes after they were rechecked.
type Update struct {
	Changed  []string
	Modules  []naming.ModuleLocation
	Errors   int
	Warnings int
}

type App struct {
	Config    *config.Config
	Paths     config.ResolvedPaths
	Tree      *source.Tree
	Libraries *library.Manager
	Reporter  *library.NotificationReporter
	Service   *typecheck.Service

	store     *libstore.Store
	manifests *manifestHub

	updateMu sync.RWMutex
	onUpdate func(Update)

	watchMu       sync.Mutex
	activeWatcher *watcher.Watcher
	configWatcher *config.Watcher

	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New wires the syntax tree, the library manager and the typechecking
// service for the project described by cfg and paths.
func New(cfg *config.Config, paths config.ResolvedPaths) (*App, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeValidationError, "config is required")
	}

	tree := source.NewTree()
	pre, err := prelude.Load(tree)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "load prelude")
	}

	reporter := library.NewNotificationReporter()
	manager, err := library.NewManager(tree, library.Options{
		LibrariesDir:    paths.LibrariesDir,
		Internal:        paths.Internal,
		LanguageVersion: cfg.Project.LanguageVersion,
		Parallelism:     cfg.Libraries.Parallelism,
		ProjectKey:      cfg.Project.Name,
	}, reporter)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Paths:     paths,
		Tree:      tree,
		Libraries: manager,
		Reporter:  reporter,
		manifests: newManifestHub(cfg.Typecheck.ReloadRate, cfg.Typecheck.ReloadBurst),
	}

	if cfg.DB.Enabled {
		store, err := libstore.Open(paths.DBPath)
		if err != nil {
			a.manifests.Close()
			return nil, errors.AddContext(err, errors.CtxPath, paths.DBPath)
		}
		a.store = store
		manager.WithRecorder(store)
	}

	a.Service, err = typecheck.New(typecheck.Options{
		ResolveCacheCapacity: cfg.Cache.ResolveCapacity,
		ShutdownTimeout:      cfg.Typecheck.ShutdownTimeout,
	}, typecheck.Dependencies{
		Tree:       tree,
		Resolver:   source.NewResolver(tree, prelude.ModulePath),
		Elaborator: elab.New(),
		Prelude:    pre,
		Libraries:  manager,
		Notifier:   tree,
		Watcher:    a.manifests,
	})
	if err != nil {
		a.closeStore()
		a.manifests.Close()
		return nil, err
	}
	return a, nil
}

// Store returns the library load history, nil when the database is disabled.
func (a *App) Store() *libstore.Store { return a.store }

func (a *App) SetUpdateHandler(handler func(Update)) {
	a.updateMu.Lock()
	defer a.updateMu.Unlock()
	a.onUpdate = handler
}

// Start initializes the service and loads the project libraries followed by
// the libraries listed in the config. A library that fails to load is
// reported and skipped.
func (a *App) Start(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "app.Start", "project", a.Config.Project.Name)
	defer span.End()

	if _, err := a.Service.Initialize(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	names := a.libraryNames()
	start := time.Now()
	if err := a.Service.LoadLibraries(ctx, names...); err != nil {
		slog.Warn("some libraries failed to load", "error", err)
	}
	slog.Info("project loaded",
		"project", a.Config.Project.Name,
		"libraries", len(a.Service.Libraries()),
		"definitions", a.Service.Index().Len(),
		"duration", time.Since(start))

	interval := a.Config.Cache.SweepInterval
	if interval > 0 {
		a.startSweeper(interval)
	}
	return nil
}

// libraryNames lists the internal libraries first, then the configured ones,
// without repeats.
func (a *App) libraryNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, dir := range a.Paths.Internal {
		m, err := library.ReadManifest(dir)
		if err != nil {
			slog.Warn("skipping internal library", "dir", dir, "error", err)
			continue
		}
		add(m.Name)
	}
	for _, name := range a.Config.Libraries.Load {
		add(name)
	}
	return names
}

func (a *App) startSweeper(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.Service.SweepResolveCache(); n > 0 {
					slog.Debug("resolve cache swept", "dropped", n)
				}
			}
		}
	}()
}

// HandleChanges feeds changed source files into the syntax tree, which
// notifies the service, and rechecks the touched files.
func (a *App) HandleChanges(paths []string) {
	ctx := context.Background()
	var changed []string
	var files []*source.File
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if a.Tree.Remove(path, true) {
				changed = append(changed, path)
			}
			continue
		}
		loc, ok := a.locate(path)
		if !ok {
			slog.Debug("ignoring file outside loaded libraries", "path", path)
			continue
		}
		f, err := a.Tree.Update(path, loc, string(data))
		if err != nil {
			slog.Warn("failed to parse file", "path", path, "error", err)
			continue
		}
		changed = append(changed, path)
		files = append(files, f)
	}
	if len(changed) == 0 {
		return
	}

	for _, f := range files {
		if _, err := a.Service.TypecheckFile(ctx, f); err != nil {
			slog.Warn("recheck failed", "path", f.Path(), "error", err)
		}
	}

	modules := a.Service.TakeUpdatedModules()
	sort.Slice(modules, func(i, j int) bool { return modules[i].String() < modules[j].String() })
	update := Update{
		Changed:  changed,
		Modules:  modules,
		Errors:   a.Service.Diagnostics().Count(ports.SeverityError),
		Warnings: a.Service.Diagnostics().Count(ports.SeverityWarning),
	}

	a.updateMu.RLock()
	handler := a.onUpdate
	a.updateMu.RUnlock()
	if handler != nil {
		handler(update)
	}
}

// locate keeps the location of a known file and asks the library manager
// for new ones.
func (a *App) locate(path string) (naming.ModuleLocation, bool) {
	if f, ok := a.Tree.File(path); ok {
		return f.Location(), true
	}
	return a.Libraries.Locate(path)
}

// Notifications returns the pending library notifications ordered by time.
func (a *App) Notifications() []library.Notification {
	return a.Reporter.Notifications()
}

// Fetch clones a library into the libraries directory. The standard library
// uses the configured repository when url is empty.
func (a *App) Fetch(ctx context.Context, name, url, revision string) (string, error) {
	if name == library.StdLibrary && url == "" {
		url = a.Config.Libraries.StdRepository
		if revision == "" {
			revision = a.Config.Libraries.StdRevision
		}
	}
	if url == "" {
		return "", errors.AddContext(errors.New(errors.CodeValidationError, "repository URL required"), errors.CtxLibrary, name)
	}
	return a.Libraries.Fetch(ctx, name, url, revision)
}

// ApplyConfig takes over the settings that can change while watching.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	a.Config.Watch.Debounce = cfg.Watch.Debounce
	a.Config.Typecheck.ReloadRate = cfg.Typecheck.ReloadRate
	a.Config.Typecheck.ReloadBurst = cfg.Typecheck.ReloadBurst
	if a.activeWatcher != nil {
		a.activeWatcher.SetDebounce(cfg.Watch.Debounce)
	}
	a.manifests.SetRate(cfg.Typecheck.ReloadRate, cfg.Typecheck.ReloadBurst)
	slog.Info("configuration applied", "debounce", cfg.Watch.Debounce, "reload_rate", cfg.Typecheck.ReloadRate)
}

func (a *App) Close(ctx context.Context) error {
	a.StopWatcher()
	if a.bgCancel != nil {
		a.bgCancel()
	}
	a.bg.Wait()
	a.manifests.Close()

	err := a.Service.Close(ctx)
	if cerr := a.closeStore(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
