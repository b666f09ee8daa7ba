package typecheck

import (
	"context"
	"log/slog"
	"semcache/internal/core/errors"
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"semcache/internal/shared/observability"
	"sort"
	"time"

	"github.com/google/uuid"
)

// registerLibrary creates the handles of every definition of lib and fills
// the additional names.
func (s *Service) registerLibrary(lib ports.Library) {
	s.mu.Lock()
	s.libraries[lib.Name()] = lib
	s.mu.Unlock()

	for _, f := range lib.Files() {
		for _, g := range f.Groups() {
			walkGroup(g, func(d ports.Definition) {
				if d.IsValid() {
					s.tcReferableFor(d)
				}
			})
		}
		s.fillFile(f, lib.IsExternal())
	}
	observability.IndexHandles.Set(float64(s.index.Len()))
}

func (s *Service) unregisterLibrary(name string) {
	s.mu.Lock()
	delete(s.libraries, name)
	s.mu.Unlock()
	s.names.removeLibrary(name)
	s.dropHandles(s.index.RemoveLibrary(name))
}

// dropHandles retires handles that left the index. Their dependents that
// are still indexed go back to NeedsCheck, since their results were computed
// against definitions that no longer exist.
func (s *Service) dropHandles(refs []*naming.TCReferable) {
	s.mu.Lock()
	for _, ref := range refs {
		delete(s.frontiers, ref.ID())
	}
	s.mu.Unlock()
	for _, ref := range refs {
		inv := s.graph.Update(ref.ID())
		for _, id := range inv.Dependents {
			dep, ok := s.index.Lookup(id)
			if !ok {
				continue
			}
			dep.Invalidate(false)
			s.errors.ClearDefinition(id)
			s.markUpdated(dep.Location())
		}
		if len(inv.Dependents) > 0 {
			observability.InvalidationsTotal.WithLabelValues("dependent").Add(float64(len(inv.Dependents)))
		}
		s.errors.ClearDefinition(ref.ID())
		s.clearUnresolved(ref.ID())
		ref.MarkNotNeeded()
	}
	observability.IndexHandles.Set(float64(s.index.Len()))
}

// Libraries returns the registered libraries ordered by name.
func (s *Service) Libraries() []ports.Library {
	s.mu.Lock()
	out := make([]ports.Library, 0, len(s.libraries))
	for _, lib := range s.libraries {
		out = append(out, lib)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// LoadLibrary loads name through the library manager and registers it.
func (s *Service) LoadLibrary(ctx context.Context, name string) (ports.Library, error) {
	if s.deps.Libraries == nil {
		return nil, errors.New(errors.CodeNotSupported, "no library manager configured")
	}
	ctx, span := observability.StartSpan(ctx, "typecheck.LoadLibrary", "library", name)
	defer span.End()

	lib, err := s.deps.Libraries.LoadLibrary(ctx, name)
	if err != nil {
		span.RecordError(err)
		if _, ok := errors.CodeOf(err); ok {
			return nil, errors.AddContext(err, errors.CtxLibrary, name)
		}
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "load library"), errors.CtxLibrary, name)
	}
	s.registerLibrary(lib)
	s.registerDependencies(lib)
	slog.Info("library loaded", "library", lib.Name(), "version", lib.Version(), "external", lib.IsExternal())
	return lib, nil
}

// registerDependencies registers the libraries the manager loaded on behalf
// of lib that the service has not seen yet.
func (s *Service) registerDependencies(lib ports.Library) {
	if len(lib.Dependencies()) == 0 {
		return
	}
	for _, dep := range s.deps.Libraries.Libraries() {
		s.mu.Lock()
		_, known := s.libraries[dep.Name()]
		s.mu.Unlock()
		if !known && dep.Name() != s.deps.Prelude.Name() {
			s.registerLibrary(dep)
		}
	}
}

// LoadLibraries loads every name. A failing library does not stop the rest;
// the first error is returned.
func (s *Service) LoadLibraries(ctx context.Context, names ...string) error {
	var first error
	for _, name := range names {
		if _, err := s.LoadLibrary(ctx, name); err != nil {
			slog.Warn("library load failed", "library", name, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Reload re-reads libraries from disk and rebuilds the model on top of them.
// Calls are serialized; one arriving during another waits and then runs in
// full. A failure before the rebuild leaves the previous state in place.
func (s *Service) Reload(ctx context.Context, onlyInternal, refresh bool) error {
	if s.deps.Libraries == nil {
		return errors.New(errors.CodeNotSupported, "no library manager configured")
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	scope := "full"
	if onlyInternal {
		scope = "internal"
	}
	ctx, span := observability.StartSpan(ctx, "typecheck.Reload", "scope", scope)
	defer span.End()
	start := time.Now()

	fail := func(err error, msg string) error {
		span.RecordError(err)
		slog.Error("reload failed", "scope", scope, "error", err)
		return errors.AddContext(errors.Wrap(err, errors.CodeInternal, msg), errors.CtxOperation, "reload:"+scope)
	}

	if refresh {
		if err := s.deps.Libraries.Refresh(ctx); err != nil {
			return fail(err, "refresh libraries directory")
		}
	}

	wasLoaded := s.loaded.Swap(false)
	loaded := 0
	rebuild := func(ctx context.Context, libs []ports.Library) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.applyReload(libs, onlyInternal)
		loaded = len(libs)
		return nil
	}

	var err error
	if onlyInternal {
		err = s.deps.Libraries.ReloadInternalLibraries(ctx, rebuild)
	} else {
		err = s.deps.Libraries.Reload(ctx, rebuild)
	}
	if err != nil {
		s.loaded.Store(wasLoaded)
		return fail(err, "reload libraries")
	}

	s.loaded.Store(true)
	observability.ReloadDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	slog.Info("libraries reloaded",
		"scope", scope,
		"libraries", loaded,
		"definitions", s.index.Len(),
		"duration", time.Since(start))
	return nil
}

// applyReload swaps the library state. Only the affected modules are removed
// from the index, so readers keep seeing everything else.
func (s *Service) applyReload(libs []ports.Library, onlyInternal bool) {
	prelude := s.deps.Prelude.Name()

	s.mu.Lock()
	drop := make(map[string]bool)
	if onlyInternal {
		for id, internal := range s.extensions {
			if internal {
				delete(s.extensions, id)
			}
		}
		for name, lib := range s.libraries {
			if !lib.IsExternal() {
				drop[name] = true
			}
		}
		for _, lib := range libs {
			if !lib.IsExternal() {
				drop[lib.Name()] = true
			}
		}
	} else {
		s.extensions = make(map[naming.RefID]bool)
		for name := range s.libraries {
			if name != prelude {
				drop[name] = true
			}
		}
	}
	for name := range drop {
		delete(s.libraries, name)
	}
	s.mu.Unlock()

	var removed []*naming.TCReferable
	s.cache.Clear()
	if onlyInternal {
		s.names.clearInternal()
		removed = s.index.RemoveModules(func(loc naming.ModuleLocation) bool { return drop[loc.Library] })
	} else {
		s.names.clear()
		removed = s.index.RemoveModules(func(loc naming.ModuleLocation) bool { return loc.Library != prelude })
		for _, f := range s.deps.Prelude.Files() {
			s.fillFile(f, s.deps.Prelude.IsExternal())
		}
	}
	s.errors.ClearAll()
	s.modCount.Add(1)
	s.dropHandles(removed)
	s.gate.Cancel("reload")

	for _, lib := range libs {
		if lib.Name() == prelude {
			continue
		}
		s.registerLibrary(lib)
	}
}

// ScheduleReload runs Reload in the background and returns the task id used
// in its log lines. Close waits for scheduled reloads.
// After Close it does nothing and returns "".
func (s *Service) ScheduleReload(onlyInternal, refresh bool) string {
	s.bgMu.Lock()
	if s.bgCtx.Err() != nil {
		s.bgMu.Unlock()
		slog.Debug("reload not scheduled, service is closing", "only_internal", onlyInternal)
		return ""
	}
	id := uuid.NewString()
	s.tasks.Add(1)
	s.bgMu.Unlock()
	go func() {
		defer s.tasks.Done()
		slog.Debug("reload scheduled", "task", id, "only_internal", onlyInternal, "refresh", refresh)
		if err := s.Reload(s.bgCtx, onlyInternal, refresh); err != nil {
			slog.Error("background reload failed", "task", id, "error", err)
		}
	}()
	return id
}

// onManifestChanged reacts to a library manifest change. A project library
// only needs an internal reload; an external one rescans the libraries
// directory first.
func (s *Service) onManifestChanged(path string, internal bool) {
	slog.Info("library manifest changed", "path", path, "internal", internal)
	s.ScheduleReload(internal, !internal)
}
