package app

import (
	"context"
	"log/slog"
	"semcache/internal/core/config"
	"semcache/internal/core/ports"
	"semcache/internal/core/watcher"
	"semcache/internal/shared/observability"
	"semcache/internal/shared/util"
	"sync"
	"time"
)

// StartWatcher watches the configured paths. Source changes go through
// HandleChanges; manifest changes reach the service through the reload
// limiter.
func (a *App) StartWatcher() error {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	if a.activeWatcher != nil {
		return nil
	}

	w, err := watcher.NewWatcher(
		a.Config.Watch.Debounce,
		a.Config.Exclude.Dirs,
		a.Config.Exclude.Files,
		a.HandleChanges,
	)
	if err != nil {
		return err
	}
	w.SetManifests(a.Libraries.ManifestPaths())
	w.Register(func(path string, internal bool) {
		a.manifests.dispatch(path, internal)
		w.SetManifests(a.Libraries.ManifestPaths())
	})
	if err := w.Watch(a.Paths.WatchPaths); err != nil {
		_ = w.Close()
		return err
	}
	a.activeWatcher = w
	slog.Info("watching project", "paths", a.Paths.WatchPaths, "debounce", a.Config.Watch.Debounce)
	return nil
}

// WatchConfig reloads the config file on change and applies the settings
// that can change at runtime.
func (a *App) WatchConfig(ctx context.Context) error {
	if a.Paths.ConfigFile == "" {
		return nil
	}
	cw := config.NewWatcher(a.Paths.ConfigFile, a.ApplyConfig)
	if err := cw.Start(ctx); err != nil {
		return err
	}
	a.watchMu.Lock()
	a.configWatcher = cw
	a.watchMu.Unlock()
	return nil
}

func (a *App) StopWatcher() {
	a.watchMu.Lock()
	w := a.activeWatcher
	cw := a.configWatcher
	a.activeWatcher = nil
	a.configWatcher = nil
	a.watchMu.Unlock()

	if w != nil {
		if err := w.Close(); err != nil {
			slog.Warn("failed to close watcher", "error", err)
		}
	}
	if cw != nil {
		cw.Stop()
	}
}

// manifestHub is the ports.ManifestWatcher handed to the service. Events for
// one manifest are limited to the configured rate; an event over the limit is
// delayed, never dropped, and repeated events while delayed collapse.
type manifestHub struct {
	mu      sync.Mutex
	fns     []func(path string, internal bool)
	limits  *util.LimiterRegistry
	delayed map[string]*time.Timer
	closed  bool
}

var _ ports.ManifestWatcher = (*manifestHub)(nil)

func newManifestHub(rate float64, burst int) *manifestHub {
	return &manifestHub{
		limits:  util.NewLimiterRegistry(rate, burst, 0),
		delayed: make(map[string]*time.Timer),
	}
}

func (h *manifestHub) Register(fn func(path string, internal bool)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

// SetRate replaces the limiters. Pending delayed events keep their timers.
func (h *manifestHub) SetRate(rate float64, burst int) {
	h.mu.Lock()
	old := h.limits
	h.limits = util.NewLimiterRegistry(rate, burst, 0)
	h.mu.Unlock()
	old.Close()
}

func (h *manifestHub) dispatch(path string, internal bool) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if _, ok := h.delayed[path]; ok {
		h.mu.Unlock()
		return
	}
	limiter := h.limits.Get(path)
	if !limiter.Allow(1) {
		delay := limiter.Delay()
		observability.ManifestReloadsDeferred.Inc()
		slog.Debug("manifest reload delayed", "path", path, "delay", delay)
		h.delayed[path] = time.AfterFunc(delay, func() {
			h.mu.Lock()
			delete(h.delayed, path)
			closed := h.closed
			h.mu.Unlock()
			if !closed {
				h.forward(path, internal)
			}
		})
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.forward(path, internal)
}

func (h *manifestHub) forward(path string, internal bool) {
	h.mu.Lock()
	fns := append([]func(string, bool){}, h.fns...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(path, internal)
	}
}

func (h *manifestHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for path, timer := range h.delayed {
		timer.Stop()
		delete(h.delayed, path)
	}
	h.limits.Close()
}
