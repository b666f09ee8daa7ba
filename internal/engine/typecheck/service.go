// Package typecheck owns the incremental semantic model of a project: the
// definition index, the dependency graph, the resolution cache and the
// cancellation gate, and the protocol the editor and library manager use to
// keep them current.
package typecheck

import (
	"context"
	"log/slog"
	"semcache/internal/core/errors"
	"semcache/internal/core/ports"
	"semcache/internal/engine/computation"
	"semcache/internal/engine/diagnostics"
	"semcache/internal/engine/graph"
	"semcache/internal/engine/naming"
	"semcache/internal/engine/resolve"
	"semcache/internal/shared/observability"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Options struct {
	// ResolveCacheCapacity bounds the resolution entries not backed by syntax.
	ResolveCacheCapacity int
	// ShutdownTimeout bounds how long Close waits for background reloads.
	ShutdownTimeout time.Duration
}

// Dependencies are the collaborators of the service. Tree, Resolver,
// Elaborator and Prelude are required.
type Dependencies struct {
	Tree       ports.SyntaxTree
	Resolver   ports.ScopeResolver
	Elaborator ports.Elaborator
	Prelude    ports.Library
	Libraries  ports.LibraryManager
	Notifier   ports.ChangeNotifier
	Watcher    ports.ManifestWatcher
	Extensions ports.ExtensionListener
}

// IndexReader is the read-only view of the named-definition index handed out
// to callers outside the service.
type IndexReader interface {
	Get(loc naming.ModuleLocation, name naming.LongName) (*naming.TCReferable, bool)
	Lookup(id naming.RefID) (*naming.TCReferable, bool)
	Modules() []naming.ModuleLocation
	Definitions(loc naming.ModuleLocation) []*naming.TCReferable
	FindByName(name string) []*naming.TCReferable
	Len() int
}

type Service struct {
	opts Options
	deps Dependencies

	index  *naming.Index
	graph  *graph.DependencyCollector
	cache  *resolve.Cache
	gate   *computation.Gate
	errors *diagnostics.Service
	names  *additionalNames

	initMu      sync.Mutex
	initialized atomic.Bool
	loaded      atomic.Bool

	reloadMu sync.Mutex

	mu             sync.Mutex
	extensions     map[naming.RefID]bool
	updatedModules map[naming.ModuleLocation]struct{}
	frontiers      map[naming.RefID]*frontier
	preludeDefs    map[string]ports.Definition
	libraries      map[string]ports.Library
	unresolved     map[string]map[naming.RefID]struct{}
	unresolvedBy   map[naming.RefID][]string

	modCount atomic.Int64

	bgMu     sync.Mutex
	bgCtx    context.Context
	bgCancel context.CancelFunc
	tasks    sync.WaitGroup
}

var _ ports.DefinitionChangeListener = (*Service)(nil)

func New(opts Options, deps Dependencies) (*Service, error) {
	switch {
	case deps.Tree == nil:
		return nil, errors.New(errors.CodeValidationError, "typecheck: syntax tree is required")
	case deps.Resolver == nil:
		return nil, errors.New(errors.CodeValidationError, "typecheck: scope resolver is required")
	case deps.Elaborator == nil:
		return nil, errors.New(errors.CodeValidationError, "typecheck: elaborator is required")
	case deps.Prelude == nil:
		return nil, errors.New(errors.CodeValidationError, "typecheck: prelude library is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s := &Service{
		opts:           opts,
		deps:           deps,
		index:          naming.NewIndex(),
		graph:          graph.NewDependencyCollector(),
		gate:           computation.NewGate(),
		errors:         diagnostics.NewService(),
		names:          newAdditionalNames(),
		extensions:     make(map[naming.RefID]bool),
		updatedModules: make(map[naming.ModuleLocation]struct{}),
		frontiers:      make(map[naming.RefID]*frontier),
		preludeDefs:    make(map[string]ports.Definition),
		libraries:      make(map[string]ports.Library),
		unresolved:     make(map[string]map[naming.RefID]struct{}),
		unresolvedBy:   make(map[naming.RefID][]string),
		bgCtx:          bgCtx,
		bgCancel:       cancel,
	}
	s.cache = resolve.NewCache(deps.Tree, s, opts.ResolveCacheCapacity)
	return s, nil
}

// Initialize bootstraps the prelude and registers the edit and manifest
// listeners. Concurrent callers observe exactly one execution; the winner
// gets true. A failed attempt leaves the service uninitialized so it can be
// retried.
func (s *Service) Initialize(ctx context.Context) (bool, error) {
	if s.initialized.Load() {
		return false, nil
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized.Load() {
		return false, nil
	}

	ctx, span := observability.StartSpan(ctx, "typecheck.Initialize")
	defer span.End()
	start := time.Now()

	prelude := s.deps.Prelude
	s.registerLibrary(prelude)
	s.indexPrelude(prelude)

	if err := s.TypecheckLibrary(ctx, prelude); err != nil {
		s.unregisterLibrary(prelude.Name())
		span.RecordError(err)
		return false, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "typecheck prelude"), errors.CtxLibrary, prelude.Name())
	}

	if s.deps.Notifier != nil {
		s.deps.Notifier.AddListener(s)
	}
	if s.deps.Watcher != nil {
		s.deps.Watcher.Register(s.onManifestChanged)
	}

	s.initialized.Store(true)
	s.loaded.Store(true)
	slog.Info("typechecking service initialized",
		"prelude", prelude.Name(),
		"definitions", s.index.Len(),
		"duration", time.Since(start))
	return true, nil
}

func (s *Service) IsInitialized() bool { return s.initialized.Load() }

// IsLoaded reports whether libraries are loaded. It is false during a reload.
func (s *Service) IsLoaded() bool { return s.loaded.Load() }

// IsLive reports whether a cached resolution target still exists. A handle
// must still be canonical in the index; other targets are checked by the
// cache through their anchors.
func (s *Service) IsLive(target naming.Referable) bool {
	if ref, ok := target.(*naming.TCReferable); ok {
		return s.index.IsLive(ref)
	}
	return true
}

func (s *Service) Index() IndexReader                  { return s.index }
func (s *Service) Diagnostics() *diagnostics.Service   { return s.errors }
func (s *Service) Gate() *computation.Gate             { return s.gate }
func (s *Service) ResolveCacheStats() resolve.Stats    { return s.cache.Stats() }
func (s *Service) ModificationCount() int64            { return s.modCount.Load() }
func (s *Service) DependencyStats() (nodes, edges int) { return s.graph.Stats() }

// Dependents returns the transitive dependents currently recorded for ref.
func (s *Service) Dependents(ref *naming.TCReferable) []*naming.TCReferable {
	var out []*naming.TCReferable
	for _, id := range s.graph.Closure(ref.Typecheckable().ID()) {
		if dep, ok := s.index.Lookup(id); ok {
			out = append(out, dep)
		}
	}
	return out
}

// SweepResolveCache drops cache entries whose nodes are gone.
func (s *Service) SweepResolveCache() int {
	return s.cache.Sweep()
}

// Resolve resolves site through the resolution cache. Names the lexical scope
// does not know fall back to extension definitions.
func (s *Service) Resolve(site ports.ReferenceSite) naming.Referable {
	return s.cache.ResolveWithCache(site, func() naming.Referable {
		if target := s.deps.Resolver.ResolveReference(site); target != nil {
			return target
		}
		if ext := s.extensionByName(site.Text()); ext != nil {
			return ext
		}
		return nil
	})
}

// TCReferable maps a resolved target to its definition handle, creating the
// handle on first encounter.
func (s *Service) TCReferable(target naming.Referable) (*naming.TCReferable, bool) {
	switch t := target.(type) {
	case *naming.TCReferable:
		return t, s.index.IsLive(t)
	case ports.Definition:
		if !t.IsValid() {
			return nil, false
		}
		return s.tcReferableFor(t), true
	default:
		return nil, false
	}
}

// TCReferableFor returns the handle of a syntax definition.
func (s *Service) TCReferableFor(def ports.Definition) *naming.TCReferable {
	return s.tcReferableFor(def)
}

func (s *Service) tcReferableFor(def ports.Definition) *naming.TCReferable {
	ref, created := s.index.GetOrCreate(def.Location(), def.LongName(), def.Kind(), def.Signature(), def.Anchor())
	if created {
		observability.IndexHandles.Set(float64(s.index.Len()))
	} else if cur := ref.Anchor(); cur != def.Anchor() && !s.anchorValid(cur) {
		ref.Relink(def.Anchor(), def.Signature())
	}

	switch def.Kind() {
	case naming.ConstructorKind, naming.FieldKind:
		if parent, ok := def.ParentGroup(); ok {
			s.index.SetTypecheckable(ref, s.tcReferableFor(parent))
		}
	}
	return ref
}

// GetPsiReferable returns the syntax definition ref currently points at, or
// the prelude definition of the same name. A deleted anchor yields false.
func (s *Service) GetPsiReferable(ref *naming.TCReferable) (ports.Definition, bool) {
	if ref == nil {
		return nil, false
	}
	if def, ok := s.definitionOf(ref); ok {
		return def, true
	}
	s.mu.Lock()
	def, ok := s.preludeDefs[ref.LongName().String()]
	s.mu.Unlock()
	if ok && def.IsValid() {
		return def, true
	}
	return nil, false
}

func (s *Service) GetDefinitionPsiReferable(core *naming.CoreDefinition) (ports.Definition, bool) {
	if core == nil {
		return nil, false
	}
	return s.GetPsiReferable(core.Referable)
}

// TakeUpdatedModules returns and clears the set of modules touched by edits
// since the previous call.
func (s *Service) TakeUpdatedModules() []naming.ModuleLocation {
	s.mu.Lock()
	out := make([]naming.ModuleLocation, 0, len(s.updatedModules))
	for loc := range s.updatedModules {
		out = append(out, loc)
	}
	s.updatedModules = make(map[naming.ModuleLocation]struct{})
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Close stops background reloads and waits for them to finish.
func (s *Service) Close(ctx context.Context) error {
	s.bgMu.Lock()
	s.bgCancel()
	s.bgMu.Unlock()
	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	timeout := time.NewTimer(s.opts.ShutdownTimeout)
	defer timeout.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return errors.New(errors.CodeInternal, "timed out waiting for background reloads")
	}
}

// definitionOf dereferences the anchor of ref. It fails when the node is
// gone, invalid, or no longer carries ref's name.
func (s *Service) definitionOf(ref *naming.TCReferable) (ports.Definition, bool) {
	anchor := ref.Anchor()
	if anchor == 0 {
		return nil, false
	}
	node, ok := s.deps.Tree.Node(anchor)
	if !ok || !node.IsValid() {
		return nil, false
	}
	def, ok := node.(ports.Definition)
	if !ok || !def.LongName().Equal(ref.LongName()) || def.Location() != ref.Location() {
		return nil, false
	}
	return def, true
}

func (s *Service) anchorValid(anchor naming.AnchorID) bool {
	if anchor == 0 {
		return false
	}
	node, ok := s.deps.Tree.Node(anchor)
	return ok && node.IsValid()
}

func (s *Service) indexPrelude(lib ports.Library) {
	defs := make(map[string]ports.Definition)
	for _, f := range lib.Files() {
		for _, g := range f.Groups() {
			walkGroup(g, func(d ports.Definition) {
				defs[d.LongName().String()] = d
			})
		}
	}
	s.mu.Lock()
	s.preludeDefs = defs
	s.mu.Unlock()
}

// walkGroup visits g, its constructors and fields, and its nested groups.
func walkGroup(g ports.Group, fn func(ports.Definition)) {
	fn(g)
	for _, d := range g.InternalReferables() {
		fn(d)
	}
	for _, sub := range g.Subgroups() {
		walkGroup(sub, fn)
	}
}

func isTypecheckable(kind naming.Kind) bool {
	switch kind {
	case naming.ConstructorKind, naming.FieldKind, naming.ModuleKind:
		return false
	default:
		return true
	}
}
