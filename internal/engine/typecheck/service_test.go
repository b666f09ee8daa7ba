package typecheck

import (
	"context"
	"errors"
	"semcache/internal/core/ports"
	"semcache/internal/engine/computation"
	"semcache/internal/engine/elab"
	"semcache/internal/engine/naming"
	"semcache/internal/engine/prelude"
	"semcache/internal/engine/source"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "semcache/internal/core/errors"
)

var mainLoc = naming.ModuleLocation{Library: "app", Path: "Main"}

type fakeLibrary struct {
	name     string
	external bool
	files    []ports.File
}

func (l *fakeLibrary) Name() string           { return l.name }
func (l *fakeLibrary) Version() string        { return "0.1.0" }
func (l *fakeLibrary) IsExternal() bool       { return l.external }
func (l *fakeLibrary) Files() []ports.File    { return l.files }
func (l *fakeLibrary) Dependencies() []string { return nil }

type librarySource struct {
	external bool
	files    map[string]string
}

// fakeLibraries loads libraries from in-memory sources into the tree.
type fakeLibraries struct {
	tree *source.Tree

	mu        sync.Mutex
	sources   map[string]librarySource
	reloads   int
	refreshes int
	active    int
	overlap   bool
	fail      error
}

func newFakeLibraries(tree *source.Tree) *fakeLibraries {
	return &fakeLibraries{tree: tree, sources: make(map[string]librarySource)}
}

func (m *fakeLibraries) add(name string, external bool, files map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = librarySource{external: external, files: files}
}

func (m *fakeLibraries) load(name string) (*fakeLibrary, error) {
	m.mu.Lock()
	src, ok := m.sources[name]
	m.mu.Unlock()
	if !ok {
		return nil, domain.New(domain.CodeLibraryNotFound, "library "+name+" not found")
	}
	paths := make([]string, 0, len(src.files))
	for p := range src.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	lib := &fakeLibrary{name: name, external: src.external}
	for _, p := range paths {
		loc := naming.ModuleLocation{Library: name, Path: strings.TrimSuffix(p, ".sem")}
		f, err := m.tree.Load(name+"/"+p, loc, src.files[p])
		if err != nil {
			return nil, err
		}
		lib.files = append(lib.files, f)
	}
	return lib, nil
}

func (m *fakeLibraries) LoadLibrary(_ context.Context, name string) (ports.Library, error) {
	return m.load(name)
}

func (m *fakeLibraries) reload(ctx context.Context, rebuild ports.RebuildFunc, internalOnly bool) error {
	m.mu.Lock()
	m.reloads++
	m.active++
	if m.active > 1 {
		m.overlap = true
	}
	fail := m.fail
	var names []string
	for name, src := range m.sources {
		if !internalOnly || !src.external {
			names = append(names, name)
		}
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	time.Sleep(5 * time.Millisecond)
	if fail != nil {
		return fail
	}
	sort.Strings(names)
	var libs []ports.Library
	for _, name := range names {
		lib, err := m.load(name)
		if err != nil {
			return err
		}
		libs = append(libs, lib)
	}
	return rebuild(ctx, libs)
}

func (m *fakeLibraries) ReloadInternalLibraries(ctx context.Context, rebuild ports.RebuildFunc) error {
	return m.reload(ctx, rebuild, true)
}

func (m *fakeLibraries) Reload(ctx context.Context, rebuild ports.RebuildFunc) error {
	return m.reload(ctx, rebuild, false)
}

func (m *fakeLibraries) Refresh(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return nil
}

func (m *fakeLibraries) Libraries() []ports.Library { return nil }

func (m *fakeLibraries) stats() (reloads, refreshes int, overlap bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloads, m.refreshes, m.overlap
}

type countingListener struct{ calls atomic.Int32 }

func (l *countingListener) NotifyIfNeeded() { l.calls.Add(1) }

type harness struct {
	tree *source.Tree
	libs *fakeLibraries
	ext  *countingListener
	svc  *Service
}

func newHarness(t *testing.T, hook elab.StepHook) *harness {
	t.Helper()
	tree := source.NewTree()
	pre, err := prelude.Load(tree)
	if err != nil {
		t.Fatalf("load prelude: %v", err)
	}
	e := elab.New()
	if hook != nil {
		e = e.WithHook(hook)
	}
	h := &harness{tree: tree, libs: newFakeLibraries(tree), ext: &countingListener{}}
	h.svc, err = New(Options{}, Dependencies{
		Tree:       tree,
		Resolver:   source.NewResolver(tree, prelude.ModulePath),
		Elaborator: e,
		Prelude:    pre,
		Libraries:  h.libs,
		Notifier:   tree,
		Extensions: h.ext,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return h
}

func newInitialized(t *testing.T, hook elab.StepHook) *harness {
	t.Helper()
	h := newHarness(t, hook)
	if _, err := h.svc.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return h
}

func (h *harness) edit(t *testing.T, content string) *source.File {
	t.Helper()
	f, err := h.tree.Update("Main.sem", mainLoc, content)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	return f
}

func (h *harness) handle(t *testing.T, name string) *naming.TCReferable {
	t.Helper()
	ref, ok := h.svc.Index().Get(mainLoc, naming.ParseLongName(name))
	if !ok {
		t.Fatalf("no handle for %s", name)
	}
	return ref
}

func (h *harness) checkFile(t *testing.T, f *source.File) map[string]naming.Status {
	t.Helper()
	st, err := h.svc.TypecheckFile(context.Background(), f)
	if err != nil {
		t.Fatalf("typecheck file: %v", err)
	}
	return st
}

// elabCounter counts elaboration runs per definition name.
type elabCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *elabCounter) hook(def ports.Definition, step int) {
	if step != 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[def.LongName().String()]++
}

func (c *elabCounter) take() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.counts
	c.counts = nil
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{}, Dependencies{})
	if !domain.IsCode(err, domain.CodeValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInitialize_ExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := h.svc.Initialize(context.Background())
			if err != nil {
				t.Errorf("initialize: %v", err)
			}
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	if !h.svc.IsInitialized() || !h.svc.IsLoaded() {
		t.Fatal("service must be initialized and loaded")
	}
	nat, ok := h.svc.Index().Get(prelude.Location, naming.ParseLongName("Nat"))
	if !ok || nat.Status() != naming.NoErrors {
		t.Fatalf("prelude must be checked, got %v", nat)
	}
}

func TestInitialize_FailureCanBeRetried(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.svc.Initialize(ctx); err == nil {
		t.Fatal("expected initialize to fail with a cancelled context")
	}
	if h.svc.IsInitialized() {
		t.Fatal("failed initialize must leave the service uninitialized")
	}
	won, err := h.svc.Initialize(context.Background())
	if err != nil || !won {
		t.Fatalf("retry: won=%v err=%v", won, err)
	}
}

func TestTypecheck_RequiresInitialize(t *testing.T) {
	h := newHarness(t, nil)
	ref := h.svc.RegisterExtension(mainLoc, naming.ParseLongName("x"), naming.FunctionSignature{}, true)
	if _, err := h.svc.Typecheck(context.Background(), ref); !domain.IsCode(err, domain.CodeNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}

func TestUpdate_InvalidationClosure(t *testing.T) {
	h := newInitialized(t, nil)
	f := h.edit(t, "func a := zero\nfunc b := a\nfunc c := b\nfunc d := zero")
	for name, st := range h.checkFile(t, f) {
		if st != naming.NoErrors {
			t.Fatalf("%s: expected no errors, got %v", name, st)
		}
	}

	h.edit(t, "func a := suc zero\nfunc b := a\nfunc c := b\nfunc d := zero")
	for _, name := range []string{"a", "b", "c"} {
		if st := h.handle(t, name).Status(); st != naming.NeedsCheck {
			t.Fatalf("%s: expected needs_check after edit, got %v", name, st)
		}
	}
	if st := h.handle(t, "d").Status(); st != naming.NoErrors {
		t.Fatalf("unrelated definition must keep its result, got %v", st)
	}

	for name, st := range h.checkFile(t, f) {
		if st != naming.NoErrors {
			t.Fatalf("%s: expected no errors after recheck, got %v", name, st)
		}
	}
}

func TestUpdate_ErrorPropagatesWithoutElaboratingDependent(t *testing.T) {
	counter := &elabCounter{}
	h := newInitialized(t, counter.hook)
	f := h.edit(t, "func g := zero\nfunc f := g")
	h.checkFile(t, f)
	counter.take()

	h.edit(t, "func g := zero !error\nfunc f := g")
	st, err := h.svc.Typecheck(context.Background(), h.handle(t, "f"))
	if err != nil {
		t.Fatalf("typecheck: %v", err)
	}
	if st != naming.HasDependencyErrors {
		t.Fatalf("f: expected has_dependency_errors, got %v", st)
	}
	if st := h.handle(t, "g").Status(); st != naming.HasErrors {
		t.Fatalf("g: expected has_errors, got %v", st)
	}
	counts := counter.take()
	if counts["f"] != 0 || counts["g"] != 1 {
		t.Fatalf("expected only g to be elaborated, got %v", counts)
	}
	if n := len(h.svc.Diagnostics().ForDefinition(h.handle(t, "g").ID())); n != 1 {
		t.Fatalf("expected one diagnostic on g, got %d", n)
	}

	// Fixing g has to reach f again through the restored edge.
	h.edit(t, "func g := zero\nfunc f := g")
	if st := h.handle(t, "f").Status(); st != naming.NeedsCheck {
		t.Fatalf("f: expected needs_check after fix, got %v", st)
	}
	if st, _ := h.svc.Typecheck(context.Background(), h.handle(t, "f")); st != naming.NoErrors {
		t.Fatalf("f: expected no errors after fix, got %v", st)
	}
}

func TestTypecheck_CancelledByEdit(t *testing.T) {
	var armed atomic.Bool
	started := make(chan struct{})
	release := make(chan struct{})
	hook := func(def ports.Definition, step int) {
		if def.RefName() == "slow" && step == 0 && armed.CompareAndSwap(true, false) {
			close(started)
			<-release
		}
	}
	h := newInitialized(t, hook)
	f := h.edit(t, "func slow := zero")
	def, _ := f.Definition("slow")
	ref := h.svc.TCReferableFor(def)

	armed.Store(true)
	type result struct {
		st  naming.Status
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := h.svc.Typecheck(context.Background(), ref)
		done <- result{st, err}
	}()

	<-started
	h.edit(t, "func slow := zero !warn")
	close(release)

	res := <-done
	if !errors.Is(res.err, computation.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", res.err)
	}
	if res.st != naming.NeedsCheck || ref.Status() != naming.NeedsCheck {
		t.Fatalf("cancelled check must leave needs_check, got %v / %v", res.st, ref.Status())
	}
	if h.svc.Gate().IsSet() {
		t.Fatal("gate must be released")
	}

	st, err := h.svc.Typecheck(context.Background(), ref)
	if err != nil || st != naming.HasWarnings {
		t.Fatalf("recheck: %v %v", st, err)
	}
}

func TestUpdate_DeletedDefinitionIsDetached(t *testing.T) {
	h := newInitialized(t, nil)
	f := h.edit(t, "func g := zero\nfunc f := g")
	h.checkFile(t, f)
	fref := h.handle(t, "f")

	h.edit(t, "func g := zero")
	if _, ok := h.svc.Index().Get(mainLoc, naming.ParseLongName("f")); ok {
		t.Fatal("deleted definition must leave the index")
	}
	if _, ok := h.svc.GetPsiReferable(fref); ok {
		t.Fatal("deleted definition has no syntax")
	}
	if fref.Status() != naming.NotNeeded {
		t.Fatalf("detached handle: expected not_needed, got %v", fref.Status())
	}
}

func TestUpdate_RenamedDefinitionIsDetached(t *testing.T) {
	h := newInitialized(t, nil)
	f := h.edit(t, "func g := zero\nfunc f := g")
	h.checkFile(t, f)
	gref := h.handle(t, "g")

	h.edit(t, "func h := zero\nfunc f := g")
	if _, ok := h.svc.Index().Get(mainLoc, naming.ParseLongName("g")); ok {
		t.Fatal("renamed definition must leave the index under its old name")
	}
	if gref.Status() != naming.NotNeeded {
		t.Fatalf("old handle: expected not_needed, got %v", gref.Status())
	}
	if st := h.handle(t, "f").Status(); st != naming.NeedsCheck {
		t.Fatalf("dependent of renamed definition: expected needs_check, got %v", st)
	}
}

func TestUpdate_AddedDefinitionRechecksUnresolved(t *testing.T) {
	h := newInitialized(t, nil)
	f := h.edit(t, "func f := later")
	if st := h.checkFile(t, f)["f"]; st != naming.HasErrors {
		t.Fatalf("expected unresolved reference error, got %v", st)
	}
	if n := len(h.svc.Diagnostics().ForFile("Main.sem")); n != 1 {
		t.Fatalf("expected one site diagnostic, got %d", n)
	}

	h.edit(t, "func f := later\nfunc later := zero")
	if st := h.handle(t, "f").Status(); st != naming.NeedsCheck {
		t.Fatalf("expected f to be invalidated, got %v", st)
	}
	if st, _ := h.svc.Typecheck(context.Background(), h.handle(t, "f")); st != naming.NoErrors {
		t.Fatalf("expected f to resolve now, got %v", st)
	}
}

func TestUpdate_UsePropagatesToParent(t *testing.T) {
	h := newInitialized(t, nil)
	f := h.edit(t, "func length xs := zero\n  use func coerce := Nat")
	h.checkFile(t, f)

	h.edit(t, "func length xs := zero\n  use func coerce := Int")
	if st := h.handle(t, "length").Status(); st != naming.NeedsCheck {
		t.Fatalf("parent of use definition: expected needs_check, got %v", st)
	}
	last, ok := f.LastModifiedDefinition()
	if !ok || last.RefName() != "coerce" {
		t.Fatalf("expected coerce as last modified definition, got %v", last)
	}
}

func TestUpdate_ReplIgnored(t *testing.T) {
	h := newInitialized(t, nil)
	before := h.svc.ModificationCount()
	if _, err := h.tree.UpdateRepl("repl-1", "func r := zero"); err != nil {
		t.Fatalf("repl: %v", err)
	}
	if h.svc.ModificationCount() != before {
		t.Fatal("repl edits must be ignored")
	}
}

func TestUpdate_TakeUpdatedModules(t *testing.T) {
	h := newInitialized(t, nil)
	h.svc.TakeUpdatedModules()
	f := h.edit(t, "func g := zero")
	h.checkFile(t, f)
	h.edit(t, "func g := suc zero")

	mods := h.svc.TakeUpdatedModules()
	if len(mods) != 1 || mods[0] != mainLoc {
		t.Fatalf("expected %v, got %v", mainLoc, mods)
	}
	if len(h.svc.TakeUpdatedModules()) != 0 {
		t.Fatal("updated modules must be cleared after take")
	}
}

func TestExtensions(t *testing.T) {
	h := newInitialized(t, nil)
	extLoc := naming.ModuleLocation{Library: "ext", Path: "Ext"}
	magic := h.svc.RegisterExtension(extLoc, naming.ParseLongName("magic"), naming.FunctionSignature{}, true)

	f := h.edit(t, "func m := magic\nfunc g := zero")
	st := h.checkFile(t, f)
	if st["m"] != naming.NoErrors {
		t.Fatalf("extension reference must resolve, got %v", st["m"])
	}
	if deps := h.svc.Dependents(magic); len(deps) != 1 || deps[0].RefName() != "m" {
		t.Fatalf("expected m to depend on magic, got %v", deps)
	}

	h.svc.Request(h.handle(t, "g"), false)
	h.edit(t, "func m := magic\nfunc g := suc zero")
	if h.ext.calls.Load() != 1 {
		t.Fatalf("expected one extension notification, got %d", h.ext.calls.Load())
	}
}

func TestAdditionalNames(t *testing.T) {
	h := newInitialized(t, nil)
	h.libs.add("base", false, map[string]string{
		"Data.List.sem": "data List a := nil | cons a\nclass Monoid m := empty m",
	})
	if _, err := h.svc.LoadLibrary(context.Background(), "base"); err != nil {
		t.Fatalf("load library: %v", err)
	}

	if refs := h.svc.GetAdditionalReferables("cons"); len(refs) != 1 {
		t.Fatalf("expected one cons, got %d", len(refs))
	}
	names := h.svc.GetAdditionalNames()
	for _, want := range []string{"List", "Monoid", "Nat", "cons", "empty", "zero"} {
		i := sort.SearchStrings(names, want)
		if i == len(names) || names[i] != want {
			t.Fatalf("missing additional name %q in %v", want, names)
		}
	}

	if _, err := h.svc.LoadLibrary(context.Background(), "missing"); !domain.IsCode(err, domain.CodeLibraryNotFound) {
		t.Fatalf("expected library not found, got %v", err)
	}
}

func TestReload_SerializedAndNotDropped(t *testing.T) {
	h := newInitialized(t, nil)
	h.libs.add("base", false, map[string]string{"Data.Nat2.sem": "func two := suc zero"})
	h.libs.add("ext", true, map[string]string{"Ext.sem": "func e := zero"})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(internal bool) {
			defer wg.Done()
			if err := h.svc.Reload(context.Background(), internal, false); err != nil {
				t.Errorf("reload: %v", err)
			}
		}(i == 0)
	}
	wg.Wait()

	reloads, _, overlap := h.libs.stats()
	if reloads != 2 {
		t.Fatalf("expected both reloads to run, got %d", reloads)
	}
	if overlap {
		t.Fatal("reloads must not interleave")
	}
	if !h.svc.IsLoaded() {
		t.Fatal("service must be loaded after reload")
	}
	if _, ok := h.svc.Index().Get(naming.ModuleLocation{Library: "base", Path: "Data.Nat2"}, naming.ParseLongName("two")); !ok {
		t.Fatal("reloaded library must be indexed")
	}
}

func TestReload_InternalDropsInternalExtensions(t *testing.T) {
	h := newInitialized(t, nil)
	h.libs.add("base", false, map[string]string{"Base.sem": "func b := zero"})
	loc := naming.ModuleLocation{Library: "x", Path: "X"}
	internal := h.svc.RegisterExtension(loc, naming.ParseLongName("i"), nil, false)
	external := h.svc.RegisterExtension(loc, naming.ParseLongName("e"), nil, true)

	if err := h.svc.Reload(context.Background(), true, true); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if h.svc.isExtension(internal.ID()) {
		t.Fatal("internal extension must be dropped")
	}
	if !h.svc.isExtension(external.ID()) {
		t.Fatal("external extension must survive an internal reload")
	}
	if _, refreshes, _ := h.libs.stats(); refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", refreshes)
	}
}

func TestReload_DroppedExtensionInvalidatesDependents(t *testing.T) {
	h := newInitialized(t, nil)
	h.libs.add("base", false, map[string]string{"Base.sem": "func b := zero"})
	if _, err := h.svc.LoadLibrary(context.Background(), "base"); err != nil {
		t.Fatalf("load: %v", err)
	}
	magic := h.svc.RegisterExtension(naming.ModuleLocation{Library: "base", Path: "Ext"}, naming.ParseLongName("magic"), naming.FunctionSignature{}, false)

	f := h.edit(t, "func m := magic")
	if st := h.checkFile(t, f); st["m"] != naming.NoErrors {
		t.Fatalf("expected m to check against the extension, got %v", st["m"])
	}
	def, ok := f.Definition("m")
	if !ok {
		t.Fatal("no definition m")
	}
	site := def.References()[0]
	if got := h.svc.Resolve(site); got != naming.Referable(magic) {
		t.Fatalf("expected the extension handle, got %v", got)
	}

	if err := h.svc.Reload(context.Background(), true, false); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if h.svc.IsLive(magic) {
		t.Fatal("internal extension must leave the index on an internal reload")
	}
	if st := h.handle(t, "m").Status(); st != naming.NeedsCheck {
		t.Fatalf("dependent of a dropped handle must need a check, got %v", st)
	}
	if got := h.svc.Resolve(site); got != nil {
		t.Fatalf("dropped extension must not resolve, got %v", got)
	}

	f = h.edit(t, "func m := magic !warn")
	if st := h.checkFile(t, f); st["m"] != naming.HasErrors {
		t.Fatalf("reference to a dropped definition must be an error, got %v", st["m"])
	}
}

func TestScheduleReload_AfterCloseIsIgnored(t *testing.T) {
	h := newInitialized(t, nil)
	if err := h.svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if id := h.svc.ScheduleReload(true, false); id != "" {
		t.Fatalf("expected no task after close, got %q", id)
	}
	if reloads, _, _ := h.libs.stats(); reloads != 0 {
		t.Fatalf("expected no reload after close, got %d", reloads)
	}
}

func TestReload_FailureKeepsState(t *testing.T) {
	h := newInitialized(t, nil)
	h.libs.add("base", false, map[string]string{"Base.sem": "func b := zero"})
	if _, err := h.svc.LoadLibrary(context.Background(), "base"); err != nil {
		t.Fatalf("load: %v", err)
	}
	h.libs.mu.Lock()
	h.libs.fail = errors.New("disk unavailable")
	h.libs.mu.Unlock()

	if err := h.svc.Reload(context.Background(), false, false); err == nil {
		t.Fatal("expected reload to fail")
	}
	if !h.svc.IsLoaded() {
		t.Fatal("failed reload must restore the loaded flag")
	}
	if _, ok := h.svc.Index().Get(naming.ModuleLocation{Library: "base", Path: "Base"}, naming.ParseLongName("b")); !ok {
		t.Fatal("failed reload must keep the previous index")
	}
}

func TestScheduleReload_CloseWaits(t *testing.T) {
	h := newInitialized(t, nil)
	if id := h.svc.ScheduleReload(false, false); id == "" {
		t.Fatal("expected a task id")
	}
	if err := h.svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if reloads, _, _ := h.libs.stats(); reloads != 1 {
		t.Fatalf("expected the scheduled reload to finish, got %d", reloads)
	}
}

func TestGetPsiReferable(t *testing.T) {
	h := newInitialized(t, nil)
	f := h.edit(t, "func g := zero")
	h.checkFile(t, f)

	def, ok := h.svc.GetPsiReferable(h.handle(t, "g"))
	if !ok || def.RefName() != "g" {
		t.Fatalf("expected g, got %v", def)
	}
	core := h.handle(t, "g").Core()
	if def, ok := h.svc.GetDefinitionPsiReferable(core); !ok || def.RefName() != "g" {
		t.Fatalf("core lookup: expected g, got %v", def)
	}

	// A handle without syntax falls back to the prelude definition of its name.
	ext := h.svc.RegisterExtension(naming.ModuleLocation{Library: "ext", Path: "Ext"}, naming.ParseLongName("Nat"), nil, true)
	if def, ok := h.svc.GetPsiReferable(ext); !ok || def.Location() != prelude.Location {
		t.Fatalf("expected prelude Nat, got %v", def)
	}
}
