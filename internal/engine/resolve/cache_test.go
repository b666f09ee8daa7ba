package resolve

import (
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeNode struct {
	mu     sync.Mutex
	anchor naming.AnchorID
	text   string
	offset int
	valid  bool
}

func (n *fakeNode) Anchor() naming.AnchorID { return n.anchor }
func (n *fakeNode) Offset() int             { return n.offset }
func (n *fakeNode) FilePath() string        { return "X.sem" }
func (n *fakeNode) RefName() string         { return n.Text() }

func (n *fakeNode) Text() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text
}

func (n *fakeNode) IsValid() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.valid
}

func (n *fakeNode) setText(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.text = text
}

func (n *fakeNode) invalidate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.valid = false
}

type fakeTree struct {
	mu    sync.Mutex
	next  naming.AnchorID
	nodes map[naming.AnchorID]*fakeNode
}

func newFakeTree() *fakeTree {
	return &fakeTree{nodes: make(map[naming.AnchorID]*fakeNode)}
}

func (t *fakeTree) add(text string, offset int) *fakeNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	n := &fakeNode{anchor: t.next, text: text, offset: offset, valid: true}
	t.nodes[n.anchor] = n
	return n
}

func (t *fakeTree) remove(n *fakeNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, n.anchor)
	n.invalidate()
}

func (t *fakeTree) Node(anchor naming.AnchorID) (ports.SyntaxNode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[anchor]
	return n, ok
}

type loadFlag struct {
	loaded atomic.Bool
	dead   sync.Map
}

func (f *loadFlag) IsLoaded() bool { return f.loaded.Load() }

func (f *loadFlag) IsLive(target naming.Referable) bool {
	_, dead := f.dead.Load(target)
	return !dead
}

func (f *loadFlag) kill(target naming.Referable) { f.dead.Store(target, true) }

func loadedState() *loadFlag {
	f := &loadFlag{}
	f.loaded.Store(true)
	return f
}

func TestCache_StoreAndLookup(t *testing.T) {
	tree := newFakeTree()
	c := NewCache(tree, loadedState(), 16)
	site := tree.add("map", 10)
	target := tree.add("map xs f := xs", 0)

	c.Store(site, target)
	c.Store(site, target)

	got, ok := c.Lookup(site)
	if !ok || got != naming.Referable(target) {
		t.Fatalf("expected cached target, got %v (ok=%v)", got, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("expected one entry after repeated store, got %d", c.Len())
	}
}

func TestCache_SiteTextChangeIsStale(t *testing.T) {
	tree := newFakeTree()
	c := NewCache(tree, loadedState(), 16)
	site := tree.add("map", 10)
	target := tree.add("map xs f := xs", 0)
	c.Store(site, target)

	site.setText("mapp")
	if got, ok := c.Lookup(site); ok {
		t.Fatalf("expected absent after site edit, got %v", got)
	}
	if c.Len() != 0 {
		t.Fatalf("stale entry must be dropped, len=%d", c.Len())
	}
	if st := c.Stats(); st.Stale != 1 {
		t.Fatalf("expected one stale drop, got %+v", st)
	}
}

func TestCache_NonSyntaxTargetIsHashChecked(t *testing.T) {
	tree := newFakeTree()
	c := NewCache(tree, loadedState(), 16)
	site := tree.add("ext", 4)

	idx := naming.NewIndex()
	ref, _ := idx.GetOrCreate(naming.ModuleLocation{Library: "ext", Path: "Ext"}, naming.LongName{"ext"}, naming.FunctionKind, nil, 0)
	c.Store(site, ref)

	if got, ok := c.Lookup(site); !ok || got != naming.Referable(ref) {
		t.Fatalf("expected handle from the bounded store, got %v", got)
	}
	site.setText("ext2")
	if _, ok := c.Lookup(site); ok {
		t.Fatal("expected absent after site edit")
	}
}

func TestCache_DeadValueTargetIsStale(t *testing.T) {
	tree := newFakeTree()
	state := loadedState()
	c := NewCache(tree, state, 16)
	site := tree.add("magic", 4)

	idx := naming.NewIndex()
	ref, _ := idx.GetOrCreate(naming.ModuleLocation{Library: "base", Path: "Ext"}, naming.LongName{"magic"}, naming.FunctionKind, nil, 0)
	c.Store(site, ref)
	if _, ok := c.Lookup(site); !ok {
		t.Fatal("expected a hit while the handle is live")
	}

	state.kill(ref)
	if got, ok := c.Lookup(site); ok {
		t.Fatalf("expected absent once the target is gone, got %v", got)
	}
	if c.Len() != 0 {
		t.Fatalf("dead entry must be dropped, %d entries left", c.Len())
	}
	if c.Stats().Stale != 1 {
		t.Fatalf("expected one stale drop, got %d", c.Stats().Stale)
	}

	calls := 0
	got := c.ResolveWithCache(site, func() naming.Referable {
		calls++
		return nil
	})
	if got != nil || calls != 1 {
		t.Fatalf("expected a fresh resolution after the drop, got %v after %d calls", got, calls)
	}
}

func TestCache_RenamedTargetStillResolves(t *testing.T) {
	tree := newFakeTree()
	c := NewCache(tree, loadedState(), 16)
	site := tree.add("D", 10)
	def := tree.add("func D := zero", 0)
	c.Store(site, def)

	def.setText("func E := zero")
	got, ok := c.Lookup(site)
	if !ok || got != naming.Referable(def) {
		t.Fatalf("site text did not change, expected the same target, got %v (ok=%v)", got, ok)
	}

	tree.remove(def)
	if got, ok := c.Lookup(site); ok {
		t.Fatalf("expected absent once the target is invalid, got %v", got)
	}
}

func TestCache_NoFalseNegativeBeforeLoad(t *testing.T) {
	tree := newFakeTree()
	state := &loadFlag{}
	c := NewCache(tree, state, 16)
	site := tree.add("later", 3)

	calls := 0
	var answer naming.Referable
	resolver := func() naming.Referable {
		calls++
		return answer
	}

	if got := c.ResolveWithCache(site, resolver); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if c.Len() != 0 {
		t.Fatal("a miss before load must not be stored")
	}

	target := tree.add("func later := zero", 0)
	answer = target
	if got := c.ResolveWithCache(site, resolver); got != naming.Referable(target) {
		t.Fatalf("expected the fresh answer, got %v", got)
	}
	if calls != 2 {
		t.Fatalf("expected resolver to run twice, ran %d", calls)
	}

	state.loaded.Store(true)
	for i := 0; i < 3; i++ {
		if got := c.ResolveWithCache(site, resolver); got != naming.Referable(target) {
			t.Fatalf("call %d: unstable answer %v", i, got)
		}
	}
	if calls != 2 {
		t.Fatalf("cached answer must be reused, resolver ran %d times", calls)
	}
}

func TestCache_NullMarkerIsReportedAbsent(t *testing.T) {
	tree := newFakeTree()
	c := NewCache(tree, loadedState(), 16)
	site := tree.add("missing", 0)

	calls := 0
	for i := 0; i < 2; i++ {
		got := c.ResolveWithCache(site, func() naming.Referable {
			calls++
			return nil
		})
		if got != nil {
			t.Fatalf("expected nil, got %v", got)
		}
	}
	if calls != 2 {
		t.Fatalf("negative answers are re-resolved, expected 2 calls, got %d", calls)
	}
	if c.Len() != 1 {
		t.Fatalf("expected the null marker to be stored, len=%d", c.Len())
	}
}

func TestCache_ReplaceReturnsOld(t *testing.T) {
	tree := newFakeTree()
	c := NewCache(tree, loadedState(), 16)
	site := tree.add("x", 0)
	first := tree.add("func x := zero", 0)
	second := tree.add("func x := one", 0)

	if old := c.Replace(site, first); old != nil {
		t.Fatalf("expected no previous value, got %v", old)
	}
	if old := c.Replace(site, second); old != naming.Referable(first) {
		t.Fatalf("expected first target back, got %v", old)
	}
	if got, _ := c.Lookup(site); got != naming.Referable(second) {
		t.Fatalf("expected second target, got %v", got)
	}
}

func TestCache_SweepAndInvalidate(t *testing.T) {
	tree := newFakeTree()
	c := NewCache(tree, loadedState(), 16)
	keep := tree.add("a", 0)
	gone := tree.add("b", 2)
	target := tree.add("func a := b", 0)
	c.Store(keep, target)
	c.Store(gone, target)
	c.Store(tree.add("c", 4), nil)

	tree.remove(gone)
	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected one swept entry, got %d", removed)
	}
	c.Invalidate(keep)
	if _, ok := c.Lookup(keep); ok {
		t.Fatal("expected invalidated entry to be absent")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}

func TestCache_ConcurrentResolve(t *testing.T) {
	tree := newFakeTree()
	c := NewCache(tree, loadedState(), 8)
	target := tree.add("func t := zero", 0)
	sites := make([]*fakeNode, 32)
	for i := range sites {
		sites[i] = tree.add("t", i)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				site := sites[i%len(sites)]
				if got := c.ResolveWithCache(site, func() naming.Referable { return target }); got != naming.Referable(target) {
					t.Errorf("unexpected answer %v", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}
