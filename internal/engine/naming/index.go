package naming

import (
	"sort"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Index maps (module, long name) to the canonical handle of a definition and
// keeps an arena of all live handles by id.
type Index struct {
	nextID  atomic.Uint64
	modules cmap.ConcurrentMap[ModuleLocation, *moduleTable]
	arena   cmap.ConcurrentMap[RefID, *TCReferable]
}

type moduleTable struct {
	mu      sync.RWMutex
	removed bool
	byName  map[string]*TCReferable
}

func NewIndex() *Index {
	return &Index{
		modules: cmap.NewStringer[ModuleLocation, *moduleTable](),
		arena:   cmap.NewStringer[RefID, *TCReferable](),
	}
}

func (idx *Index) table(loc ModuleLocation) *moduleTable {
	return idx.modules.Upsert(loc, nil, func(exist bool, old, _ *moduleTable) *moduleTable {
		if exist && old != nil {
			return old
		}
		return &moduleTable{byName: make(map[string]*TCReferable)}
	})
}

// GetOrCreate returns the live handle for (loc, name), creating it when absent.
// The second result reports whether a new handle was created.
func (idx *Index) GetOrCreate(loc ModuleLocation, name LongName, kind Kind, sig Signature, anchor AnchorID) (*TCReferable, bool) {
	key := name.String()
	for {
		tbl := idx.table(loc)
		tbl.mu.Lock()
		if tbl.removed {
			// Lost a race with RemoveModule; retry on the fresh table.
			tbl.mu.Unlock()
			continue
		}
		if ref, ok := tbl.byName[key]; ok {
			tbl.mu.Unlock()
			return ref, false
		}
		ref := &TCReferable{
			id:        RefID(idx.nextID.Add(1)),
			location:  loc,
			name:      append(LongName(nil), name...),
			kind:      kind,
			signature: sig,
			anchor:    anchor,
			status:    NeedsCheck,
		}
		tbl.byName[key] = ref
		idx.arena.Set(ref.id, ref)
		tbl.mu.Unlock()
		return ref, true
	}
}

// SetTypecheckable records that child is checked together with parent.
func (idx *Index) SetTypecheckable(child, parent *TCReferable) {
	if child == nil {
		return
	}
	child.setTypecheckable(parent)
}

func (idx *Index) Get(loc ModuleLocation, name LongName) (*TCReferable, bool) {
	tbl, ok := idx.modules.Get(loc)
	if !ok {
		return nil, false
	}
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	ref, ok := tbl.byName[name.String()]
	return ref, ok
}

// Lookup returns the live handle with the given id.
func (idx *Index) Lookup(id RefID) (*TCReferable, bool) {
	return idx.arena.Get(id)
}

// IsLive reports whether ref is still the canonical handle for its name.
func (idx *Index) IsLive(ref *TCReferable) bool {
	if ref == nil {
		return false
	}
	cur, ok := idx.arena.Get(ref.id)
	return ok && cur == ref
}

// Remove detaches the handle for (loc, name) from the index.
func (idx *Index) Remove(loc ModuleLocation, name LongName) (*TCReferable, bool) {
	tbl, ok := idx.modules.Get(loc)
	if !ok {
		return nil, false
	}
	key := name.String()
	tbl.mu.Lock()
	ref, ok := tbl.byName[key]
	if ok {
		delete(tbl.byName, key)
	}
	tbl.mu.Unlock()
	if ok {
		idx.arena.Remove(ref.id)
	}
	return ref, ok
}

// Detach removes ref from the index if it is still the handle registered
// under its name.
func (idx *Index) Detach(ref *TCReferable) bool {
	if ref == nil {
		return false
	}
	tbl, ok := idx.modules.Get(ref.location)
	if !ok {
		return false
	}
	key := ref.name.String()
	tbl.mu.Lock()
	cur, ok := tbl.byName[key]
	if ok && cur == ref {
		delete(tbl.byName, key)
	}
	tbl.mu.Unlock()
	if !ok || cur != ref {
		return false
	}
	idx.arena.Remove(ref.id)
	return true
}

// RemoveModule detaches every handle of a module.
func (idx *Index) RemoveModule(loc ModuleLocation) []*TCReferable {
	tbl, ok := idx.modules.Pop(loc)
	if !ok {
		return nil
	}
	tbl.mu.Lock()
	tbl.removed = true
	removed := make([]*TCReferable, 0, len(tbl.byName))
	for _, ref := range tbl.byName {
		removed = append(removed, ref)
	}
	tbl.byName = nil
	tbl.mu.Unlock()

	for _, ref := range removed {
		idx.arena.Remove(ref.id)
	}
	return removed
}

// RemoveLibrary detaches every module belonging to lib.
func (idx *Index) RemoveLibrary(lib string) []*TCReferable {
	return idx.RemoveModules(func(loc ModuleLocation) bool { return loc.Library == lib })
}

// RemoveModules detaches every module for which match returns true.
func (idx *Index) RemoveModules(match func(ModuleLocation) bool) []*TCReferable {
	var removed []*TCReferable
	for _, loc := range idx.modules.Keys() {
		if match(loc) {
			removed = append(removed, idx.RemoveModule(loc)...)
		}
	}
	return removed
}

// Modules lists indexed modules in a stable order.
func (idx *Index) Modules() []ModuleLocation {
	locs := idx.modules.Keys()
	sort.Slice(locs, func(i, j int) bool { return locs[i].String() < locs[j].String() })
	return locs
}

// Definitions lists the handles of one module ordered by name.
func (idx *Index) Definitions(loc ModuleLocation) []*TCReferable {
	tbl, ok := idx.modules.Get(loc)
	if !ok {
		return nil
	}
	tbl.mu.RLock()
	out := make([]*TCReferable, 0, len(tbl.byName))
	for _, ref := range tbl.byName {
		out = append(out, ref)
	}
	tbl.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name.String() < out[j].name.String() })
	return out
}

// FindByName returns every live handle whose last name segment is name.
func (idx *Index) FindByName(name string) []*TCReferable {
	var out []*TCReferable
	for item := range idx.arena.IterBuffered() {
		if item.Val.RefName() == name {
			out = append(out, item.Val)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of live handles.
func (idx *Index) Len() int {
	return idx.arena.Count()
}

func (idx *Index) Clear() {
	for _, loc := range idx.modules.Keys() {
		idx.RemoveModule(loc)
	}
}
