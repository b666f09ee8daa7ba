package typecheck

import (
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"sort"
	"sync"
)

// additionalNames indexes definitions by their own name for lookups that do
// not go through lexical scope. Internal and external libraries are kept
// apart so an internal reload can drop only its half.
type additionalNames struct {
	mu       sync.RWMutex
	internal map[string][]ports.Definition
	external map[string][]ports.Definition
}

func newAdditionalNames() *additionalNames {
	return &additionalNames{
		internal: make(map[string][]ports.Definition),
		external: make(map[string][]ports.Definition),
	}
}

func (n *additionalNames) add(def ports.Definition, external bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m := n.internal
	if external {
		m = n.external
	}
	name := def.RefName()
	for _, cur := range m[name] {
		if cur == def {
			return
		}
	}
	m[name] = append(m[name], def)
}

func (n *additionalNames) lookup(name string) []ports.Definition {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []ports.Definition
	for _, m := range []map[string][]ports.Definition{n.internal, n.external} {
		for _, def := range m[name] {
			if def.IsValid() {
				out = append(out, def)
			}
		}
	}
	return out
}

func (n *additionalNames) names() []string {
	n.mu.RLock()
	seen := make(map[string]struct{}, len(n.internal)+len(n.external))
	for name := range n.internal {
		seen[name] = struct{}{}
	}
	for name := range n.external {
		seen[name] = struct{}{}
	}
	n.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (n *additionalNames) clearInternal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.internal = make(map[string][]ports.Definition)
}

func (n *additionalNames) clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.internal = make(map[string][]ports.Definition)
	n.external = make(map[string][]ports.Definition)
}

// removeLibrary drops the entries of every module of lib.
func (n *additionalNames) removeLibrary(lib string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range []map[string][]ports.Definition{n.internal, n.external} {
		for name, defs := range m {
			kept := defs[:0]
			for _, def := range defs {
				if def.Location().Library != lib {
					kept = append(kept, def)
				}
			}
			if len(kept) == 0 {
				delete(m, name)
			} else {
				m[name] = kept
			}
		}
	}
}

// FillAdditionalNames adds the nested groups and the constructors and fields
// of group, recursively.
func (s *Service) FillAdditionalNames(group ports.Group, isExternal bool) {
	for _, sub := range group.Subgroups() {
		s.names.add(sub, isExternal)
		s.FillAdditionalNames(sub, isExternal)
	}
	for _, def := range group.InternalReferables() {
		s.names.add(def, isExternal)
	}
}

func (s *Service) fillFile(file ports.File, isExternal bool) {
	for _, g := range file.Groups() {
		s.names.add(g, isExternal)
		s.FillAdditionalNames(g, isExternal)
	}
}

// GetAdditionalReferables returns the live definitions named name, internal
// libraries first.
func (s *Service) GetAdditionalReferables(name string) []ports.Definition {
	return s.names.lookup(name)
}

// GetAdditionalNames returns the sorted union of internal and external names.
func (s *Service) GetAdditionalNames() []string {
	return s.names.names()
}

// Request registers ref as a definition provided by an extension of a
// library. Extension definitions have no syntax; they are checked as
// NoErrors and resolve by name when lexical scope fails. Those of internal
// libraries are dropped by an internal reload.
func (s *Service) Request(ref *naming.TCReferable, libraryIsExternal bool) {
	if ref == nil {
		return
	}
	s.mu.Lock()
	s.extensions[ref.ID()] = !libraryIsExternal
	s.mu.Unlock()
}

// RegisterExtension creates the handle of an extension definition and
// requests it.
func (s *Service) RegisterExtension(loc naming.ModuleLocation, name naming.LongName, sig naming.Signature, libraryIsExternal bool) *naming.TCReferable {
	kind := naming.FunctionKind
	if sig != nil {
		kind = sig.Kind()
	}
	ref, _ := s.index.GetOrCreate(loc, name, kind, sig, 0)
	s.Request(ref, libraryIsExternal)
	return ref
}

func (s *Service) isExtension(id naming.RefID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.extensions[id]
	return ok
}

// extensionByName returns the oldest live extension called name, or nil.
func (s *Service) extensionByName(name string) *naming.TCReferable {
	if name == "" {
		return nil
	}
	s.mu.Lock()
	ids := make([]naming.RefID, 0, len(s.extensions))
	for id := range s.extensions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		ref, ok := s.index.Lookup(id)
		if !ok {
			continue
		}
		if ref.RefName() == name || ref.LongName().String() == name {
			return ref
		}
	}
	return nil
}

// recordUnresolved remembers that ref failed to resolve name, so a definition
// added later under that name re-checks it.
func (s *Service) recordUnresolved(ref naming.RefID, name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unresolved[name] == nil {
		s.unresolved[name] = make(map[naming.RefID]struct{})
	}
	s.unresolved[name][ref] = struct{}{}
	s.unresolvedBy[ref] = append(s.unresolvedBy[ref], name)
}

func (s *Service) clearUnresolved(ref naming.RefID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.unresolvedBy[ref] {
		if set := s.unresolved[name]; set != nil {
			delete(set, ref)
			if len(set) == 0 {
				delete(s.unresolved, name)
			}
		}
	}
	delete(s.unresolvedBy, ref)
}

// takeUnresolved returns the live handles that failed to resolve any of names
// and forgets them.
func (s *Service) takeUnresolved(names ...string) []*naming.TCReferable {
	s.mu.Lock()
	var ids []naming.RefID
	seen := make(map[naming.RefID]bool)
	for _, name := range names {
		for id := range s.unresolved[name] {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []*naming.TCReferable
	for _, id := range ids {
		s.clearUnresolved(id)
		if ref, ok := s.index.Lookup(id); ok {
			out = append(out, ref)
		}
	}
	return out
}
