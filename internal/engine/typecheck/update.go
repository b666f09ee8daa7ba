package typecheck

import (
	"log/slog"
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"semcache/internal/shared/observability"
)

type lastModifiedMode int

const (
	setLastModified lastModifiedMode = iota
	nullLastModified
	keepLastModified
)

// removal is one handle affected by an edit. seed is the unit to invalidate;
// detach is set when the handle lost its syntax and has to leave the index.
type removal struct {
	seed   *naming.TCReferable
	detach *naming.TCReferable
}

// UpdateDefinition is called by the syntax layer whenever def was added,
// changed or removed. External updates come from library reloads: they keep
// the handle in the index and clear the file's last modified definition.
func (s *Service) UpdateDefinition(def ports.Definition, file ports.File, isExternalUpdate bool) {
	if def == nil || (file != nil && file.IsRepl()) {
		return
	}
	mode := setLastModified
	if isExternalUpdate {
		mode = nullLastModified
	}
	s.updateDefinition(def, file, mode, !isExternalUpdate)
}

func (s *Service) updateDefinition(def ports.Definition, file ports.File, mode lastModifiedMode, removeTCRef bool) {
	if file != nil && mode != keepLastModified && isTypecheckable(def.Kind()) {
		switch mode {
		case setLastModified:
			if def.IsValid() {
				file.SetLastModifiedDefinition(def)
			} else {
				file.SetLastModifiedDefinition(nil)
			}
		case nullLastModified:
			if cur, ok := file.LastModifiedDefinition(); ok && cur != def {
				file.SetLastModifiedDefinition(nil)
			}
		}
	}

	for _, r := range s.removeDefinition(def, removeTCRef) {
		s.invalidateSeed(r.seed, true)
		if r.detach != nil {
			s.detach(r.detach)
		}
	}
	if def.IsValid() {
		for _, ref := range s.takeUnresolved(def.RefName(), def.LongName().String()) {
			s.invalidateSeed(ref, false)
		}
	}
	s.modCount.Add(1)

	if def.IsUse() {
		if parent, ok := def.ParentGroup(); ok {
			s.updateDefinition(parent, file, keepLastModified, removeTCRef)
		}
	}
}

// removeDefinition finds the handles def stands for: the one registered under
// its name and any still anchored at it under an old name.
func (s *Service) removeDefinition(def ports.Definition, removeTCRef bool) []removal {
	loc := def.Location()
	var out []removal

	if ref, ok := s.index.Get(loc, def.LongName()); ok {
		if r, ok := s.removeHandle(ref, def, removeTCRef); ok {
			out = append(out, r)
		}
	}

	anchor := def.Anchor()
	for _, ref := range s.index.Definitions(loc) {
		if anchor == 0 || ref.Anchor() != anchor || ref.LongName().Equal(def.LongName()) {
			continue
		}
		if _, linked := s.definitionOf(ref); linked {
			continue
		}
		r := removal{seed: ref.Typecheckable()}
		if removeTCRef {
			r.detach = ref
		}
		s.touch(ref, r.seed)
		out = append(out, r)
	}
	return out
}

func (s *Service) removeHandle(ref *naming.TCReferable, def ports.Definition, removeTCRef bool) (removal, bool) {
	if cur := ref.Anchor(); cur != def.Anchor() && s.anchorValid(cur) {
		if _, linked := s.definitionOf(ref); linked {
			// The name belongs to another live definition.
			return removal{}, false
		}
	}

	r := removal{seed: ref.Typecheckable()}
	if def.IsValid() {
		ref.Relink(def.Anchor(), def.Signature())
	} else if removeTCRef {
		r.detach = ref
	}
	s.touch(ref, r.seed)
	return r, true
}

// touch resets the diagnostics of an edited handle and records its module.
func (s *Service) touch(ref, seed *naming.TCReferable) {
	if s.deps.Extensions != nil && (s.isExtension(ref.ID()) || s.isExtension(seed.ID())) {
		s.deps.Extensions.NotifyIfNeeded()
	}
	s.errors.ClearDefinition(ref.ID())
	s.errors.ClearDefinition(seed.ID())
	s.markUpdated(seed.Location())
}

// invalidateSeed moves seed and its dependent closure to NeedsCheck, cancels
// a running check of any of them and records the frontier of seed.
func (s *Service) invalidateSeed(seed *naming.TCReferable, ownChange bool) {
	seed.Invalidate(ownChange)
	s.errors.ClearDefinition(seed.ID())
	inv := s.graph.Update(seed.ID())

	s.mu.Lock()
	pending := s.frontierMembersLocked()
	s.mu.Unlock()

	fr := newFrontier()
	affected := map[naming.RefID]bool{seed.ID(): true}
	for _, id := range inv.Dependents {
		ref, ok := s.index.Lookup(id)
		if !ok {
			continue
		}
		prior := ref.Status()
		ref.Invalidate(false)
		s.errors.ClearDefinition(id)
		s.markUpdated(ref.Location())
		affected[id] = true
		if prior.Successful() || pending[id] {
			fr.members[id] = struct{}{}
		}
	}
	for _, id := range inv.Direct {
		fr.direct[id] = struct{}{}
	}

	s.gate.CancelIf(func(target naming.RefID) bool { return affected[target] }, "invalidated by "+seed.String())

	s.mu.Lock()
	if cur, ok := s.frontiers[seed.ID()]; ok {
		cur.merge(fr)
	} else if len(fr.members) > 0 {
		s.frontiers[seed.ID()] = fr
	}
	s.mu.Unlock()
	s.markUpdated(seed.Location())

	observability.InvalidationsTotal.WithLabelValues("seed").Inc()
	observability.InvalidationsTotal.WithLabelValues("dependent").Add(float64(len(inv.Dependents)))
	observability.InvalidationClosureSize.Observe(float64(len(inv.Dependents)))
	slog.Debug("definition invalidated",
		"definition", seed.String(),
		"own_change", ownChange,
		"dependents", len(inv.Dependents))
}

// detach drops a handle whose syntax is gone. The next resolution of its name
// creates a fresh handle.
func (s *Service) detach(ref *naming.TCReferable) {
	if s.index.Detach(ref) {
		observability.IndexHandles.Set(float64(s.index.Len()))
	}
	s.graph.Forget(ref.ID())
	s.errors.ClearDefinition(ref.ID())
	s.clearUnresolved(ref.ID())
	ref.MarkNotNeeded()

	s.mu.Lock()
	delete(s.frontiers, ref.ID())
	delete(s.extensions, ref.ID())
	s.mu.Unlock()
}

func (s *Service) frontierMembersLocked() map[naming.RefID]bool {
	out := make(map[naming.RefID]bool)
	for _, fr := range s.frontiers {
		for id := range fr.members {
			out[id] = true
		}
	}
	return out
}

func (s *Service) markUpdated(loc naming.ModuleLocation) {
	if loc.IsZero() {
		return
	}
	s.mu.Lock()
	s.updatedModules[loc] = struct{}{}
	s.mu.Unlock()
}
