package graph

import (
	"semcache/internal/engine/naming"
	"semcache/internal/shared/observability"
	"sort"
	"sync"
)

// DependencyCollector records which definitions a definition used while it
// was typechecked, and answers which definitions are affected by a change.
type DependencyCollector struct {
	mu sync.Mutex

	// dependent -> dependencies
	dependencies map[naming.RefID]map[naming.RefID]struct{}
	// dependency -> dependents
	dependents map[naming.RefID]map[naming.RefID]struct{}
	edges      int
}

// Invalidation is the result of Update: the seed and the definitions that
// depend on it, directly or transitively.
type Invalidation struct {
	Seed naming.RefID
	// Direct dependents had an edge to the seed before it was dropped.
	Direct []naming.RefID
	// Dependents is the whole closure, Direct included, seed excluded.
	Dependents []naming.RefID
}

func (inv Invalidation) Empty() bool {
	return len(inv.Dependents) == 0
}

func NewDependencyCollector() *DependencyCollector {
	return &DependencyCollector{
		dependencies: make(map[naming.RefID]map[naming.RefID]struct{}),
		dependents:   make(map[naming.RefID]map[naming.RefID]struct{}),
	}
}

// RecordDependency adds the edge dependent -> dependency. Recording the same
// edge twice is a no-op; self edges are ignored.
func (c *DependencyCollector) RecordDependency(dependent, dependency naming.RefID) {
	if dependent == dependency || dependent == 0 || dependency == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dependencies[dependent] == nil {
		c.dependencies[dependent] = make(map[naming.RefID]struct{})
	}
	if _, ok := c.dependencies[dependent][dependency]; ok {
		return
	}
	c.dependencies[dependent][dependency] = struct{}{}
	c.edges++

	if c.dependents[dependency] == nil {
		c.dependents[dependency] = make(map[naming.RefID]struct{})
	}
	c.dependents[dependency][dependent] = struct{}{}
	c.publishLocked()
}

// Update computes the dependent closure of def and drops def from the graph
// in one step.
func (c *DependencyCollector) Update(def naming.RefID) Invalidation {
	c.mu.Lock()
	defer c.mu.Unlock()

	inv := Invalidation{Seed: def}
	inv.Direct = sortedIDs(c.dependents[def])
	inv.Dependents = c.closureLocked(def)
	c.forgetLocked(def)
	c.publishLocked()
	return inv
}

// Forget drops def and every edge touching it.
func (c *DependencyCollector) Forget(def naming.RefID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgetLocked(def)
	c.publishLocked()
}

// ForgetDependencies drops the outgoing edges of dependent, keeping edges
// other definitions have into it. Used before a definition is re-elaborated.
func (c *DependencyCollector) ForgetDependencies(dependent naming.RefID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropOutgoingLocked(dependent)
	c.publishLocked()
}

func (c *DependencyCollector) Dependencies(def naming.RefID) []naming.RefID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedIDs(c.dependencies[def])
}

func (c *DependencyCollector) Dependents(def naming.RefID) []naming.RefID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedIDs(c.dependents[def])
}

// Closure returns the transitive dependents of def without changing the graph.
func (c *DependencyCollector) Closure(def naming.RefID) []naming.RefID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closureLocked(def)
}

func (c *DependencyCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dependencies = make(map[naming.RefID]map[naming.RefID]struct{})
	c.dependents = make(map[naming.RefID]map[naming.RefID]struct{})
	c.edges = 0
	c.publishLocked()
}

// Stats returns the node and edge counts.
func (c *DependencyCollector) Stats() (nodes, edges int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *DependencyCollector) closureLocked(def naming.RefID) []naming.RefID {
	queue := sortedIDs(c.dependents[def])
	seen := make(map[naming.RefID]bool, len(queue)+1)
	seen[def] = true
	for _, id := range queue {
		seen[id] = true
	}

	out := make([]naming.RefID, 0, len(queue))
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		out = append(out, curr)
		for next := range c.dependents[curr] {
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *DependencyCollector) forgetLocked(def naming.RefID) {
	c.dropOutgoingLocked(def)
	for dependent := range c.dependents[def] {
		if deps := c.dependencies[dependent]; deps != nil {
			if _, ok := deps[def]; ok {
				delete(deps, def)
				c.edges--
			}
			if len(deps) == 0 {
				delete(c.dependencies, dependent)
			}
		}
	}
	delete(c.dependents, def)
}

func (c *DependencyCollector) dropOutgoingLocked(def naming.RefID) {
	c.edges -= len(c.dependencies[def])
	for dependency := range c.dependencies[def] {
		if revs := c.dependents[dependency]; revs != nil {
			delete(revs, def)
			if len(revs) == 0 {
				delete(c.dependents, dependency)
			}
		}
	}
	delete(c.dependencies, def)
}

func (c *DependencyCollector) statsLocked() (int, int) {
	nodes := len(c.dependencies)
	for id := range c.dependents {
		if _, ok := c.dependencies[id]; !ok {
			nodes++
		}
	}
	return nodes, c.edges
}

func (c *DependencyCollector) publishLocked() {
	observability.DependencyDependents.Set(float64(len(c.dependencies)))
	observability.DependencyEdges.Set(float64(c.edges))
}

func sortedIDs(set map[naming.RefID]struct{}) []naming.RefID {
	out := make([]naming.RefID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
