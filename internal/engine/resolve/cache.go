// Package resolve caches the answers of name resolution per reference site.
//
// Entries are re-verified on every lookup: the hash of the site's own text must
// match the hash recorded at store time, a syntax-backed target must still
// dereference to a valid node, and any other target must still be live. Eviction (LRU capacity, Sweep) only bounds
// memory and is never relied on for correctness.
package resolve

import (
	"semcache/internal/core/ports"
	"semcache/internal/engine/graph"
	"semcache/internal/engine/naming"
	"semcache/internal/shared/observability"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	cmap "github.com/orcaman/concurrent-map/v2"
)

const DefaultCapacity = 4096

// LoadState reports whether the owning project finished its first full load
// and whether a target that is not backed by syntax still exists.
type LoadState interface {
	IsLoaded() bool
	IsLive(target naming.Referable) bool
}

type syntaxEntry struct {
	textHash uint64
	target   naming.AnchorID
}

type valueEntry struct {
	textHash uint64
	target   naming.Referable
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Stale         uint64
	SyntaxEntries int
	ValueEntries  int
}

type Cache struct {
	tree  ports.SyntaxTree
	state LoadState

	syntax cmap.ConcurrentMap[naming.AnchorID, syntaxEntry]
	values *graph.LRUCache[naming.AnchorID, valueEntry]

	hits   atomic.Uint64
	misses atomic.Uint64
	stale  atomic.Uint64
}

// NewCache builds a cache over tree. capacity bounds the store for targets
// that are not backed by syntax.
func NewCache(tree ports.SyntaxTree, state LoadState, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		tree:   tree,
		state:  state,
		syntax: cmap.NewStringer[naming.AnchorID, syntaxEntry](),
		values: graph.NewLRUCache[naming.AnchorID, valueEntry](capacity),
	}
	c.values.OnEvict(func(naming.AnchorID, valueEntry) {
		observability.ResolveCacheEvictions.Inc()
	})
	return c
}

func hashText(text string) uint64 {
	return xxhash.Sum64String(text)
}

// Lookup returns the cached target of site if it is still consistent with the
// current source. Stale entries are dropped and reported absent, as is a
// cached negative answer.
func (c *Cache) Lookup(site ports.ReferenceSite) (naming.Referable, bool) {
	key := site.Anchor()
	if key == 0 {
		c.recordMiss()
		return nil, false
	}
	current := hashText(site.Text())

	if entry, ok := c.syntax.Get(key); ok {
		if entry.textHash != current {
			c.dropStale(key)
			return nil, false
		}
		node, ok := c.tree.Node(entry.target)
		if !ok || !node.IsValid() {
			c.dropStale(key)
			return nil, false
		}
		ref, ok := node.(naming.Referable)
		if !ok {
			c.dropStale(key)
			return nil, false
		}
		c.recordHit()
		return ref, true
	}

	var stale bool
	entry, ok := c.values.GetIf(key, func(e valueEntry) bool {
		stale = e.textHash != current || !c.live(e.target)
		return !stale
	})
	if stale {
		c.stale.Add(1)
		observability.ResolveCacheLookups.WithLabelValues("stale").Inc()
		c.publishSizes()
		return nil, false
	}
	if !ok || entry.target == nil || entry.target == naming.NullReferable {
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	return entry.target, true
}

// ResolveWithCache returns the cached target or runs resolver. A nil answer is
// not stored until the project is loaded, so an early miss is retried later.
func (c *Cache) ResolveWithCache(site ports.ReferenceSite, resolver func() naming.Referable) naming.Referable {
	if ref, ok := c.Lookup(site); ok {
		return ref
	}
	result := resolver()
	if result == nil && (c.state == nil || !c.state.IsLoaded()) {
		return nil
	}
	c.Store(site, result)
	if result == naming.NullReferable {
		return nil
	}
	return result
}

// Store overwrites any entry for site. A nil target is stored as the
// NullReferable marker.
func (c *Cache) Store(site ports.ReferenceSite, target naming.Referable) {
	key := site.Anchor()
	if key == 0 {
		return
	}
	textHash := hashText(site.Text())

	if node, ok := target.(ports.SyntaxNode); ok && node.Anchor() != 0 && node.IsValid() {
		c.values.Evict(key)
		c.syntax.Set(key, syntaxEntry{textHash: textHash, target: node.Anchor()})
		c.publishSizes()
		return
	}
	if target == nil {
		target = naming.NullReferable
	}
	c.syntax.Remove(key)
	c.values.Put(key, valueEntry{textHash: textHash, target: target})
	c.publishSizes()
}

// Replace stores target and returns what Lookup would have returned before.
func (c *Cache) Replace(site ports.ReferenceSite, target naming.Referable) naming.Referable {
	old, _ := c.Lookup(site)
	c.Store(site, target)
	return old
}

func (c *Cache) Invalidate(site ports.ReferenceSite) {
	c.InvalidateAnchor(site.Anchor())
}

func (c *Cache) InvalidateAnchor(key naming.AnchorID) {
	c.syntax.Remove(key)
	c.values.Evict(key)
	c.publishSizes()
}

func (c *Cache) Clear() {
	c.syntax.Clear()
	c.values.Clear()
	c.publishSizes()
}

// Sweep drops entries whose site or target node no longer exists and returns
// the number of entries removed.
func (c *Cache) Sweep() int {
	removed := 0
	for item := range c.syntax.IterBuffered() {
		if c.alive(item.Key) && c.alive(item.Val.target) {
			continue
		}
		if c.syntax.RemoveCb(item.Key, func(_ naming.AnchorID, v syntaxEntry, exists bool) bool {
			return exists && v == item.Val
		}) {
			removed++
		}
	}
	removed += c.values.DeleteFunc(func(site naming.AnchorID, _ valueEntry) bool {
		return !c.alive(site)
	})
	c.publishSizes()
	return removed
}

func (c *Cache) Len() int {
	return c.syntax.Count() + c.values.Len()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stale:         c.stale.Load(),
		SyntaxEntries: c.syntax.Count(),
		ValueEntries:  c.values.Len(),
	}
}

// live reports whether a stored value target still exists. The null marker
// is always live; it is re-verified through the site hash only.
func (c *Cache) live(target naming.Referable) bool {
	if target == nil || target == naming.NullReferable || c.state == nil {
		return true
	}
	return c.state.IsLive(target)
}

func (c *Cache) alive(anchor naming.AnchorID) bool {
	node, ok := c.tree.Node(anchor)
	return ok && node.IsValid()
}

func (c *Cache) dropStale(key naming.AnchorID) {
	c.syntax.Remove(key)
	c.stale.Add(1)
	observability.ResolveCacheLookups.WithLabelValues("stale").Inc()
	c.publishSizes()
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	observability.ResolveCacheLookups.WithLabelValues("hit").Inc()
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	observability.ResolveCacheLookups.WithLabelValues("miss").Inc()
}

func (c *Cache) publishSizes() {
	observability.ResolveCacheEntries.WithLabelValues("syntax").Set(float64(c.syntax.Count()))
	observability.ResolveCacheEntries.WithLabelValues("lru").Set(float64(c.values.Len()))
}
