package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	DependencyDependents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "semcache_dependency_dependents",
		Help: "Number of definitions with at least one recorded dependency.",
	})

	DependencyEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "semcache_dependency_edges",
		Help: "Number of recorded dependent -> dependency edges.",
	})

	IndexHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "semcache_index_handles",
		Help: "Number of live definition handles in the named-definition index.",
	})

	ResolveCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semcache_resolve_cache_lookups_total",
		Help: "Resolution cache lookups by outcome (hit, miss, stale).",
	}, []string{"outcome"})

	ResolveCacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "semcache_resolve_cache_entries",
		Help: "Resolution cache entries by store (syntax, lru).",
	}, []string{"store"})

	ResolveCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semcache_resolve_cache_evictions_total",
		Help: "Entries evicted from the bounded resolution store for capacity.",
	})

	InvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semcache_invalidations_total",
		Help: "Definitions invalidated, split by seed and dependent.",
	}, []string{"role"})

	InvalidationClosureSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "semcache_invalidation_closure_size",
		Help:    "Number of dependents invalidated by a single edit.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	CancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semcache_cancellations_total",
		Help: "Running checks cancelled through the computation gate.",
	})

	TypecheckDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "semcache_typecheck_seconds",
		Help:    "Time spent elaborating a single definition, by resulting status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	ReloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "semcache_reload_seconds",
		Help:    "Time spent reloading libraries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semcache_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	ManifestReloadsDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semcache_manifest_reloads_deferred_total",
		Help: "Manifest change notifications delayed by the reload rate limit.",
	})

	LibraryLoadErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semcache_library_load_errors_total",
		Help: "Library load failures by kind (not_found, version).",
	}, []string{"kind"})
)
