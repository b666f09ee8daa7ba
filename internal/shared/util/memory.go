package util

import (
	"runtime"
)

// HeapStats returns the current heap allocation in MB and the number of
// completed GC cycles.
func HeapStats() (allocMB uint64, gcCycles uint32) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc / 1024 / 1024, m.NumGC
}
