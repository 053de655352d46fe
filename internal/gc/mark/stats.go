// Package mark implements the mark (reachability) phase.
package mark

// Stats are per-cycle mark counters.
//
// Stats from partial computations (one per mutator thread, one per mark
// worker, the global roots) are combined with Merge; addition is the only
// operation, so merge order does not matter.
type Stats struct {
	// AliveHeapSet is the number of heap objects found reachable.
	AliveHeapSet uint64
	// AliveHeapSetBytes is their total allocated size. Allocator overhead
	// is not included.
	AliveHeapSetBytes uint64

	// Root counts by origin.
	ThreadLocalRoots uint64
	StackRoots       uint64
	GlobalRoots      uint64
	StableRoots      uint64
}

// Merge adds other into s.
func (s *Stats) Merge(other Stats) {
	s.AliveHeapSet += other.AliveHeapSet
	s.AliveHeapSetBytes += other.AliveHeapSetBytes
	s.ThreadLocalRoots += other.ThreadLocalRoots
	s.StackRoots += other.StackRoots
	s.GlobalRoots += other.GlobalRoots
	s.StableRoots += other.StableRoots
}

// RootSetSize returns the total number of roots of every origin.
func (s Stats) RootSetSize() uint64 {
	return s.ThreadLocalRoots + s.StackRoots + s.GlobalRoots + s.StableRoots
}
