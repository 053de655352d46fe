// Package stats implements per-cycle collection statistics.
//
// The Aggregator keeps two cycle records, current (in progress) and last
// (most recently finished), behind a single lock. Phase boundaries of a
// cycle stamp fields on current; Finish demotes current to last. Readers
// only ever see value copies.
//
// Every field besides the epoch and start time is optional: it is reported
// only if it was set during the cycle, never defaulted to zero.
package stats

import (
	"time"

	"github.com/kolkov/tracegc/internal/gc/epoch"
)

// HeapName is the name of the collected heap in memory usage maps.
const HeapName = "heap"

// Optional holds a value that may be absent.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// MemoryUsage is an object count and total size.
type MemoryUsage struct {
	ObjectsCount     int64
	TotalObjectsSize int64
}

// MemoryUsageMap maps heap names to usage. Only the collected heap is
// tracked; ForEach is the stable way to enumerate it.
type MemoryUsageMap struct {
	Heap Optional[MemoryUsage]
}

// ForEach calls fn for every named usage that was set.
func (m MemoryUsageMap) ForEach(fn func(name string, usage MemoryUsage)) {
	if m.Heap.Valid {
		fn(HeapName, m.Heap.Value)
	}
}

// RootSetStatistics counts roots by origin.
type RootSetStatistics struct {
	ThreadLocalReferences int64
	StackReferences       int64
	GlobalReferences      int64
	StableReferences      int64
}

// Total returns the number of roots of every origin.
func (r RootSetStatistics) Total() int64 {
	return r.ThreadLocalReferences + r.StackReferences + r.GlobalReferences + r.StableReferences
}

// CycleRecord describes one collection cycle.
//
// Times are nanoseconds since process start. A record whose Epoch is
// epoch.Unset describes no cycle and reports nothing.
type CycleRecord struct {
	Epoch     epoch.Epoch
	StartTime int64

	EndTime            Optional[int64]
	PauseStartTime     Optional[int64]
	PauseEndTime       Optional[int64]
	FinalizersDoneTime Optional[int64]

	RootSet Optional[RootSetStatistics]

	MemoryUsageBefore MemoryUsageMap
	MemoryUsageAfter  MemoryUsageMap
}

// emptyRecord is the reset state of a record.
var emptyRecord = CycleRecord{Epoch: epoch.Unset, StartTime: -1}

// IsSet reports whether the record describes a started cycle.
func (r CycleRecord) IsSet() bool {
	return r.Epoch.IsSet()
}

// Duration returns the time from start to end, if the cycle finished.
func (r CycleRecord) Duration() (time.Duration, bool) {
	if !r.IsSet() || !r.EndTime.Valid {
		return 0, false
	}
	return time.Duration(r.EndTime.Value - r.StartTime), true
}

// PauseDuration returns the stop-the-world pause length, if both
// boundaries were stamped.
func (r CycleRecord) PauseDuration() (time.Duration, bool) {
	if !r.PauseStartTime.Valid || !r.PauseEndTime.Valid {
		return 0, false
	}
	return time.Duration(r.PauseEndTime.Value - r.PauseStartTime.Value), true
}

// Reclaimed returns the heap usage difference between before and after.
func (r CycleRecord) Reclaimed() (MemoryUsage, bool) {
	before, after := r.MemoryUsageBefore.Heap, r.MemoryUsageAfter.Heap
	if !before.Valid || !after.Valid {
		return MemoryUsage{}, false
	}
	return MemoryUsage{
		ObjectsCount:     before.Value.ObjectsCount - after.Value.ObjectsCount,
		TotalObjectsSize: before.Value.TotalObjectsSize - after.Value.TotalObjectsSize,
	}, true
}

// Builder receives the fields of a record. Only fields that were set are
// reported; a consumer must treat every setter as optional except SetEpoch
// and SetStartTime, which come first whenever anything is reported.
type Builder interface {
	SetEpoch(v int64)
	SetStartTime(v int64)
	SetEndTime(v int64)
	SetPauseStartTime(v int64)
	SetPauseEndTime(v int64)
	SetFinalizersDoneTime(v int64)
	SetRootSet(threadLocal, stack, global, stable int64)
	SetMemoryUsageBefore(name string, objectsCount, totalObjectsSize int64)
	SetMemoryUsageAfter(name string, objectsCount, totalObjectsSize int64)
}

// Build reports r to b.
func (r CycleRecord) Build(b Builder) {
	if !r.IsSet() {
		return
	}
	b.SetEpoch(int64(r.Epoch))
	b.SetStartTime(r.StartTime)
	if v, ok := r.EndTime.Get(); ok {
		b.SetEndTime(v)
	}
	if v, ok := r.PauseStartTime.Get(); ok {
		b.SetPauseStartTime(v)
	}
	if v, ok := r.PauseEndTime.Get(); ok {
		b.SetPauseEndTime(v)
	}
	if v, ok := r.FinalizersDoneTime.Get(); ok {
		b.SetFinalizersDoneTime(v)
	}
	if rs, ok := r.RootSet.Get(); ok {
		b.SetRootSet(rs.ThreadLocalReferences, rs.StackReferences, rs.GlobalReferences, rs.StableReferences)
	}
	r.MemoryUsageBefore.ForEach(func(name string, u MemoryUsage) {
		b.SetMemoryUsageBefore(name, u.ObjectsCount, u.TotalObjectsSize)
	})
	r.MemoryUsageAfter.ForEach(func(name string, u MemoryUsage) {
		b.SetMemoryUsageAfter(name, u.ObjectsCount, u.TotalObjectsSize)
	})
}
