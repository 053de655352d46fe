package stats

import (
	"sync"
	"time"

	"github.com/kolkov/tracegc/internal/gc/epoch"
)

// Which selects one of the two records kept by an Aggregator. The values
// double as the ids accepted by Fill.
type Which int

const (
	// Last is the most recently finished cycle.
	Last Which = 0
	// Current is the cycle in progress.
	Current Which = 1
)

// Clock returns nanoseconds since process start.
type Clock func() int64

var processStart = time.Now()

// MonotonicClock reads the monotonic clock relative to process start.
func MonotonicClock() int64 {
	return int64(time.Since(processStart))
}

// Aggregator collects cycle records.
//
// Every method takes the lock for the duration of a field copy only: no
// allocation, logging or I/O happens while it is held, so a collector
// pause can never be stalled by a reader.
//
// Completed records are also kept in a fixed-size history ring, preallocated
// at construction, for Summary.
//
// Thread Safety: All methods are safe for concurrent calls.
//
// Example:
//
//	agg := stats.NewAggregator()
//	agg.Start(e)
//	agg.PauseStart()
//	agg.RecordRootSet(tls, stack, globals, stable)
//	agg.PauseEnd()
//	agg.Finish()
//	rec, ok := agg.Snapshot(stats.Last)
type Aggregator struct {
	now Clock

	mu      sync.Mutex
	current CycleRecord
	last    CycleRecord

	history []CycleRecord
	next    int // next history slot
	filled  int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the time source.
func WithClock(c Clock) Option {
	return func(a *Aggregator) { a.now = c }
}

// WithHistory sets how many finished cycles Summary considers.
func WithHistory(n int) Option {
	return func(a *Aggregator) {
		if n < 1 {
			n = 1
		}
		a.history = make([]CycleRecord, n)
	}
}

// NewAggregator creates an aggregator with both records unset.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:     MonotonicClock,
		current: emptyRecord,
		last:    emptyRecord,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.history == nil {
		a.history = make([]CycleRecord, 64)
	}
	return a
}

// Start begins a cycle: current is reset and stamped with e and the start
// time.
func (a *Aggregator) Start(e epoch.Epoch) {
	t := a.now()
	a.mu.Lock()
	a.current = emptyRecord
	a.current.Epoch = e
	a.current.StartTime = t
	a.mu.Unlock()
}

// Finish stamps the end time and moves current to last. current is reset.
func (a *Aggregator) Finish() {
	t := a.now()
	a.mu.Lock()
	a.current.EndTime = Some(t)
	a.last = a.current
	a.current = emptyRecord
	a.history[a.next] = a.last
	a.next = (a.next + 1) % len(a.history)
	if a.filled < len(a.history) {
		a.filled++
	}
	a.mu.Unlock()
}

// AbortCycle discards current without publishing it. last is untouched.
func (a *Aggregator) AbortCycle() {
	a.mu.Lock()
	a.current = emptyRecord
	a.mu.Unlock()
}

// PauseStart stamps the start of the stop-the-world pause.
func (a *Aggregator) PauseStart() {
	t := a.now()
	a.mu.Lock()
	a.current.PauseStartTime = Some(t)
	a.mu.Unlock()
}

// PauseEnd stamps the end of the stop-the-world pause.
func (a *Aggregator) PauseEnd() {
	t := a.now()
	a.mu.Lock()
	a.current.PauseEndTime = Some(t)
	a.mu.Unlock()
}

// FinalizersDone stamps the finalizer completion time of cycle e, which may
// be current or, if it already finished, last.
func (a *Aggregator) FinalizersDone(e epoch.Epoch) {
	if !e.IsSet() {
		return
	}
	t := a.now()
	a.mu.Lock()
	if a.current.Epoch == e {
		a.current.FinalizersDoneTime = Some(t)
	}
	if a.last.Epoch == e {
		a.last.FinalizersDoneTime = Some(t)
		if a.filled > 0 {
			newest := (a.next - 1 + len(a.history)) % len(a.history)
			if a.history[newest].Epoch == e {
				a.history[newest].FinalizersDoneTime = Some(t)
			}
		}
	}
	a.mu.Unlock()
}

// RecordRootSet adds root counts to current. Repeated calls accumulate.
func (a *Aggregator) RecordRootSet(threadLocal, stack, global, stable uint64) {
	a.mu.Lock()
	rs := a.current.RootSet.Value
	rs.ThreadLocalReferences += int64(threadLocal)
	rs.StackReferences += int64(stack)
	rs.GlobalReferences += int64(global)
	rs.StableReferences += int64(stable)
	a.current.RootSet = Some(rs)
	a.mu.Unlock()
}

// RecordHeapUsageBefore sets the heap usage seen before sweeping.
func (a *Aggregator) RecordHeapUsageBefore(objectsCount, totalObjectsSize uint64) {
	u := MemoryUsage{ObjectsCount: int64(objectsCount), TotalObjectsSize: int64(totalObjectsSize)}
	a.mu.Lock()
	a.current.MemoryUsageBefore.Heap = Some(u)
	a.mu.Unlock()
}

// RecordHeapUsageAfter sets the heap usage seen after sweeping.
func (a *Aggregator) RecordHeapUsageAfter(objectsCount, totalObjectsSize uint64) {
	u := MemoryUsage{ObjectsCount: int64(objectsCount), TotalObjectsSize: int64(totalObjectsSize)}
	a.mu.Lock()
	a.current.MemoryUsageAfter.Heap = Some(u)
	a.mu.Unlock()
}

// Snapshot returns a copy of the selected record. ok is false when the
// record is unset or which is unknown.
func (a *Aggregator) Snapshot(which Which) (rec CycleRecord, ok bool) {
	a.mu.Lock()
	switch which {
	case Last:
		rec = a.last
	case Current:
		rec = a.current
	default:
		a.mu.Unlock()
		return CycleRecord{}, false
	}
	a.mu.Unlock()
	if !rec.IsSet() {
		return CycleRecord{}, false
	}
	return rec, true
}

// Fill reports record id (0 = last, 1 = current) to b. Unknown ids and
// unset records report nothing.
func (a *Aggregator) Fill(b Builder, id int) {
	rec, ok := a.Snapshot(Which(id))
	if !ok {
		return
	}
	rec.Build(b)
}

// History returns the finished cycles kept for summaries, oldest first.
func (a *Aggregator) History() []CycleRecord {
	size := len(a.history) // fixed at construction
	ring := make([]CycleRecord, size)
	a.mu.Lock()
	n, next := a.filled, a.next
	copy(ring, a.history)
	a.mu.Unlock()

	out := make([]CycleRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ring[(next-n+i+size)%size])
	}
	return out
}
