package gc

import (
	"context"
	"io"

	internal "github.com/kolkov/tracegc/internal/gc/api"
	"github.com/kolkov/tracegc/internal/gc/collector"
	"github.com/kolkov/tracegc/internal/gc/heap"
	"github.com/kolkov/tracegc/internal/gc/mutator"
	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/stats"
)

// Object is a heap object managed by the collector.
type Object = object.Object

// Thread is a mutator thread attached to the collector. Its stack and
// thread-local slots are roots.
type Thread = mutator.Context

// Result describes one finished collection cycle.
type Result = collector.Result

// Record is a collection cycle record.
type Record = stats.CycleRecord

// Builder receives the set fields of a cycle record from Fill.
type Builder = stats.Builder

// Summary aggregates recent finished cycles.
type Summary = stats.Summary

// Which selects a cycle record.
type Which = stats.Which

// Record selectors for Snapshot and Fill.
const (
	Last    = stats.Last
	Current = stats.Current
)

func current() *internal.Runtime { return internal.Current() }

// Init creates a fresh collector configured from GCDEBUG and starts its
// background finalizer processor. Objects of a previous instance are no
// longer collected.
//
// A malformed GCDEBUG value is returned as an error and the previous
// instance stays in place. Without Init, a default instance is used and
// finalizers run synchronously at the end of each Collect.
func Init() error {
	return internal.Init()
}

// Fini waits for scheduled finalizers and, with gctrace enabled, prints a
// summary of recent cycles to stderr.
func Fini() {
	internal.Fini()
}

// Attach registers a new mutator thread. A thread attached while a cycle
// is in progress starts suspended: its first allocation or root change
// blocks until the cycle has swept.
func Attach() *Thread {
	r := current()
	return r.Threads.Attach(r.Store)
}

// Detach unregisters t. Its pending allocations are published first and
// its roots are dropped.
func Detach(t *Thread) {
	current().Threads.Detach(t)
}

// Allocate creates a heap object outside any thread. It is only kept alive
// by references from other objects or by RegisterGlobal. An object
// allocated while a cycle is running always survives that cycle.
func Allocate(typeName string, size uint64, nfields int) *Object {
	return current().Store.Allocate(typeName, size, nfields)
}

// RegisterGlobal adds a global root slot holding obj and returns its index.
func RegisterGlobal(obj *Object) int {
	return current().Globals.Register(obj)
}

// SetGlobal overwrites global slot i.
func SetGlobal(i int, obj *Object) {
	current().Globals.Set(i, obj)
}

// NewWeakReference returns the weak reference to obj. WeakReferent on the
// result yields obj until obj is collected, and nil afterwards.
func NewWeakReference(obj *Object) *Object {
	r := current()
	return heap.NewWeakReference(r.Store, r.Extra, obj)
}

// SetAssociatedObject attaches a foreign value to obj. Once obj dies the
// value is detached, and the collector keeps obj's extra data until the
// finalizer processor has handled it.
func SetAssociatedObject(obj *Object, v any) {
	current().Extra.Install(obj).SetAssociatedObject(v)
}

// Collect runs one stop-the-world collection cycle.
//
// ctx is checked before the cycle starts only; a started cycle always
// completes. Finalizers may call Collect.
func Collect(ctx context.Context) (Result, error) {
	return internal.Collect(ctx)
}

// Snapshot returns a copy of the selected cycle record. ok is false when
// the record is not set.
func Snapshot(which Which) (rec Record, ok bool) {
	return internal.Snapshot(which)
}

// Fill reports cycle record id (0 = last, 1 = current) to b. Only fields
// that were set are reported; unknown ids and unset records report
// nothing.
func Fill(b Builder, id int) {
	internal.Fill(b, id)
}

// GetSummary summarizes recent finished cycles.
func GetSummary() Summary {
	return internal.Summary()
}

// WriteHeapProfile writes a pprof profile of the live heap to w. With
// GCDEBUG=allocsites=1 samples carry allocation stacks.
func WriteHeapProfile(w io.Writer) error {
	return internal.WriteHeapProfile(w)
}
