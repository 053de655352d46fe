// Package roots enumerates the root set of a collection cycle.
//
// Roots come from three places: the stacks and thread-local slots of every
// mutator thread, the process-wide globals, and stable references handed out
// to foreign code. Heap roots are enqueued directly. Non-heap roots (permanent
// or stack-allocated objects) are never marked themselves; their heap
// referents are enqueued eagerly instead, since nothing else would traverse
// them.
package roots

import (
	"context"
	"log/slog"

	"github.com/kolkov/tracegc/internal/gc/gclog"
	"github.com/kolkov/tracegc/internal/gc/invariant"
	"github.com/kolkov/tracegc/internal/gc/mark"
	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/worklist"
)

// Kind tells where a thread root was found.
type Kind uint8

const (
	// KindStack is a slot of the thread's stack.
	KindStack Kind = iota
	// KindThreadLocal is a thread-local storage slot.
	KindThreadLocal
)

// String returns "stack" or "tls".
func (k Kind) String() string {
	if k == KindThreadLocal {
		return "tls"
	}
	return "stack"
}

// Root is one slot of a mutator thread's root set.
type Root struct {
	Object *object.Object
	Kind   Kind
}

// Thread is the collector's view of one mutator thread.
type Thread interface {
	// ID identifies the thread in log output.
	ID() int
	// Publish makes the thread's pending allocations visible to the
	// collector. Must be called before the thread's roots are read.
	Publish()
	// OnStoppedForGC notifies the thread that its roots are being scanned.
	OnStoppedForGC()
	// ForEachRoot calls fn for every stack and thread-local slot.
	ForEachRoot(fn func(Root))
}

// ThreadRegistry iterates mutator threads.
type ThreadRegistry interface {
	// ForEachThread calls fn for every registered thread while holding the
	// registry's iteration lock, so no thread attaches or detaches meanwhile.
	ForEachThread(fn func(Thread))
}

// GlobalSet iterates the process-wide global slots.
type GlobalSet interface {
	ForEachGlobal(fn func(*object.Object))
}

// StableRefSet iterates stable references.
type StableRefSet interface {
	// ProcessDeletions applies disposals that were deferred since the
	// last cycle.
	ProcessDeletions()
	// ForEachStableRef calls fn for every live stable reference.
	ForEachStableRef(fn func(*object.Object))
}

// Collector enumerates the root set into a worklist.
//
// Thread Safety: A Collector holds no mutable state of its own. Concurrent
// CollectForThread calls are safe when the worklist allows concurrent
// producers (worklist.Shared, worklist.Partitioned).
type Collector struct {
	threads ThreadRegistry
	globals GlobalSet
	stable  StableRefSet
}

// New creates a root collector. Any argument may be nil, which contributes
// no roots.
func New(threads ThreadRegistry, globals GlobalSet, stable StableRefSet) *Collector {
	return &Collector{threads: threads, globals: globals, stable: stable}
}

// CollectForThread enqueues the roots of one thread and tallies them by kind.
// The thread must have been published already.
func (c *Collector) CollectForThread(wl worklist.Worklist, t Thread) mark.Stats {
	var stats mark.Stats
	t.OnStoppedForGC()
	t.ForEachRoot(func(r Root) {
		if object.IsNullOrMarker(r.Object) {
			return
		}
		processRoot(wl, r.Object)
		switch r.Kind {
		case KindThreadLocal:
			stats.ThreadLocalRoots++
		default:
			stats.StackRoots++
		}
	})
	gclog.Logger().LogAttrs(context.Background(), slog.LevelDebug, "collected thread roots",
		slog.Int("thread", t.ID()),
		slog.Uint64("stack", stats.StackRoots),
		slog.Uint64("tls", stats.ThreadLocalRoots))
	return stats
}

// CollectGlobals enqueues global slots and stable references. Deferred
// stable reference disposals are applied first.
func (c *Collector) CollectGlobals(wl worklist.Worklist) mark.Stats {
	var stats mark.Stats
	if c.stable != nil {
		c.stable.ProcessDeletions()
	}
	if c.globals != nil {
		c.globals.ForEachGlobal(func(obj *object.Object) {
			if object.IsNullOrMarker(obj) {
				return
			}
			processRoot(wl, obj)
			stats.GlobalRoots++
		})
	}
	if c.stable != nil {
		c.stable.ForEachStableRef(func(obj *object.Object) {
			if object.IsNullOrMarker(obj) {
				return
			}
			processRoot(wl, obj)
			stats.StableRoots++
		})
	}
	gclog.Logger().LogAttrs(context.Background(), slog.LevelDebug, "collected global roots",
		slog.Uint64("globals", stats.GlobalRoots),
		slog.Uint64("stable", stats.StableRoots))
	return stats
}

// Collect builds the complete root set. The worklist is cleared first.
// Threads rejected by filter are skipped; a nil filter accepts every thread.
func (c *Collector) Collect(wl worklist.Worklist, filter func(Thread) bool) mark.Stats {
	wl.Clear()
	var stats mark.Stats
	if c.threads != nil {
		c.threads.ForEachThread(func(t Thread) {
			if filter != nil && !filter(t) {
				return
			}
			// Pending allocations must be visible before the stack is read.
			t.Publish()
			stats.Merge(c.CollectForThread(wl, t))
		})
	}
	stats.Merge(c.CollectGlobals(wl))
	return stats
}

func processRoot(wl worklist.Worklist, obj *object.Object) {
	if obj.Heap() {
		wl.Enqueue(obj)
		return
	}
	obj.TraverseReferred(func(field *object.Object) {
		if !object.IsNullOrMarker(field) && field.Heap() {
			wl.Enqueue(field)
		}
	})
	invariant.Assert(!obj.HasMetaObject(),
		"non-heap root %v may not have extra object data (permanent=%t local=%t)",
		obj, obj.Permanent(), obj.Local())
}
