// Package sweep reclaims unmarked objects after the mark phase.
//
// Two passes run per cycle, always in this order:
//
//  1. ExtraObjects visits out-of-band ExtraData records. Records of dead
//     owners lose their weak counter and either release their associated
//     object into finalization or are reclaimed outright.
//  2. Heap visits every object. Marked objects survive with their mark bit
//     reset, finalizable dead objects move to the finalizer queue, the rest
//     are erased.
//
// The heap pass resets the mark bits the extra pass reads, so running them
// in the other order would treat every owner as dead.
package sweep

import (
	"context"
	"log/slog"

	"github.com/kolkov/tracegc/internal/gc/finalizer"
	"github.com/kolkov/tracegc/internal/gc/gclog"
	"github.com/kolkov/tracegc/internal/gc/object"
)

// ObjectIterator is a cursor over an object store, held under the store's
// iteration lock. EraseAndAdvance and MoveAndAdvance are the only mutations
// allowed while iterating.
type ObjectIterator interface {
	Valid() bool
	Object() *object.Object
	// Next advances past the current object.
	Next()
	// EraseAndAdvance reclaims the current object and advances.
	EraseAndAdvance()
	// MoveAndAdvance unlinks the current object into q and advances.
	MoveAndAdvance(q *finalizer.Queue)
	// Close releases the iteration lock.
	Close()
}

// ObjectStore hands out locked iterators.
type ObjectStore interface {
	LockForIter() ObjectIterator
}

// ExtraIterator is a cursor over an extra-data store, held under the
// store's iteration lock.
type ExtraIterator interface {
	Valid() bool
	Extra() *object.ExtraData
	Next()
	EraseAndAdvance()
	Close()
}

// ExtraStore is the store of ExtraData records.
type ExtraStore interface {
	// ProcessDeletions reclaims records scheduled for deletion.
	ProcessDeletions()
	LockForIter() ExtraIterator
}

// Stats counts what a sweep pass did.
type Stats struct {
	Kept      uint64
	Finalized uint64
	Erased    uint64
	// ErasedBytes is the size of the erased objects.
	ErasedBytes uint64
}

// Heap sweeps the objects visible through it and returns the queue of dead
// objects that need finalization. it is consumed but not closed.
func Heap(it ObjectIterator) (*finalizer.Queue, Stats) {
	q := finalizer.NewQueue()
	var stats Stats
	for it.Valid() {
		obj := it.Object()
		if obj.TryResetMark() {
			stats.Kept++
			it.Next()
			continue
		}
		if object.HasFinalizers(obj) {
			stats.Finalized++
			it.MoveAndAdvance(q)
			continue
		}
		// Weak references must read nil before the memory is reused.
		if ed := obj.ExtraData(); ed != nil {
			ed.ClearWeakReferenceCounter()
		}
		stats.Erased++
		stats.ErasedBytes += obj.Size()
		it.EraseAndAdvance()
	}
	gclog.Logger().LogAttrs(context.Background(), slog.LevelDebug, "swept heap",
		slog.Uint64("kept", stats.Kept),
		slog.Uint64("finalized", stats.Finalized),
		slog.Uint64("erased", stats.Erased))
	return q, stats
}

// HeapStore locks store, sweeps it and unlocks it.
func HeapStore(store ObjectStore) (*finalizer.Queue, Stats) {
	it := store.LockForIter()
	defer it.Close()
	return Heap(it)
}

// ExtraObjects sweeps the ExtraData records of dead owners. It must run
// after marking and before Heap.
func ExtraObjects(store ExtraStore) {
	store.ProcessDeletions()
	it := store.LockForIter()
	defer it.Close()

	var detached, erased uint64
	for it.Valid() {
		ed := it.Extra()
		if ed.Flag(object.FlagInFinalizerQueue) || ed.Owner().IsMarked() {
			it.Next()
			continue
		}
		ed.ClearWeakReferenceCounter()
		if ed.HasAssociatedObject() {
			ed.DetachAssociatedObject()
			ed.SetFlag(object.FlagInFinalizerQueue)
			detached++
			it.Next()
			continue
		}
		ed.Uninstall()
		erased++
		it.EraseAndAdvance()
	}
	gclog.Logger().LogAttrs(context.Background(), slog.LevelDebug, "swept extra objects",
		slog.Uint64("detached", detached),
		slog.Uint64("erased", erased))
}
