// Package worklist implements the mark worklist abstraction and its
// serial, shared and per-worker strategies.
//
// A grey object is one that is marked and sitting in a worklist; the
// marker consumes grey objects and produces new ones. Correctness does not
// depend on dequeue order, only on every object that needs traversal being
// dequeued exactly once per cycle. All implementations here guarantee that
// by gating Enqueue on the object's mark bit: only the caller that flips
// the bit pushes the object.
package worklist

import "github.com/kolkov/tracegc/internal/gc/object"

// Worklist is a queue of grey objects.
type Worklist interface {
	// Enqueue marks obj and queues it, unless obj was already marked in
	// this cycle. It reports whether obj was queued.
	Enqueue(obj *object.Object) bool

	// Dequeue removes one object. ok is false when no work is left for
	// this consumer; for shared strategies that means the whole mark
	// phase reached its fixed point.
	Dequeue() (obj *object.Object, ok bool)

	// IsEmpty reports whether no objects are queued.
	IsEmpty() bool

	// Clear drops all queued objects. Mark bits are left untouched.
	Clear()
}
