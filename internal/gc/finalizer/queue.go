// Package finalizer holds objects found dead that must be finalized before
// their memory is reclaimed, and the processor that finalizes them.
package finalizer

import "github.com/kolkov/tracegc/internal/gc/object"

// Queue is an ordered collection of objects moved out of the object store
// by the sweeper. Objects keep the order in which they were swept.
//
// Thread Safety: Not safe for concurrent use. A queue is filled by one
// sweeper and then handed over as a whole to the finalizer processor.
type Queue struct {
	objs []*object.Object
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends obj.
func (q *Queue) Push(obj *object.Object) {
	q.objs = append(q.objs, obj)
}

// Len returns the number of queued objects.
func (q *Queue) Len() int { return len(q.objs) }

// Objects returns the queued objects in sweep order. The slice is owned by
// the queue.
func (q *Queue) Objects() []*object.Object { return q.objs }

// Drain returns the queued objects and leaves the queue empty.
func (q *Queue) Drain() []*object.Object {
	objs := q.objs
	q.objs = nil
	return objs
}

// Merge moves every object of other to the end of q.
func (q *Queue) Merge(other *Queue) {
	q.objs = append(q.objs, other.Drain()...)
}
