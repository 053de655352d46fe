// Package heap provides the reference object and extra-data stores.
//
// The stores stand in for a real allocator: they own the bookkeeping of
// which objects exist, hand out identities and expose the locked cursor
// protocol the sweeper consumes. They make no attempt to manage memory
// themselves; erased objects are simply unlinked and left to the Go
// runtime.
package heap

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/kolkov/tracegc/internal/gc/finalizer"
	"github.com/kolkov/tracegc/internal/gc/invariant"
	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/stackdepot"
	"github.com/kolkov/tracegc/internal/gc/sweep"
)

// Store is the object store of the collected heap.
//
// Heap objects become visible to the sweeper once linked, either directly
// by Allocate or in bulk by Publish (used by mutator threads that allocate
// into a private buffer). Permanent objects are tracked separately and are
// never swept. Stack objects are not tracked at all.
//
// Objects linked after BeginCycle are outside the cycle's sweep: the
// iterator stops before them, and closing it clears any mark the cycle left
// on them.
//
// Thread Safety: All methods are safe for concurrent calls. LockForIter
// holds the store lock until the iterator is closed; allocation blocks
// meanwhile.
type Store struct {
	mu        sync.Mutex
	objs      *list.List // *object.Object
	permanent []*object.Object

	// Set by BeginCycle until the next iterator is closed. last is the
	// newest object linked before the cycle, nil if there was none.
	cycle bool
	last  *list.Element

	nextID  atomic.Uint64
	objects atomic.Int64
	bytes   atomic.Int64

	depot *stackdepot.Depot
}

// Option configures a Store.
type Option func(*Store)

// WithAllocSites records the allocation site of every object in d.
func WithAllocSites(d *stackdepot.Depot) Option {
	return func(s *Store) { s.depot = d }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{objs: list.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Depot returns the allocation-site depot, or nil when sites are not
// recorded.
func (s *Store) Depot() *stackdepot.Depot { return s.depot }

// NewObject creates an object with a fresh identity without linking it.
// Heap objects created this way must be handed to Publish.
func (s *Store) NewObject(typeName string, size uint64, flags object.Flags, nfields int) *object.Object {
	return s.newObject(typeName, size, flags, nfields, 1)
}

func (s *Store) newObject(typeName string, size uint64, flags object.Flags, nfields, skip int) *object.Object {
	obj := object.New(s.nextID.Add(1), typeName, size, flags, nfields)
	if s.depot != nil {
		obj.SetAllocSite(s.depot.Capture(skip + 1))
	}
	return obj
}

// NewObjectWithID creates an unlinked object with a caller-chosen
// identity. Loaders use it to keep identities stable; later NewObject
// calls never reuse id.
func (s *Store) NewObjectWithID(id uint64, typeName string, size uint64, flags object.Flags, nfields int) *object.Object {
	for {
		cur := s.nextID.Load()
		if id <= cur || s.nextID.CompareAndSwap(cur, id) {
			break
		}
	}
	return object.New(id, typeName, size, flags, nfields)
}

// Allocate creates and links a heap object.
func (s *Store) Allocate(typeName string, size uint64, nfields int) *object.Object {
	obj := s.newObject(typeName, size, object.FlagHeap, nfields, 1)
	s.Publish(obj)
	return obj
}

// AllocatePermanent creates an object in the permanent area.
func (s *Store) AllocatePermanent(typeName string, size uint64, nfields int) *object.Object {
	obj := s.newObject(typeName, size, object.FlagPermanent, nfields, 1)
	s.AddPermanent(obj)
	return obj
}

// AddPermanent tracks an existing permanent object.
func (s *Store) AddPermanent(obj *object.Object) {
	invariant.Assert(obj.Permanent(), "%v is not a permanent object", obj)
	s.mu.Lock()
	s.permanent = append(s.permanent, obj)
	s.mu.Unlock()
}

// AllocateStack creates a stack-local object. The store does not track it.
func (s *Store) AllocateStack(typeName string, size uint64, nfields int) *object.Object {
	return s.newObject(typeName, size, object.FlagStackLocal, nfields, 1)
}

// Publish links heap objects into the store.
func (s *Store) Publish(objs ...*object.Object) {
	if len(objs) == 0 {
		return
	}
	var bytes int64
	s.mu.Lock()
	for _, obj := range objs {
		invariant.Assert(obj.Heap(), "publishing non-heap object %v", obj)
		s.objs.PushBack(obj)
		bytes += int64(obj.Size())
	}
	s.mu.Unlock()
	s.objects.Add(int64(len(objs)))
	s.bytes.Add(bytes)
}

// Usage returns the number and total size of linked heap objects.
// It does not take the store lock, so it may be called while a sweep
// holds the iterator.
func (s *Store) Usage() (objects, bytes uint64) {
	return uint64(s.objects.Load()), uint64(s.bytes.Load())
}

// Len returns the number of linked heap objects.
func (s *Store) Len() int {
	return int(s.objects.Load())
}

// ForEach calls fn for every linked heap object under the store lock.
func (s *Store) ForEach(fn func(*object.Object)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.objs.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*object.Object))
	}
}

// ForEachPermanent calls fn for every permanent object.
func (s *Store) ForEachPermanent(fn func(*object.Object)) {
	s.mu.Lock()
	perm := s.permanent
	s.mu.Unlock()
	for _, obj := range perm {
		fn(obj)
	}
}

// BeginCycle fences the objects linked so far. Only they are visited by
// the next LockForIter.
func (s *Store) BeginCycle() {
	s.mu.Lock()
	s.cycle = true
	s.last = s.objs.Back()
	s.mu.Unlock()
}

// LockForIter locks the store and returns a cursor at the first object.
// The caller must Close the iterator.
func (s *Store) LockForIter() sweep.ObjectIterator {
	s.mu.Lock()
	it := &Iterator{s: s, cur: s.objs.Front()}
	if s.cycle {
		it.end = s.objs.Front()
		if s.last != nil {
			it.end = s.last.Next()
		}
	}
	return it
}

// Iterator is the locked cursor over a Store.
type Iterator struct {
	s   *Store
	cur *list.Element
	end *list.Element // first object linked during the cycle
}

// Valid reports whether the cursor points at an object.
func (it *Iterator) Valid() bool { return it.cur != nil && it.cur != it.end }

// Object returns the current object.
func (it *Iterator) Object() *object.Object { return it.cur.Value.(*object.Object) }

// Next advances the cursor.
func (it *Iterator) Next() { it.cur = it.cur.Next() }

// EraseAndAdvance unlinks the current object and advances.
func (it *Iterator) EraseAndAdvance() {
	it.unlink()
}

// MoveAndAdvance unlinks the current object into q and advances.
func (it *Iterator) MoveAndAdvance(q *finalizer.Queue) {
	q.Push(it.unlink())
}

// Close ends the cycle started by BeginCycle, if any, and releases the
// store lock.
func (it *Iterator) Close() {
	if it.s == nil {
		return
	}
	if it.s.cycle {
		for e := it.end; e != nil; e = e.Next() {
			e.Value.(*object.Object).TryResetMark()
		}
		it.s.cycle = false
		it.s.last = nil
	}
	it.s.mu.Unlock()
	it.s = nil
}

func (it *Iterator) unlink() *object.Object {
	e := it.cur
	it.cur = e.Next()
	obj := it.s.objs.Remove(e).(*object.Object)
	it.s.objects.Add(-1)
	it.s.bytes.Add(-int64(obj.Size()))
	return obj
}
