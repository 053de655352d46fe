// Package object defines the heap object reference model the collector
// traverses.
//
// The concrete allocator is a collaborator of the collector, not part of
// it; this package only fixes the handle type and the per-object state the
// collector reads and writes: allocation-kind flags, outgoing references,
// the mark bit and the optional out-of-band ExtraData record.
package object

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Flags describe where an object lives.
type Flags uint8

const (
	// FlagHeap marks objects owned by the collected heap.
	FlagHeap Flags = 1 << iota
	// FlagPermanent marks objects in the permanent (never collected) area.
	FlagPermanent
	// FlagStackLocal marks objects allocated on a mutator stack.
	FlagStackLocal
)

// Object is an opaque handle to a managed object.
//
// Layout:
//   - identity and size are fixed at allocation
//   - fields are the outgoing references, guarded by mu
//   - marked is the collector's mark bit, flipped only with CAS
//   - extra points to the optional ExtraData record
//   - weak is the referent slot used only by weak reference counters
//
// Thread Safety: Field accessors lock the object; mark bit and ExtraData
// accessors are atomic. Identity accessors read immutable state.
type Object struct {
	id        uint64
	typeName  string
	size      uint64
	flags     Flags
	allocSite uint64

	hasFinalizer bool
	finalizer    func(*Object)

	mu     sync.Mutex
	fields []*Object

	marked atomic.Bool
	extra  atomic.Pointer[ExtraData]
	weak   atomic.Pointer[Object]
}

// Marker is the sentinel reference that may appear in slots but must never
// be traversed or enqueued.
var Marker = &Object{typeName: "<marker>"}

// IsNullOrMarker reports whether o is nil or the Marker sentinel.
//
//go:nosplit
func IsNullOrMarker(o *Object) bool {
	return o == nil || o == Marker
}

// New creates an object with nfields empty reference slots.
//
// New does not register the object with any store; allocators call it and
// then link the result into their own bookkeeping.
func New(id uint64, typeName string, size uint64, flags Flags, nfields int) *Object {
	return &Object{
		id:       id,
		typeName: typeName,
		size:     size,
		flags:    flags,
		fields:   make([]*Object, nfields),
	}
}

// ID returns the allocator-assigned identifier.
func (o *Object) ID() uint64 { return o.id }

// TypeName returns the object's type name.
func (o *Object) TypeName() string { return o.typeName }

// Size returns the allocated size in bytes.
func (o *Object) Size() uint64 { return o.size }

// Flags returns the allocation-kind flags.
func (o *Object) Flags() Flags { return o.flags }

// Heap reports whether the object belongs to the collected heap.
func (o *Object) Heap() bool { return o.flags&FlagHeap != 0 }

// Permanent reports whether the object lives in the permanent area.
func (o *Object) Permanent() bool { return o.flags&FlagPermanent != 0 }

// Local reports whether the object is stack-allocated.
func (o *Object) Local() bool { return o.flags&FlagStackLocal != 0 }

// AllocSite returns the stack depot hash of the allocation site, or 0.
func (o *Object) AllocSite() uint64 { return o.allocSite }

// SetAllocSite records the allocation site. Call before publishing o.
func (o *Object) SetAllocSite(hash uint64) { o.allocSite = hash }

// SetFinalizer declares that o needs finalization before its memory can be
// reclaimed. fn may be nil: the object is then queued but nothing runs.
// Call before publishing o.
func (o *Object) SetFinalizer(fn func(*Object)) {
	o.hasFinalizer = true
	o.finalizer = fn
}

// Finalizer returns the declared finalizer callback, if any.
func (o *Object) Finalizer() func(*Object) { return o.finalizer }

// NumFields returns the number of reference slots.
func (o *Object) NumFields() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.fields)
}

// Field returns the reference stored in slot i.
func (o *Object) Field(i int) *Object {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fields[i]
}

// SetField stores v into slot i.
func (o *Object) SetField(i int, v *Object) {
	o.mu.Lock()
	o.fields[i] = v
	o.mu.Unlock()
}

// AppendField grows the object by one slot holding v and returns its index.
func (o *Object) AppendField(v *Object) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fields = append(o.fields, v)
	return len(o.fields) - 1
}

// TraverseReferred calls fn for every non-nil reference slot, in slot order.
//
// fn runs with o's field lock held: it must not call back into o's field
// accessors. The collector's callbacks only enqueue, which never locks
// objects.
func (o *Object) TraverseReferred(fn func(*Object)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range o.fields {
		if f != nil {
			fn(f)
		}
	}
}

// TryMark sets the mark bit. It returns true only for the caller that
// flipped it, which makes it the gate for idempotent enqueueing.
//
//go:nosplit
func (o *Object) TryMark() bool {
	return o.marked.CompareAndSwap(false, true)
}

// TryResetMark clears the mark bit and reports whether it was set.
//
//go:nosplit
func (o *Object) TryResetMark() bool {
	return o.marked.CompareAndSwap(true, false)
}

// IsMarked reports the mark bit.
func (o *Object) IsMarked() bool {
	return o.marked.Load()
}

// ExtraData returns the attached out-of-band record, or nil.
func (o *Object) ExtraData() *ExtraData {
	return o.extra.Load()
}

// HasMetaObject reports whether an ExtraData record is attached.
func (o *Object) HasMetaObject() bool {
	return o.extra.Load() != nil
}

// WeakReferent returns the referent of a weak reference counter, or nil
// once the referent was collected.
func (o *Object) WeakReferent() *Object {
	return o.weak.Load()
}

// NewWeakCounter turns counter into the weak reference counter of referent.
// The referent is held in a slot the marker never traverses.
func NewWeakCounter(counter, referent *Object) *Object {
	counter.weak.Store(referent)
	return counter
}

// HasFinalizers reports whether o must pass through the finalizer queue
// before being reclaimed: it declared a finalizer, or its ExtraData still
// owns (or has just detached) an associated foreign object.
func HasFinalizers(o *Object) bool {
	if o.hasFinalizer {
		return true
	}
	ed := o.extra.Load()
	return ed != nil && (ed.HasAssociatedObject() || ed.Flag(FlagInFinalizerQueue))
}

// String returns "Type#id" for debugging output.
func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	if o == Marker {
		return "<marker>"
	}
	return o.typeName + "#" + strconv.FormatUint(o.id, 10)
}
