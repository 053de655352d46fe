package object

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/tracegc/internal/gc/invariant"
)

// ExtraFlag is a bit in an ExtraData flag word.
type ExtraFlag uint32

const (
	// FlagInFinalizerQueue is set once the owner was found dead and the
	// record is waiting for the owner's finalizer to run. The record must
	// stay resolvable until then.
	FlagInFinalizerQueue ExtraFlag = 1 << iota
)

// ExtraData is the out-of-band record optionally attached to a heap object.
//
// It carries:
//   - the weak reference counter of the owner (a heap object whose weak
//     slot points back at the owner)
//   - flags, notably FlagInFinalizerQueue
//   - an optional associated foreign object
//
// Records live in an extra-data store (see package heap) independently of
// the owner's own store entry, so the sweeper visits them in a separate pass.
//
// Thread Safety: Flags and weak counter are atomic. The associated object is
// guarded by mu.
type ExtraData struct {
	owner       *Object
	flags       atomic.Uint32
	weakCounter atomic.Pointer[Object]

	mu         sync.Mutex
	associated any
	detached   any
}

// Install attaches a fresh ExtraData record to o, or returns the one
// already attached. Only heap objects may carry extra data.
func Install(o *Object) *ExtraData {
	invariant.Assert(!IsNullOrMarker(o), "installing extra data on invalid reference %p", o)
	invariant.Assert(o.Heap(), "non-heap object %v may not have extra object data (permanent=%t local=%t)",
		o, o.Permanent(), o.Local())
	if ed := o.extra.Load(); ed != nil {
		return ed
	}
	ed := &ExtraData{owner: o}
	if o.extra.CompareAndSwap(nil, ed) {
		return ed
	}
	return o.extra.Load()
}

// Owner returns the object this record is attached to.
func (ed *ExtraData) Owner() *Object { return ed.owner }

// Flag reports whether f is set.
func (ed *ExtraData) Flag(f ExtraFlag) bool {
	return ExtraFlag(ed.flags.Load())&f != 0
}

// SetFlag sets f.
func (ed *ExtraData) SetFlag(f ExtraFlag) {
	ed.flags.Or(uint32(f))
}

// ClearFlag clears f.
func (ed *ExtraData) ClearFlag(f ExtraFlag) {
	ed.flags.And(^uint32(f))
}

// WeakReferenceCounter returns the owner's weak reference counter, or nil.
func (ed *ExtraData) WeakReferenceCounter() *Object {
	return ed.weakCounter.Load()
}

// GetOrSetWeakReferenceCounter installs counter unless another counter is
// already present, and returns the counter in effect.
func (ed *ExtraData) GetOrSetWeakReferenceCounter(counter *Object) *Object {
	invariant.Assert(counter.Heap(), "weak counter %v must be a heap object", counter)
	if ed.weakCounter.CompareAndSwap(nil, counter) {
		return counter
	}
	return ed.weakCounter.Load()
}

// ClearWeakReferenceCounter invalidates the counter so every weak reference
// to the owner resolves to nil from now on, then forgets it.
func (ed *ExtraData) ClearWeakReferenceCounter() {
	if c := ed.weakCounter.Swap(nil); c != nil {
		c.weak.Store(nil)
	}
}

// SetAssociatedObject attaches a foreign object.
func (ed *ExtraData) SetAssociatedObject(v any) {
	ed.mu.Lock()
	ed.associated = v
	ed.mu.Unlock()
}

// AssociatedObject returns the attached foreign object, or nil.
func (ed *ExtraData) AssociatedObject() any {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.associated
}

// HasAssociatedObject reports whether a foreign object is attached.
func (ed *ExtraData) HasAssociatedObject() bool {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.associated != nil
}

// DetachAssociatedObject unlinks the foreign object from the record and
// parks it until TakeDetached hands it to the finalizer.
func (ed *ExtraData) DetachAssociatedObject() {
	ed.mu.Lock()
	ed.detached, ed.associated = ed.associated, nil
	ed.mu.Unlock()
}

// TakeDetached returns and forgets the object parked by
// DetachAssociatedObject.
func (ed *ExtraData) TakeDetached() any {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	v := ed.detached
	ed.detached = nil
	return v
}

// Uninstall detaches the record from its owner. It is a no-op when the
// owner already carries a different record.
func (ed *ExtraData) Uninstall() {
	ed.owner.extra.CompareAndSwap(ed, nil)
}
