// Package stableref implements stable references: roots handed to foreign
// code that keep an object alive until explicitly disposed.
package stableref

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/roots"
)

// Handle identifies a stable reference. The zero Handle is never issued.
type Handle uint64

// Registry owns every live stable reference.
//
// Disposal is deferred: Dispose only queues the handle, and the reference
// keeps its object alive until ProcessDeletions runs at the start of the
// next root scan. Foreign code may therefore dispose from any thread without
// racing a root scan in progress.
//
// Thread Safety: All methods are safe for concurrent calls.
//
// Example:
//
//	reg := stableref.NewRegistry()
//	h := reg.Create(obj)   // obj is now a root
//	reg.Dispose(h)         // still a root until the next collection
type Registry struct {
	refs sync.Map // Handle -> *object.Object
	next atomic.Uint64
	live atomic.Int64

	mu      sync.Mutex
	pending []Handle
}

var _ roots.StableRefSet = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Create registers obj as a root and returns its handle.
func (r *Registry) Create(obj *object.Object) Handle {
	h := Handle(r.next.Add(1))
	r.refs.Store(h, obj)
	r.live.Add(1)
	return h
}

// Get returns the object behind h, or nil once h was reclaimed.
func (r *Registry) Get(h Handle) *object.Object {
	v, ok := r.refs.Load(h)
	if !ok {
		return nil
	}
	return v.(*object.Object)
}

// Dispose schedules h for removal at the next ProcessDeletions.
func (r *Registry) Dispose(h Handle) {
	r.mu.Lock()
	r.pending = append(r.pending, h)
	r.mu.Unlock()
}

// ProcessDeletions implements roots.StableRefSet.
func (r *Registry) ProcessDeletions() {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, h := range pending {
		if _, ok := r.refs.LoadAndDelete(h); ok {
			r.live.Add(-1)
		}
	}
}

// ForEachStableRef implements roots.StableRefSet.
func (r *Registry) ForEachStableRef(fn func(*object.Object)) {
	r.refs.Range(func(_, v any) bool {
		fn(v.(*object.Object))
		return true
	})
}

// Len returns the number of live references, including disposed ones not
// yet processed.
func (r *Registry) Len() int {
	return int(r.live.Load())
}
