// Package mutator provides the reference mutator thread registry.
//
// A real runtime owns thread registration and the safepoint protocol; this
// package models only what the collector observes: a set of threads with
// roots, a publish step for thread-private allocations and suspension. A
// suspended thread blocks in its next mutation until ResumeAll.
package mutator

import (
	"sync"

	"github.com/kolkov/tracegc/internal/gc/heap"
	"github.com/kolkov/tracegc/internal/gc/roots"
)

// Registry tracks attached mutator threads.
//
// Thread ids come from a reuse pool: a detached thread's id is handed out
// again, lowest first, so ids stay small for long-running hosts.
//
// Thread Safety: All methods are safe for concurrent calls. ForEachThread
// holds the registry lock while iterating; Attach and Detach block
// meanwhile.
type Registry struct {
	mu      sync.Mutex
	threads []*Context // attach order
	freeTID []int
	nextTID int
	paused  bool
	resumed *sync.Cond // signalled by ResumeAll
}

var _ roots.ThreadRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.resumed = sync.NewCond(&r.mu)
	return r
}

// Attach registers a new thread allocating into store. A thread attached
// between SuspendAll and ResumeAll starts suspended: it blocks in its first
// mutation until ResumeAll.
func (r *Registry) Attach(store *heap.Store) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx := newContext(r.allocTID(), store, r)
	ctx.suspended.Store(r.paused)
	r.threads = append(r.threads, ctx)
	return ctx
}

// Detach unregisters ctx. Its pending allocations are published first so
// they are swept with the rest of the heap; its roots are dropped.
func (r *Registry) Detach(ctx *Context) {
	ctx.Publish()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.threads {
		if t == ctx {
			r.threads = append(r.threads[:i], r.threads[i+1:]...)
			r.freeTIDLocked(ctx.tid)
			return
		}
	}
}

// Len returns the number of attached threads.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

// ForEachThread implements roots.ThreadRegistry.
func (r *Registry) ForEachThread(fn func(roots.Thread)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.threads {
		fn(t)
	}
}

// Threads returns a snapshot of the attached threads in attach order.
func (r *Registry) Threads() []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Context(nil), r.threads...)
}

// SuspendAll suspends every attached thread and returns how many were
// suspended.
func (r *Registry) SuspendAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
	for _, t := range r.threads {
		t.suspended.Store(true)
	}
	return len(r.threads)
}

// ResumeAll releases every suspended thread.
func (r *Registry) ResumeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
	for _, t := range r.threads {
		t.suspended.Store(false)
	}
	r.resumed.Broadcast()
}

// Suspended is a root filter accepting only suspended threads.
func Suspended(t roots.Thread) bool {
	c, ok := t.(*Context)
	return ok && c.Suspended()
}

// All is a root filter accepting every thread.
func All(roots.Thread) bool { return true }

// allocTID pops the lowest free id, or mints a new one.
func (r *Registry) allocTID() int {
	if n := len(r.freeTID); n > 0 {
		lowest := 0
		for i := 1; i < n; i++ {
			if r.freeTID[i] < r.freeTID[lowest] {
				lowest = i
			}
		}
		tid := r.freeTID[lowest]
		r.freeTID[lowest] = r.freeTID[n-1]
		r.freeTID = r.freeTID[:n-1]
		return tid
	}
	tid := r.nextTID
	r.nextTID++
	return tid
}

func (r *Registry) freeTIDLocked(tid int) {
	r.freeTID = append(r.freeTID, tid)
}
