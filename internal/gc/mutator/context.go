package mutator

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/tracegc/internal/gc/heap"
	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/roots"
)

// Context is the collector-visible state of one mutator thread.
//
// Layout:
//   - TID: registry-assigned thread id, reused after Detach
//   - stack: the thread's stack slots, innermost last
//   - tls: thread-local storage slots
//   - pending: heap objects allocated since the last Publish; the sweeper
//     does not see them yet
//
// Invariant: every object in pending is a heap object created by the
// context's store and not yet linked into it.
//
// Thread Safety: A Context is owned by one mutator goroutine, but the
// collector reads its roots concurrently, so every slot access is locked.
// While the thread is suspended, Allocate and every stack or TLS mutation
// block until the registry resumes it.
type Context struct {
	tid   int
	store *heap.Store
	reg   *Registry

	mu      sync.Mutex
	stack   []*object.Object
	tls     []*object.Object
	pending []*object.Object

	suspended atomic.Bool
	scans     atomic.Uint64
}

var _ roots.Thread = (*Context)(nil)

func newContext(tid int, store *heap.Store, reg *Registry) *Context {
	return &Context{tid: tid, store: store, reg: reg}
}

// park blocks while the thread is suspended for a collection.
func (c *Context) park() {
	if !c.suspended.Load() {
		return
	}
	c.reg.mu.Lock()
	for c.suspended.Load() {
		c.reg.resumed.Wait()
	}
	c.reg.mu.Unlock()
}

// ID returns the thread id.
func (c *Context) ID() int { return c.tid }

// Allocate creates a heap object owned by this thread. The object stays
// private to the thread until the next Publish.
//
// Example:
//
//	obj := ctx.Allocate("Node", 32, 2)
//	ctx.Push(obj) // keep it alive across the next collection
func (c *Context) Allocate(typeName string, size uint64, nfields int) *object.Object {
	c.park()
	obj := c.store.NewObject(typeName, size, object.FlagHeap, nfields)
	c.mu.Lock()
	c.pending = append(c.pending, obj)
	c.mu.Unlock()
	return obj
}

// AllocateStack creates a stack-local object and pushes it.
func (c *Context) AllocateStack(typeName string, size uint64, nfields int) *object.Object {
	c.park()
	obj := c.store.AllocateStack(typeName, size, nfields)
	c.Push(obj)
	return obj
}

// Push appends obj to the stack and returns its slot.
func (c *Context) Push(obj *object.Object) int {
	c.park()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stack = append(c.stack, obj)
	return len(c.stack) - 1
}

// Pop removes the innermost stack slot and returns it.
func (c *Context) Pop() *object.Object {
	c.park()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.stack)
	if n == 0 {
		return nil
	}
	obj := c.stack[n-1]
	c.stack[n-1] = nil
	c.stack = c.stack[:n-1]
	return obj
}

// SetStack overwrites stack slot i.
func (c *Context) SetStack(i int, obj *object.Object) {
	c.park()
	c.mu.Lock()
	c.stack[i] = obj
	c.mu.Unlock()
}

// StackDepth returns the number of stack slots.
func (c *Context) StackDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stack)
}

// AddTLS appends a thread-local slot holding obj and returns its index.
func (c *Context) AddTLS(obj *object.Object) int {
	c.park()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tls = append(c.tls, obj)
	return len(c.tls) - 1
}

// SetTLS overwrites thread-local slot i.
func (c *Context) SetTLS(i int, obj *object.Object) {
	c.park()
	c.mu.Lock()
	c.tls[i] = obj
	c.mu.Unlock()
}

// Pending returns the number of unpublished allocations.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Publish implements roots.Thread. It links the pending allocations into
// the store.
func (c *Context) Publish() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	c.store.Publish(pending...)
}

// OnStoppedForGC implements roots.Thread.
func (c *Context) OnStoppedForGC() {
	c.scans.Add(1)
}

// Scans returns how many times the collector scanned this thread.
func (c *Context) Scans() uint64 { return c.scans.Load() }

// ForEachRoot implements roots.Thread. Stack slots come first.
func (c *Context) ForEachRoot(fn func(roots.Root)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, obj := range c.stack {
		fn(roots.Root{Object: obj, Kind: roots.KindStack})
	}
	for _, obj := range c.tls {
		fn(roots.Root{Object: obj, Kind: roots.KindThreadLocal})
	}
}

// Suspended reports whether the thread is parked for a collection.
func (c *Context) Suspended() bool { return c.suspended.Load() }
