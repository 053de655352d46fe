package worklist

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kolkov/tracegc/internal/gc/object"
)

// Partitioned keeps one local queue per mark worker and lets idle workers
// steal from the others.
//
// Design (after the runtime's per-P gcWork buffers):
//   - producers outside the mark phase (root collection) Enqueue through
//     the Partitioned value itself, which spreads objects round-robin
//   - each mark worker uses its own view from Worker(i): pushes go to the
//     local queue, pops try the local queue first and then steal
//   - termination: a worker with nothing to take leaves the active set and
//     only returns "no work" once no worker is active and every queue is
//     empty; a worker that sees new work rejoins the active set first
//
// Call Start before launching the workers of a mark phase.
//
// Thread Safety: All methods are safe for concurrent calls.
type Partitioned struct {
	locals []local
	next   atomic.Uint32
	active atomic.Int32
}

type local struct {
	mu    sync.Mutex
	items []*object.Object
	size  atomic.Int64
	_     [40]byte // keep neighbouring queues off one cache line
}

// NewPartitioned creates a worklist for the given number of workers.
func NewPartitioned(workers int) *Partitioned {
	if workers < 1 {
		workers = 1
	}
	return &Partitioned{locals: make([]local, workers)}
}

// Workers returns the number of worker partitions.
func (p *Partitioned) Workers() int { return len(p.locals) }

// Start resets the active-worker count for a new mark phase.
func (p *Partitioned) Start() {
	p.active.Store(int32(len(p.locals)))
}

// Worker returns the view used by mark worker i.
func (p *Partitioned) Worker(i int) Worklist {
	return &workerView{p: p, id: i}
}

// Enqueue implements Worklist for producers that are not mark workers.
func (p *Partitioned) Enqueue(obj *object.Object) bool {
	if !obj.TryMark() {
		return false
	}
	i := int(p.next.Add(1)-1) % len(p.locals)
	p.locals[i].push(obj)
	return true
}

// Dequeue implements Worklist for a single consumer. It takes from any
// partition and does not take part in the termination protocol.
func (p *Partitioned) Dequeue() (*object.Object, bool) {
	return p.take(0)
}

// IsEmpty implements Worklist.
func (p *Partitioned) IsEmpty() bool {
	for i := range p.locals {
		if p.locals[i].size.Load() != 0 {
			return false
		}
	}
	return true
}

// Clear implements Worklist.
func (p *Partitioned) Clear() {
	for i := range p.locals {
		l := &p.locals[i]
		l.mu.Lock()
		clear(l.items)
		l.items = l.items[:0]
		l.size.Store(0)
		l.mu.Unlock()
	}
}

// take pops from partition id, then steals from the others in order.
func (p *Partitioned) take(id int) (*object.Object, bool) {
	if obj, ok := p.locals[id].pop(); ok {
		return obj, true
	}
	n := len(p.locals)
	for k := 1; k < n; k++ {
		if obj, ok := p.locals[(id+k)%n].steal(); ok {
			return obj, true
		}
	}
	return nil, false
}

func (l *local) push(obj *object.Object) {
	l.mu.Lock()
	l.items = append(l.items, obj)
	l.size.Add(1)
	l.mu.Unlock()
}

// pop takes the most recently pushed object (depth-first locality).
func (l *local) pop() (*object.Object, bool) {
	if l.size.Load() == 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.items)
	if n == 0 {
		return nil, false
	}
	obj := l.items[n-1]
	l.items[n-1] = nil
	l.items = l.items[:n-1]
	l.size.Add(-1)
	return obj, true
}

// steal takes the oldest object, away from the owner's end.
func (l *local) steal() (*object.Object, bool) {
	if l.size.Load() == 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil, false
	}
	obj := l.items[0]
	l.items[0] = nil
	l.items = l.items[1:]
	l.size.Add(-1)
	return obj, true
}

type workerView struct {
	p  *Partitioned
	id int
}

func (w *workerView) Enqueue(obj *object.Object) bool {
	if !obj.TryMark() {
		return false
	}
	w.p.locals[w.id].push(obj)
	return true
}

func (w *workerView) Dequeue() (*object.Object, bool) {
	p := w.p
	for {
		if obj, ok := p.take(w.id); ok {
			return obj, true
		}
		p.active.Add(-1)
		for {
			// Order matters: a worker pushes before it leaves the active
			// set, so reading active first and the queues second cannot
			// miss work pushed by the last active worker.
			if p.active.Load() <= 0 && p.IsEmpty() {
				return nil, false
			}
			if !p.IsEmpty() {
				p.active.Add(1)
				break
			}
			runtime.Gosched()
		}
	}
}

func (w *workerView) IsEmpty() bool { return w.p.IsEmpty() }

func (w *workerView) Clear() { w.p.Clear() }
