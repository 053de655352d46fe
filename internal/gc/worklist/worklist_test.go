package worklist

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kolkov/tracegc/internal/gc/object"
)

func newObjects(n int) []*object.Object {
	objs := make([]*object.Object, n)
	for i := range objs {
		objs[i] = object.New(uint64(i+1), "T", 16, object.FlagHeap, 0)
	}
	return objs
}

// TestEnqueueIsMarkGated tests that every strategy queues an object once per cycle.
func TestEnqueueIsMarkGated(t *testing.T) {
	tests := []struct {
		name string
		wl   Worklist
	}{
		{name: "fifo", wl: NewFIFO(0)},
		{name: "shared", wl: NewShared()},
		{name: "partitioned", wl: NewPartitioned(3)},
		{name: "partitioned worker", wl: NewPartitioned(2).Worker(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs := newObjects(4)
			for _, o := range objs {
				if !tt.wl.Enqueue(o) {
					t.Fatalf("first Enqueue(%v) = false, want true", o)
				}
				if tt.wl.Enqueue(o) {
					t.Fatalf("second Enqueue(%v) = true, want false", o)
				}
				if !o.IsMarked() {
					t.Errorf("%v not marked after Enqueue", o)
				}
			}

			seen := map[*object.Object]bool{}
			for !tt.wl.IsEmpty() {
				o, ok := tt.wl.Dequeue()
				if !ok {
					t.Fatal("Dequeue() = false on non-empty worklist")
				}
				if seen[o] {
					t.Errorf("%v dequeued twice", o)
				}
				seen[o] = true
			}
			if len(seen) != len(objs) {
				t.Errorf("dequeued %d objects, want %d", len(seen), len(objs))
			}
			if _, ok := tt.wl.Dequeue(); ok {
				t.Error("Dequeue() on empty worklist = true")
			}
		})
	}
}

// TestFIFOOrderAndGrowth tests FIFO ordering across ring-buffer growth.
func TestFIFOOrderAndGrowth(t *testing.T) {
	q := NewFIFO(8)
	objs := newObjects(50)

	// Interleave to move head before growing.
	for _, o := range objs[:5] {
		q.Enqueue(o)
	}
	for i := 0; i < 3; i++ {
		if o, _ := q.Dequeue(); o != objs[i] {
			t.Fatalf("Dequeue() = %v, want %v", o, objs[i])
		}
	}
	for _, o := range objs[5:] {
		q.Enqueue(o)
	}
	if q.Len() != 47 {
		t.Fatalf("Len() = %d, want 47", q.Len())
	}
	for i := 3; i < 50; i++ {
		o, ok := q.Dequeue()
		if !ok || o != objs[i] {
			t.Fatalf("Dequeue() = %v, %t, want %v", o, ok, objs[i])
		}
	}
}

// TestClearKeepsMarks tests that Clear drops items but not mark bits.
func TestClearKeepsMarks(t *testing.T) {
	for _, wl := range []Worklist{NewFIFO(0), NewShared(), NewPartitioned(2)} {
		objs := newObjects(3)
		for _, o := range objs {
			wl.Enqueue(o)
		}
		wl.Clear()
		if !wl.IsEmpty() {
			t.Errorf("%T not empty after Clear", wl)
		}
		for _, o := range objs {
			if !o.IsMarked() {
				t.Errorf("%T: Clear reset mark of %v", wl, o)
			}
		}
	}
}

// TestSharedConcurrentProducers tests concurrent Enqueue of overlapping sets.
func TestSharedConcurrentProducers(t *testing.T) {
	s := NewShared()
	objs := newObjects(1000)

	var queued atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, o := range objs {
				if s.Enqueue(o) {
					queued.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if queued.Load() != int64(len(objs)) {
		t.Errorf("queued %d objects, want %d", queued.Load(), len(objs))
	}
}

// TestPartitionedWorkersDrain tests that workers terminate only after all
// work, including work they produce themselves, was consumed.
func TestPartitionedWorkersDrain(t *testing.T) {
	const workers = 4
	p := NewPartitioned(workers)

	// Each seed expands into a chain of children produced while draining.
	const seeds = 16
	const chain = 50
	var nextID atomic.Uint64
	nextID.Store(1 << 20)

	for _, o := range newObjects(seeds) {
		p.Enqueue(o)
	}

	var consumed atomic.Int64
	depth := sync.Map{}

	p.Start()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(view Worklist) {
			defer wg.Done()
			for {
				o, ok := view.Dequeue()
				if !ok {
					return
				}
				consumed.Add(1)
				d := 0
				if v, ok := depth.Load(o); ok {
					d = v.(int)
				}
				if d < chain-1 {
					child := object.New(nextID.Add(1), "C", 8, object.FlagHeap, 0)
					depth.Store(child, d+1)
					view.Enqueue(child)
				}
			}
		}(p.Worker(w))
	}
	wg.Wait()

	if got, want := consumed.Load(), int64(seeds*chain); got != want {
		t.Errorf("consumed %d objects, want %d", got, want)
	}
	if !p.IsEmpty() {
		t.Error("worklist not empty after all workers returned")
	}
}

// BenchmarkFIFO measures enqueue/dequeue throughput of the serial worklist.
func BenchmarkFIFO(b *testing.B) {
	objs := newObjects(1024)
	q := NewFIFO(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, o := range objs {
			o.TryResetMark()
			q.Enqueue(o)
		}
		for !q.IsEmpty() {
			q.Dequeue()
		}
	}
}

// BenchmarkPartitioned measures a single worker view's local fast path.
func BenchmarkPartitioned(b *testing.B) {
	objs := newObjects(1024)
	p := NewPartitioned(4)
	w := p.Worker(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, o := range objs {
			o.TryResetMark()
			w.Enqueue(o)
		}
		for !p.IsEmpty() {
			p.Dequeue()
		}
	}
}
