package mark

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/kolkov/tracegc/internal/gc/invariant"
	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/worklist"
)

func heapObj(id uint64, nfields int) *object.Object {
	return object.New(id, "T", 16, object.FlagHeap, nfields)
}

// randomGraph builds n heap objects with up to maxOut references each.
func randomGraph(seed int64, n, maxOut int) []*object.Object {
	rng := rand.New(rand.NewSource(seed))
	objs := make([]*object.Object, n)
	for i := range objs {
		objs[i] = heapObj(uint64(i+1), 0)
	}
	for _, o := range objs {
		for k := rng.Intn(maxOut + 1); k > 0; k-- {
			o.AppendField(objs[rng.Intn(n)])
		}
	}
	return objs
}

// reachable computes the expected live set by plain BFS.
func reachable(roots []*object.Object) map[*object.Object]bool {
	seen := map[*object.Object]bool{}
	queue := append([]*object.Object(nil), roots...)
	for _, r := range roots {
		seen[r] = true
	}
	for len(queue) > 0 {
		o := queue[0]
		queue = queue[1:]
		o.TraverseReferred(func(f *object.Object) {
			if !object.IsNullOrMarker(f) && f.Heap() && !seen[f] {
				seen[f] = true
				queue = append(queue, f)
			}
		})
	}
	return seen
}

// TestMarkSimpleChain tests the A references B scenario.
func TestMarkSimpleChain(t *testing.T) {
	a := heapObj(1, 1)
	b := heapObj(2, 0)
	a.SetField(0, b)

	wl := worklist.NewFIFO(0)
	wl.Enqueue(a)
	stats := Mark(wl)

	if stats.AliveHeapSet != 2 {
		t.Errorf("AliveHeapSet = %d, want 2", stats.AliveHeapSet)
	}
	if stats.AliveHeapSetBytes != 32 {
		t.Errorf("AliveHeapSetBytes = %d, want 32", stats.AliveHeapSetBytes)
	}
	if !a.IsMarked() || !b.IsMarked() {
		t.Error("A and B must both be marked")
	}
	if !wl.IsEmpty() {
		t.Error("worklist not empty after Mark")
	}
}

// TestMarkSkipsNonHeapAndSentinels tests that permanent referents and the
// marker are never enqueued.
func TestMarkSkipsNonHeapAndSentinels(t *testing.T) {
	perm := object.New(100, "P", 8, object.FlagPermanent, 0)
	a := heapObj(1, 3)
	a.SetField(0, perm)
	a.SetField(1, object.Marker)

	wl := worklist.NewFIFO(0)
	wl.Enqueue(a)
	stats := Mark(wl)

	if stats.AliveHeapSet != 1 {
		t.Errorf("AliveHeapSet = %d, want 1", stats.AliveHeapSet)
	}
	if perm.IsMarked() {
		t.Error("permanent referent was marked")
	}
}

// TestMarkKeepsWeakCounterAlive tests that a live owner keeps its counter.
func TestMarkKeepsWeakCounterAlive(t *testing.T) {
	owner := heapObj(1, 0)
	counter := object.NewWeakCounter(heapObj(2, 0), owner)
	object.Install(owner).GetOrSetWeakReferenceCounter(counter)

	wl := worklist.NewFIFO(0)
	wl.Enqueue(owner)
	stats := Mark(wl)

	if !counter.IsMarked() {
		t.Error("weak counter of live owner not marked")
	}
	if stats.AliveHeapSet != 2 {
		t.Errorf("AliveHeapSet = %d, want 2", stats.AliveHeapSet)
	}
}

// TestMarkOneDoesNotAllocate tests that the per-object checks cost no
// allocation.
func TestMarkOneDoesNotAllocate(t *testing.T) {
	obj := heapObj(1, 2)
	wl := worklist.NewFIFO(0)
	var stats Stats
	allocs := testing.AllocsPerRun(100, func() {
		markOne(wl, obj, &stats)
	})
	if allocs != 0 {
		t.Errorf("markOne allocated %.1f times per object, want 0", allocs)
	}
}

// TestMarkCountsEachObjectOnce tests cycles and shared referents.
func TestMarkCountsEachObjectOnce(t *testing.T) {
	a, b, c := heapObj(1, 2), heapObj(2, 1), heapObj(3, 1)
	a.SetField(0, b)
	a.SetField(1, c)
	b.SetField(0, c)
	c.SetField(0, a)

	wl := worklist.NewFIFO(0)
	wl.Enqueue(a)
	if got := Mark(wl).AliveHeapSet; got != 3 {
		t.Errorf("AliveHeapSet = %d, want 3", got)
	}
}

// TestMarkRejectsInvalidEntries tests the fatal assertions on queue entries.
func TestMarkRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		obj  *object.Object
	}{
		{name: "permanent", obj: object.New(1, "P", 8, object.FlagPermanent, 0)},
		{name: "stack", obj: object.New(2, "S", 8, object.FlagStackLocal, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wl := worklist.NewFIFO(0)
			wl.Enqueue(tt.obj)
			defer func() {
				if invariant.Recover(recover()) == nil {
					t.Fatal("expected invariant violation")
				}
			}()
			Mark(wl)
		})
	}
}

// TestMarkSoundAndComplete tests random graphs against a BFS oracle for
// every worklist strategy.
func TestMarkSoundAndComplete(t *testing.T) {
	strategies := []struct {
		name string
		mark func(objs []*object.Object, roots []*object.Object) Stats
	}{
		{name: "serial", mark: func(_, roots []*object.Object) Stats {
			wl := worklist.NewFIFO(0)
			for _, r := range roots {
				wl.Enqueue(r)
			}
			return Mark(wl)
		}},
		{name: "incremental", mark: func(_, roots []*object.Object) Stats {
			wl := worklist.NewFIFO(0)
			for _, r := range roots {
				wl.Enqueue(r)
			}
			var total Stats
			for {
				s, done := Incremental(wl, 7)
				total.Merge(s)
				if done {
					return total
				}
			}
		}},
		{name: "parallel", mark: func(_, roots []*object.Object) Stats {
			p := worklist.NewPartitioned(4)
			for _, r := range roots {
				p.Enqueue(r)
			}
			s, err := Parallel(context.Background(), p)
			if err != nil {
				panic(err)
			}
			return s
		}},
	}

	for _, st := range strategies {
		t.Run(st.name, func(t *testing.T) {
			for seed := int64(1); seed <= 20; seed++ {
				objs := randomGraph(seed, 300, 3)
				rng := rand.New(rand.NewSource(seed * 31))
				var roots []*object.Object
				for i := 0; i < 5; i++ {
					roots = append(roots, objs[rng.Intn(len(objs))])
				}
				want := reachable(roots)

				stats := st.mark(objs, roots)

				if stats.AliveHeapSet != uint64(len(want)) {
					t.Errorf("seed %d: AliveHeapSet = %d, want %d", seed, stats.AliveHeapSet, len(want))
				}
				for _, o := range objs {
					if o.IsMarked() != want[o] {
						t.Errorf("seed %d: %v marked=%t, reachable=%t", seed, o, o.IsMarked(), want[o])
					}
				}
			}
		})
	}
}

// TestParallelHonoursCancelledContext tests that no worker starts.
func TestParallelHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := worklist.NewPartitioned(2)
	a := heapObj(1, 0)
	p.Enqueue(a)
	if _, err := Parallel(ctx, p); !errors.Is(err, context.Canceled) {
		t.Fatalf("Parallel() error = %v, want context.Canceled", err)
	}
	if p.IsEmpty() {
		t.Error("cancelled Parallel drained the worklist")
	}
}

func TestStatsMergeAndRootSetSize(t *testing.T) {
	s := Stats{AliveHeapSet: 1, AliveHeapSetBytes: 8, ThreadLocalRoots: 2, StackRoots: 3}
	s.Merge(Stats{AliveHeapSet: 2, AliveHeapSetBytes: 16, GlobalRoots: 4, StableRoots: 1})

	want := Stats{
		AliveHeapSet: 3, AliveHeapSetBytes: 24,
		ThreadLocalRoots: 2, StackRoots: 3, GlobalRoots: 4, StableRoots: 1,
	}
	if s != want {
		t.Errorf("Merge result = %+v, want %+v", s, want)
	}
	if got := s.RootSetSize(); got != 10 {
		t.Errorf("RootSetSize() = %d, want 10", got)
	}
}

// BenchmarkMark measures serial marking of a random graph.
func BenchmarkMark(b *testing.B) {
	objs := randomGraph(42, 10000, 4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, o := range objs {
			o.TryResetMark()
		}
		wl := worklist.NewFIFO(len(objs))
		wl.Enqueue(objs[0])
		Mark(wl)
	}
}

// BenchmarkParallel measures partitioned marking with four workers.
func BenchmarkParallel(b *testing.B) {
	objs := randomGraph(42, 10000, 4)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, o := range objs {
			o.TryResetMark()
		}
		p := worklist.NewPartitioned(4)
		p.Enqueue(objs[0])
		if _, err := Parallel(ctx, p); err != nil {
			b.Fatal(err)
		}
	}
}
