package verify

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/kolkov/tracegc/internal/gc/heap"
	"github.com/kolkov/tracegc/internal/gc/mark"
	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/worklist"
)

func randomHeap(seed int64, n int) (*heap.Store, []*object.Object) {
	rng := rand.New(rand.NewSource(seed))
	s := heap.NewStore()
	objs := make([]*object.Object, n)
	for i := range objs {
		objs[i] = s.Allocate("T", 8, 0)
	}
	for _, o := range objs {
		for k := rng.Intn(4); k > 0; k-- {
			o.AppendField(objs[rng.Intn(n)])
		}
	}
	return s, objs
}

// TestMarkMatchesOracle tests marking soundness and completeness against the
// graph oracle, with the root set captured by a Recorder.
func TestMarkMatchesOracle(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		s, objs := randomHeap(seed, 200)
		rng := rand.New(rand.NewSource(-seed))

		wl := worklist.NewFIFO(0)
		rec := NewRecorder(wl)
		for i := 0; i < 4; i++ {
			rec.Enqueue(objs[rng.Intn(len(objs))])
		}
		// Only roots go through the recorder.
		mark.Mark(wl)

		if err := CheckMarks(s, rec.Roots()); err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
	}
}

// TestCheckMarksDetectsMismatch tests both directions of disagreement.
func TestCheckMarksDetectsMismatch(t *testing.T) {
	s := heap.NewStore()
	a := s.Allocate("A", 8, 1)
	b := s.Allocate("B", 8, 0)
	stray := s.Allocate("Stray", 8, 0)
	a.SetField(0, b)

	a.TryMark()     // b left unmarked: missed
	stray.TryMark() // marked but unreachable: leaked

	err := CheckMarks(s, []*object.Object{a})
	var me *MarkError
	if !errors.As(err, &me) {
		t.Fatalf("CheckMarks() = %v, want *MarkError", err)
	}
	got := map[*object.Object]Mismatch{}
	for _, m := range me.Mismatches {
		got[m.Object] = m
	}
	if m, ok := got[b]; !ok || m.Marked || !m.Reachable {
		t.Errorf("missing mismatch for unmarked reachable B: %+v", m)
	}
	if m, ok := got[stray]; !ok || !m.Marked || m.Reachable {
		t.Errorf("missing mismatch for marked unreachable Stray: %+v", m)
	}
	if len(me.Mismatches) != 2 {
		t.Errorf("%d mismatches, want 2", len(me.Mismatches))
	}
}

// TestOracleFollowsWeakCounters tests that the counter of a live owner is
// reachable and that non-heap objects are not traversed.
func TestOracleFollowsWeakCounters(t *testing.T) {
	s := heap.NewStore()
	x := heap.NewExtraStore()
	owner := s.Allocate("Owner", 8, 0)
	weak := heap.NewWeakReference(s, x, owner)

	perm := s.AllocatePermanent("P", 8, 1)
	hidden := s.Allocate("Hidden", 8, 0)
	perm.SetField(0, hidden)
	owner.AppendField(perm)

	g := NewGraph(s)
	reach := g.Reachable([]*object.Object{owner})

	for _, tt := range []struct {
		obj  *object.Object
		want bool
	}{
		{obj: owner, want: true},
		{obj: weak, want: true},
		{obj: hidden, want: false},
	} {
		n, ok := g.NodeOf(tt.obj)
		if !ok {
			t.Fatalf("%v is not a node", tt.obj)
		}
		if reach.Test(n) != tt.want {
			t.Errorf("reachable(%v) = %t, want %t", tt.obj, !tt.want, tt.want)
		}
	}
}

func TestCensus(t *testing.T) {
	s := heap.NewStore()
	// Live cycle r1 <-> r2.
	r1, r2 := s.Allocate("R", 8, 1), s.Allocate("R", 8, 1)
	r1.SetField(0, r2)
	r2.SetField(0, r1)
	// Dead cycle d1 -> d2 -> d3 -> d1.
	d1, d2, d3 := s.Allocate("D", 8, 1), s.Allocate("D", 8, 1), s.Allocate("D", 8, 1)
	d1.SetField(0, d2)
	d2.SetField(0, d3)
	d3.SetField(0, d1)
	// Dead self loop.
	self := s.Allocate("S", 8, 1)
	self.SetField(0, self)
	// Dead acyclic garbage.
	s.Allocate("G", 8, 0)

	rep := Analyze(s, []*object.Object{r1})
	if rep.Objects != 7 || rep.Reachable != 2 || rep.Garbage != 5 {
		t.Errorf("report = %+v", rep)
	}
	want := CyclicGarbage{Components: 2, Objects: 4, Largest: 3}
	if rep.Cyclic != want {
		t.Errorf("Cyclic = %+v, want %+v", rep.Cyclic, want)
	}
}

func TestRootListDoesNotMark(t *testing.T) {
	l := NewRootList()
	o := object.New(1, "T", 8, object.FlagHeap, 0)
	if !l.Enqueue(o) || l.Enqueue(o) {
		t.Fatal("RootList must accept an object exactly once")
	}
	if o.IsMarked() {
		t.Error("RootList marked the object")
	}
	if got := l.Roots(); len(got) != 1 || got[0] != o {
		t.Errorf("Roots() = %v", got)
	}
	l.Clear()
	if !l.IsEmpty() || !l.Enqueue(o) {
		t.Error("Clear must forget seen objects")
	}
}
