package heap

import (
	"strings"
	"sync"
	"testing"

	"github.com/kolkov/tracegc/internal/gc/finalizer"
	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/stackdepot"
	"github.com/kolkov/tracegc/internal/gc/sweep"
)

func TestAllocateKinds(t *testing.T) {
	s := NewStore()
	h := s.Allocate("H", 24, 1)
	p := s.AllocatePermanent("P", 8, 1)
	st := s.AllocateStack("S", 8, 1)

	if !h.Heap() || !p.Permanent() || !st.Local() {
		t.Fatalf("flags: heap=%t permanent=%t local=%t", h.Heap(), p.Permanent(), st.Local())
	}
	if h.ID() == p.ID() || p.ID() == st.ID() {
		t.Error("identities are not unique")
	}
	objects, bytes := s.Usage()
	if objects != 1 || bytes != 24 {
		t.Errorf("Usage() = %d, %d, want 1, 24", objects, bytes)
	}
	var perm []*object.Object
	s.ForEachPermanent(func(o *object.Object) { perm = append(perm, o) })
	if len(perm) != 1 || perm[0] != p {
		t.Errorf("permanent objects = %v", perm)
	}
}

// TestPublishMakesObjectsVisible tests deferred linking.
func TestPublishMakesObjectsVisible(t *testing.T) {
	s := NewStore()
	a := s.NewObject("A", 8, object.FlagHeap, 0)
	if s.Len() != 0 {
		t.Fatal("unpublished object is visible")
	}
	s.Publish(a)
	var seen []*object.Object
	s.ForEach(func(o *object.Object) { seen = append(seen, o) })
	if len(seen) != 1 || seen[0] != a {
		t.Errorf("ForEach saw %v, want [%v]", seen, a)
	}
}

// TestIteratorEraseAndMove tests the cursor mutation contract.
func TestIteratorEraseAndMove(t *testing.T) {
	s := NewStore()
	objs := []*object.Object{
		s.Allocate("A", 8, 0),
		s.Allocate("B", 16, 0),
		s.Allocate("C", 32, 0),
		s.Allocate("D", 64, 0),
	}
	q := finalizer.NewQueue()

	it := s.LockForIter()
	var order []*object.Object
	for i := 0; it.Valid(); i++ {
		order = append(order, it.Object())
		switch i {
		case 0:
			it.Next()
		case 1:
			it.EraseAndAdvance()
		case 2:
			it.MoveAndAdvance(q)
		default:
			it.Next()
		}
	}
	it.Close()

	for i := range objs {
		if order[i] != objs[i] {
			t.Fatalf("visit order %v, want %v", order, objs)
		}
	}
	if q.Len() != 1 || q.Objects()[0] != objs[2] {
		t.Errorf("queue = %v, want [C]", q.Objects())
	}
	objects, bytes := s.Usage()
	if objects != 2 || bytes != 72 {
		t.Errorf("Usage() = %d, %d, want 2, 72", objects, bytes)
	}
	// The lock is released: allocation must not block.
	s.Allocate("E", 8, 0)
}

// TestBeginCycleFencesNewObjects tests that objects linked during a cycle
// survive its sweep unmarked, and are swept normally by the next one.
func TestBeginCycleFencesNewObjects(t *testing.T) {
	s := NewStore()
	live := s.Allocate("Live", 8, 0)
	dead := s.Allocate("Dead", 8, 0)
	s.BeginCycle()
	live.TryMark()

	fresh := s.Allocate("Fresh", 8, 0)
	reached := s.Allocate("Reached", 8, 0)
	reached.TryMark()

	_, st := sweep.HeapStore(s)
	if st.Kept != 1 || st.Erased != 1 {
		t.Errorf("sweep stats = %+v, want 1 kept and 1 erased", st)
	}
	in := make(map[*object.Object]bool)
	s.ForEach(func(o *object.Object) { in[o] = true })
	for _, o := range []*object.Object{live, fresh, reached} {
		if !in[o] {
			t.Errorf("%v was swept", o)
		}
		if o.IsMarked() {
			t.Errorf("%v still marked after the sweep", o)
		}
	}
	if in[dead] {
		t.Error("unmarked object from before the cycle survived")
	}

	// No cycle in progress: every unmarked object is swept.
	if _, st := sweep.HeapStore(s); st.Erased != 3 {
		t.Errorf("second sweep erased %d, want 3", st.Erased)
	}
}

// TestBeginCycleEmptyStore tests the fence when nothing was linked before
// the cycle.
func TestBeginCycleEmptyStore(t *testing.T) {
	s := NewStore()
	s.BeginCycle()
	s.Allocate("Fresh", 8, 0)
	if _, st := sweep.HeapStore(s); st.Erased != 0 || s.Len() != 1 {
		t.Errorf("sweep erased %d, store has %d objects", st.Erased, s.Len())
	}
}

func TestNewObjectWithIDAdvancesCounter(t *testing.T) {
	s := NewStore()
	s.NewObjectWithID(100, "A", 8, object.FlagHeap, 0)
	if got := s.NewObject("B", 8, object.FlagHeap, 0).ID(); got <= 100 {
		t.Errorf("fresh id %d collides with loaded ids", got)
	}
}

func TestAllocSites(t *testing.T) {
	d := stackdepot.New()
	s := NewStore(WithAllocSites(d))
	obj := s.Allocate("A", 8, 0)
	if obj.AllocSite() == 0 {
		t.Fatal("allocation site not recorded")
	}
	frames := d.Lookup(obj.AllocSite()).Frames()
	if len(frames) == 0 || !strings.HasSuffix(frames[0].Function, "TestAllocSites") {
		t.Errorf("innermost site frame = %v, want TestAllocSites", frames)
	}
}

// TestExtraStoreDeferredDeletion tests that scheduled records stay tracked
// and attached until ProcessDeletions.
func TestExtraStoreDeferredDeletion(t *testing.T) {
	s := NewStore()
	x := NewExtraStore()
	owner := s.Allocate("A", 8, 0)
	weak := NewWeakReference(s, x, owner)
	ed := owner.ExtraData()

	if x.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", x.Len())
	}
	if NewWeakReference(s, x, owner) != weak {
		t.Error("second NewWeakReference returned a new counter")
	}
	if weak.WeakReferent() != owner {
		t.Fatal("weak reference does not resolve")
	}

	x.ScheduleDeletion(ed)
	if x.Len() != 1 || !owner.HasMetaObject() {
		t.Fatal("deletion applied before ProcessDeletions")
	}
	x.ProcessDeletions()
	if x.Len() != 0 || owner.HasMetaObject() {
		t.Error("record survived ProcessDeletions")
	}
	if weak.WeakReferent() != nil {
		t.Error("weak reference resolves after its record was deleted")
	}
	x.ProcessDeletions()
}

func TestExtraIteratorErase(t *testing.T) {
	s := NewStore()
	x := NewExtraStore()
	a, b := s.Allocate("A", 8, 0), s.Allocate("B", 8, 0)
	x.Install(a)
	x.Install(b)
	x.Install(a)

	it := x.LockForIter()
	for it.Valid() {
		if it.Extra().Owner() == a {
			it.EraseAndAdvance()
			continue
		}
		it.Next()
	}
	it.Close()

	var owners []*object.Object
	x.ForEach(func(ed *object.ExtraData) { owners = append(owners, ed.Owner()) })
	if len(owners) != 1 || owners[0] != b {
		t.Errorf("remaining owners = %v, want [B]", owners)
	}
}

// TestExtraBeginCycleSkipsNewRecords tests that records installed during a
// cycle are not visited by its extra sweep.
func TestExtraBeginCycleSkipsNewRecords(t *testing.T) {
	s := NewStore()
	x := NewExtraStore()
	old := s.Allocate("Old", 8, 0)
	x.Install(old)
	x.BeginCycle()
	fresh := s.Allocate("Fresh", 8, 0)
	x.Install(fresh).SetAssociatedObject("foreign")

	sweep.ExtraObjects(x)
	if old.HasMetaObject() {
		t.Error("record of a dead owner from before the cycle survived")
	}
	ed := fresh.ExtraData()
	if ed == nil || !ed.HasAssociatedObject() || ed.Flag(object.FlagInFinalizerQueue) {
		t.Fatal("record installed during the cycle was swept")
	}

	sweep.ExtraObjects(x)
	if !ed.Flag(object.FlagInFinalizerQueue) {
		t.Error("record of a dead owner not detached once the cycle ended")
	}
}

func TestConcurrentAllocate(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Allocate("T", 8, 0)
			}
		}()
	}
	wg.Wait()
	if s.Len() != 1600 {
		t.Errorf("Len() = %d, want 1600", s.Len())
	}
}
