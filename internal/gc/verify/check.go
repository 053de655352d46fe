package verify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/worklist"
)

// Recorder wraps a worklist and remembers every object it accepted. Hand
// it to root collection to learn the exact grey set the marker starts from.
//
// Thread Safety: Safe for concurrent producers when the wrapped worklist
// is.
type Recorder struct {
	worklist.Worklist

	mu    sync.Mutex
	roots []*object.Object
}

// NewRecorder wraps wl.
func NewRecorder(wl worklist.Worklist) *Recorder {
	return &Recorder{Worklist: wl}
}

// Enqueue implements worklist.Worklist.
func (r *Recorder) Enqueue(obj *object.Object) bool {
	if !r.Worklist.Enqueue(obj) {
		return false
	}
	r.mu.Lock()
	r.roots = append(r.roots, obj)
	r.mu.Unlock()
	return true
}

// Roots returns the recorded objects in acceptance order.
func (r *Recorder) Roots() []*object.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*object.Object(nil), r.roots...)
}

// Mismatch is one object whose mark bit disagrees with the oracle.
type Mismatch struct {
	Object    *object.Object
	Marked    bool
	Reachable bool
}

// MarkError reports every mismatch of a mark check.
type MarkError struct {
	Mismatches []Mismatch
}

// Error implements the error interface.
func (e *MarkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "checkmark: %d objects disagree with reachability", len(e.Mismatches))
	for i, m := range e.Mismatches {
		if i == 8 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; %v marked=%t reachable=%t", m.Object, m.Marked, m.Reachable)
	}
	return b.String()
}

// CheckMarks compares mark bits in src against reachability from roots.
// It must run after marking and before sweeping resets the bits. It
// returns a *MarkError on any mismatch.
func CheckMarks(src ObjectSource, roots []*object.Object) error {
	g := NewGraph(src)
	reach := g.Reachable(roots)
	var errs []Mismatch
	for i := 0; i < g.NumNodes(); i++ {
		o := g.Node(i)
		if marked, r := o.IsMarked(), reach.Test(i); marked != r {
			errs = append(errs, Mismatch{Object: o, Marked: marked, Reachable: r})
		}
	}
	if len(errs) > 0 {
		return &MarkError{Mismatches: errs}
	}
	return nil
}

// Report summarizes a heap against a root set without touching mark bits.
type Report struct {
	Objects   int
	Reachable int
	Garbage   int
	Cyclic    CyclicGarbage
}

// Analyze computes a Report for src and roots.
func Analyze(src ObjectSource, roots []*object.Object) Report {
	g := NewGraph(src)
	reach := g.Reachable(roots)
	r := Report{Objects: g.NumNodes()}
	for i := 0; i < g.NumNodes(); i++ {
		if reach.Test(i) {
			r.Reachable++
		}
	}
	r.Garbage = r.Objects - r.Reachable
	r.Cyclic = g.Census(reach)
	return r
}

// RootList is a worklist that only collects what root enumeration offers
// it. It never touches mark bits, so a heap can be analyzed without
// disturbing a later collection.
//
// Thread Safety: Not safe for concurrent use.
type RootList struct {
	seen map[*object.Object]bool
	objs []*object.Object
}

var _ worklist.Worklist = (*RootList)(nil)

// NewRootList creates an empty list.
func NewRootList() *RootList {
	return &RootList{seen: make(map[*object.Object]bool)}
}

// Enqueue implements worklist.Worklist. Duplicates are rejected.
func (l *RootList) Enqueue(obj *object.Object) bool {
	if l.seen[obj] {
		return false
	}
	l.seen[obj] = true
	l.objs = append(l.objs, obj)
	return true
}

// Dequeue implements worklist.Worklist.
func (l *RootList) Dequeue() (*object.Object, bool) {
	if len(l.objs) == 0 {
		return nil, false
	}
	obj := l.objs[0]
	l.objs = l.objs[1:]
	return obj, true
}

// IsEmpty implements worklist.Worklist.
func (l *RootList) IsEmpty() bool { return len(l.objs) == 0 }

// Clear implements worklist.Worklist.
func (l *RootList) Clear() {
	l.objs = nil
	clear(l.seen)
}

// Roots returns the collected objects in order.
func (l *RootList) Roots() []*object.Object {
	return append([]*object.Object(nil), l.objs...)
}
