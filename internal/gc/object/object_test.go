package object

import (
	"errors"
	"testing"

	"github.com/kolkov/tracegc/internal/gc/invariant"
)

func expectViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected invariant violation, got none")
		}
		v := invariant.Recover(r)
		if v == nil {
			t.Fatalf("panic value %v is not a *invariant.Violation", r)
		}
		var target *invariant.Violation
		if !errors.As(error(v), &target) {
			t.Fatalf("errors.As failed for %v", v)
		}
	}()
	fn()
}

// TestMarkBit tests CAS semantics of the mark bit.
func TestMarkBit(t *testing.T) {
	o := New(1, "T", 8, FlagHeap, 0)
	if o.IsMarked() {
		t.Fatal("new object is marked")
	}
	if !o.TryMark() {
		t.Fatal("first TryMark() = false")
	}
	if o.TryMark() {
		t.Fatal("second TryMark() = true")
	}
	if !o.TryResetMark() {
		t.Fatal("TryResetMark() on marked object = false")
	}
	if o.TryResetMark() {
		t.Fatal("TryResetMark() on unmarked object = true")
	}
}

// TestTraverseReferredSkipsNil tests slot iteration order and nil skipping.
func TestTraverseReferredSkipsNil(t *testing.T) {
	a := New(1, "A", 8, FlagHeap, 3)
	b := New(2, "B", 8, FlagHeap, 0)
	c := New(3, "C", 8, FlagHeap, 0)
	a.SetField(0, b)
	a.SetField(2, c)
	a.AppendField(Marker)

	var got []*Object
	a.TraverseReferred(func(o *Object) { got = append(got, o) })

	want := []*Object{b, c, Marker}
	if len(got) != len(want) {
		t.Fatalf("visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("slot %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestInstallExtraData tests that install is idempotent and heap-only.
func TestInstallExtraData(t *testing.T) {
	o := New(1, "T", 8, FlagHeap, 0)
	ed := Install(o)
	if ed.Owner() != o || o.ExtraData() != ed || !o.HasMetaObject() {
		t.Fatal("Install did not link record and owner")
	}
	if Install(o) != ed {
		t.Error("second Install returned a different record")
	}

	tests := []struct {
		name string
		obj  *Object
	}{
		{name: "permanent", obj: New(2, "P", 8, FlagPermanent, 0)},
		{name: "stack", obj: New(3, "S", 8, FlagStackLocal, 0)},
		{name: "nil", obj: nil},
		{name: "marker", obj: Marker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectViolation(t, func() { Install(tt.obj) })
		})
	}
}

// TestWeakCounterClearing tests that clearing the counter nulls the referent.
func TestWeakCounterClearing(t *testing.T) {
	owner := New(1, "T", 8, FlagHeap, 0)
	counter := NewWeakCounter(New(2, "WeakRef", 8, FlagHeap, 0), owner)
	ed := Install(owner)

	if got := ed.GetOrSetWeakReferenceCounter(counter); got != counter {
		t.Fatalf("GetOrSetWeakReferenceCounter = %v, want %v", got, counter)
	}
	other := New(3, "WeakRef", 8, FlagHeap, 0)
	if got := ed.GetOrSetWeakReferenceCounter(other); got != counter {
		t.Errorf("second GetOrSet = %v, want existing %v", got, counter)
	}
	if counter.WeakReferent() != owner {
		t.Fatal("counter does not resolve to owner")
	}

	ed.ClearWeakReferenceCounter()
	if counter.WeakReferent() != nil {
		t.Error("weak referent still resolvable after clear")
	}
	if ed.WeakReferenceCounter() != nil {
		t.Error("record still holds counter after clear")
	}
	ed.ClearWeakReferenceCounter() // no-op
}

// TestHasFinalizers tests every way an object becomes finalizable.
func TestHasFinalizers(t *testing.T) {
	plain := New(1, "T", 8, FlagHeap, 0)
	if HasFinalizers(plain) {
		t.Error("plain object reported finalizable")
	}

	declared := New(2, "T", 8, FlagHeap, 0)
	declared.SetFinalizer(nil)
	if !HasFinalizers(declared) {
		t.Error("object with declared finalizer not finalizable")
	}

	assoc := New(3, "T", 8, FlagHeap, 0)
	ed := Install(assoc)
	if HasFinalizers(assoc) {
		t.Error("bare extra data made object finalizable")
	}
	ed.SetAssociatedObject("handle")
	if !HasFinalizers(assoc) {
		t.Error("associated object did not make owner finalizable")
	}

	ed.DetachAssociatedObject()
	if HasFinalizers(assoc) {
		t.Error("detached record without flag still finalizable")
	}
	ed.SetFlag(FlagInFinalizerQueue)
	if !HasFinalizers(assoc) {
		t.Error("flagged record not finalizable")
	}
	if got := ed.TakeDetached(); got != "handle" {
		t.Errorf("TakeDetached() = %v, want handle", got)
	}
	if got := ed.TakeDetached(); got != nil {
		t.Errorf("second TakeDetached() = %v, want nil", got)
	}
	ed.ClearFlag(FlagInFinalizerQueue)
	if ed.Flag(FlagInFinalizerQueue) {
		t.Error("ClearFlag left flag set")
	}
}

// TestUninstall tests that only the attached record can be uninstalled.
func TestUninstall(t *testing.T) {
	o := New(1, "T", 8, FlagHeap, 0)
	ed := Install(o)
	ed.Uninstall()
	if o.HasMetaObject() {
		t.Fatal("record still attached after Uninstall")
	}
	fresh := Install(o)
	ed.Uninstall()
	if o.ExtraData() != fresh {
		t.Error("stale record uninstalled the fresh one")
	}
}

func TestString(t *testing.T) {
	var nilObj *Object
	tests := []struct {
		obj  *Object
		want string
	}{
		{obj: New(7, "Node", 8, FlagHeap, 0), want: "Node#7"},
		{obj: Marker, want: "<marker>"},
		{obj: nilObj, want: "<nil>"},
	}
	for _, tt := range tests {
		if got := tt.obj.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
