// Package snapshot loads heap snapshots into the reference collaborators.
//
// A snapshot is a JSON document describing objects, mutator threads,
// global slots and stable references:
//
//	{
//	  "format": "v1.0.0",
//	  "objects": [
//	    {"id": 1, "type": "Node", "size": 32, "ptrs": [2, 0]},
//	    {"id": 2, "type": "Leaf", "size": 8, "finalizer": true},
//	    {"id": 3, "type": "Weak", "size": 16, "weakReferent": 2},
//	    {"id": 4, "type": "Config", "size": 8, "kind": "permanent", "ptrs": [1]}
//	  ],
//	  "threads": [{"stack": [1], "tls": []}],
//	  "globals": [4],
//	  "stableRefs": []
//	}
//
// Object ids are non-zero; a 0 in ptrs is a nil slot. The format field is a
// semantic version and only major version v1 is understood.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/mod/semver"

	"github.com/kolkov/tracegc/internal/gc/heap"
	"github.com/kolkov/tracegc/internal/gc/mutator"
	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/roots"
	"github.com/kolkov/tracegc/internal/gc/stableref"
)

// FormatVersion is the version written by this package.
const FormatVersion = "v1.0.0"

// Object kinds.
const (
	KindHeap      = "heap"
	KindPermanent = "permanent"
	KindStack     = "stack"
)

var (
	// ErrUnsupportedFormat is returned for a missing, malformed or
	// incompatible format version.
	ErrUnsupportedFormat = errors.New("unsupported snapshot format")

	// ErrUnknownObject is returned when an id does not name an object.
	ErrUnknownObject = errors.New("unknown object id")

	// ErrDuplicateObject is returned when two objects share an id.
	ErrDuplicateObject = errors.New("duplicate object id")

	// ErrInvalidObject is returned for objects that break a heap rule, such
	// as metadata on a non-heap object.
	ErrInvalidObject = errors.New("invalid object")
)

// Document is the decoded form of a snapshot.
type Document struct {
	Format     string   `json:"format"`
	Objects    []Object `json:"objects"`
	Threads    []Thread `json:"threads,omitempty"`
	Globals    []uint64 `json:"globals,omitempty"`
	StableRefs []uint64 `json:"stableRefs,omitempty"`
}

// Object describes one object. Kind defaults to heap.
type Object struct {
	ID           uint64   `json:"id"`
	Type         string   `json:"type"`
	Size         uint64   `json:"size"`
	Kind         string   `json:"kind,omitempty"`
	Ptrs         []uint64 `json:"ptrs,omitempty"`
	Finalizer    bool     `json:"finalizer,omitempty"`
	WeakReferent uint64   `json:"weakReferent,omitempty"`
	Associated   string   `json:"associated,omitempty"`
}

// Thread describes the roots of one mutator thread.
type Thread struct {
	Stack []uint64 `json:"stack,omitempty"`
	TLS   []uint64 `json:"tls,omitempty"`
}

// FormatError locates a problem inside a document.
//
// Example output:
//
//	objects[3] (id 7): ptrs[1]: unknown object id 12
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type FormatError struct {
	Section string // "objects", "threads", "globals" or "stableRefs"
	Index   int    // position in Section
	ID      uint64 // object id, 0 when not applicable
	Err     error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s[%d] (id %d): %v", e.Section, e.Index, e.ID, e.Err)
	}
	return fmt.Sprintf("%s[%d]: %v", e.Section, e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *FormatError) Unwrap() error { return e.Err }

// World is a fully wired set of collaborators built from a snapshot.
type World struct {
	Store   *heap.Store
	Extra   *heap.ExtraStore
	Threads *mutator.Registry
	Globals *roots.GlobalTable
	Stable  *stableref.Registry

	// Objects maps snapshot ids to the loaded objects.
	Objects map[uint64]*object.Object

	finalized atomic.Int64
}

// Finalized returns how many finalizers declared by the snapshot have run.
func (w *World) Finalized() int64 { return w.finalized.Load() }

func (w *World) finalize(*object.Object) { w.finalized.Add(1) }

// Decode reads and version-checks a document.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if err := checkFormat(doc.Format); err != nil {
		return nil, err
	}
	return &doc, nil
}

func checkFormat(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrUnsupportedFormat, v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) {
		return fmt.Errorf("%w: %s (want %s.x)", ErrUnsupportedFormat, v, semver.Major(FormatVersion))
	}
	return nil
}

// Encode writes doc as indented JSON. An empty Format is set to
// FormatVersion.
func (doc *Document) Encode(w io.Writer) error {
	if doc.Format == "" {
		doc.Format = FormatVersion
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	return nil
}

// Load decodes r and builds a World from it.
func Load(r io.Reader, opts ...heap.Option) (*World, error) {
	doc, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return Build(doc, opts...)
}

// Build creates the objects of doc and wires them into fresh
// collaborators. Heap objects are published in document order.
func Build(doc *Document, opts ...heap.Option) (*World, error) {
	if err := checkFormat(doc.Format); err != nil {
		return nil, err
	}
	w := &World{
		Store:   heap.NewStore(opts...),
		Extra:   heap.NewExtraStore(),
		Threads: mutator.NewRegistry(),
		Globals: roots.NewGlobalTable(),
		Stable:  stableref.NewRegistry(),
		Objects: make(map[uint64]*object.Object, len(doc.Objects)),
	}

	objs := make([]*object.Object, len(doc.Objects))
	for i, d := range doc.Objects {
		o, err := w.create(d)
		if err != nil {
			return nil, &FormatError{Section: "objects", Index: i, ID: d.ID, Err: err}
		}
		objs[i] = o
	}
	for i, d := range doc.Objects {
		if err := w.link(objs[i], d); err != nil {
			return nil, &FormatError{Section: "objects", Index: i, ID: d.ID, Err: err}
		}
	}
	for _, o := range objs {
		switch {
		case o.Heap():
			w.Store.Publish(o)
		case o.Permanent():
			w.Store.AddPermanent(o)
		}
	}

	for i, t := range doc.Threads {
		ctx := w.Threads.Attach(w.Store)
		for j, id := range t.Stack {
			o, err := w.lookup(id)
			if err != nil {
				return nil, &FormatError{Section: "threads", Index: i, Err: fmt.Errorf("stack[%d]: %w", j, err)}
			}
			ctx.Push(o)
		}
		for j, id := range t.TLS {
			o, err := w.lookup(id)
			if err != nil {
				return nil, &FormatError{Section: "threads", Index: i, Err: fmt.Errorf("tls[%d]: %w", j, err)}
			}
			ctx.AddTLS(o)
		}
	}
	for i, id := range doc.Globals {
		o, err := w.lookup(id)
		if err != nil {
			return nil, &FormatError{Section: "globals", Index: i, Err: err}
		}
		w.Globals.Register(o)
	}
	for i, id := range doc.StableRefs {
		o, err := w.lookup(id)
		if err != nil {
			return nil, &FormatError{Section: "stableRefs", Index: i, Err: err}
		}
		w.Stable.Create(o)
	}
	return w, nil
}

func (w *World) create(d Object) (*object.Object, error) {
	if d.ID == 0 {
		return nil, fmt.Errorf("%w: id 0 is reserved for nil", ErrInvalidObject)
	}
	if _, dup := w.Objects[d.ID]; dup {
		return nil, ErrDuplicateObject
	}
	var flags object.Flags
	switch d.Kind {
	case "", KindHeap:
		flags = object.FlagHeap
	case KindPermanent:
		flags = object.FlagPermanent
	case KindStack:
		flags = object.FlagStackLocal
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidObject, d.Kind)
	}
	if flags != object.FlagHeap && (d.Finalizer || d.WeakReferent != 0 || d.Associated != "") {
		return nil, fmt.Errorf("%w: %s object may not carry finalizers or extra data", ErrInvalidObject, d.Kind)
	}
	o := w.Store.NewObjectWithID(d.ID, d.Type, d.Size, flags, len(d.Ptrs))
	if d.Finalizer {
		o.SetFinalizer(w.finalize)
	}
	w.Objects[d.ID] = o
	return o, nil
}

func (w *World) link(o *object.Object, d Object) error {
	for j, id := range d.Ptrs {
		if id == 0 {
			continue
		}
		f, err := w.lookup(id)
		if err != nil {
			return fmt.Errorf("ptrs[%d]: %w", j, err)
		}
		o.SetField(j, f)
	}
	if d.WeakReferent != 0 {
		ref, err := w.lookup(d.WeakReferent)
		if err != nil {
			return fmt.Errorf("weakReferent: %w", err)
		}
		if !ref.Heap() {
			return fmt.Errorf("%w: weak referent %v is not a heap object", ErrInvalidObject, ref)
		}
		ed := w.Extra.Install(ref)
		if got := ed.GetOrSetWeakReferenceCounter(object.NewWeakCounter(o, ref)); got != o {
			return fmt.Errorf("%w: %v already has weak counter %v", ErrInvalidObject, ref, got)
		}
	}
	if d.Associated != "" {
		w.Extra.Install(o).SetAssociatedObject(d.Associated)
	}
	return nil
}

func (w *World) lookup(id uint64) (*object.Object, error) {
	if o, ok := w.Objects[id]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("%w %d", ErrUnknownObject, id)
}
