package snapshot

import (
	"fmt"
	"math/rand"
)

// GenOptions shapes a generated document.
type GenOptions struct {
	Objects    int // heap objects
	MaxPtrs    int // reference slots per object, chosen in [0, MaxPtrs]
	Threads    int
	Roots      int // stack roots per thread
	Globals    int
	Finalizers int // percentage of heap objects declaring a finalizer
	Weak       int // number of weak references
}

// DefaultGenOptions returns a small but varied heap.
func DefaultGenOptions() GenOptions {
	return GenOptions{
		Objects:    1000,
		MaxPtrs:    3,
		Threads:    2,
		Roots:      4,
		Globals:    2,
		Finalizers: 5,
		Weak:       10,
	}
}

// Generate builds a random document from seed. The same seed and options
// always produce the same document.
func Generate(seed int64, opts GenOptions) *Document {
	rng := rand.New(rand.NewSource(seed))
	doc := &Document{Format: FormatVersion}
	if opts.Objects <= 0 {
		return doc
	}
	n := uint64(opts.Objects)
	pick := func() uint64 { return 1 + uint64(rng.Int63n(int64(n))) }

	types := []string{"Node", "Leaf", "Buffer", "Map"}
	for id := uint64(1); id <= n; id++ {
		o := Object{
			ID:   id,
			Type: types[rng.Intn(len(types))],
			Size: 8 * uint64(1+rng.Intn(16)),
		}
		if opts.MaxPtrs > 0 {
			o.Ptrs = make([]uint64, rng.Intn(opts.MaxPtrs+1))
			for i := range o.Ptrs {
				if rng.Intn(8) != 0 {
					o.Ptrs[i] = pick()
				}
			}
		}
		o.Finalizer = opts.Finalizers > 0 && rng.Intn(100) < opts.Finalizers
		if rng.Intn(50) == 0 {
			o.Associated = fmt.Sprintf("handle-%d", id)
		}
		doc.Objects = append(doc.Objects, o)
	}

	next := n + 1
	referents := map[uint64]bool{}
	for i := 0; i < opts.Weak; i++ {
		ref := pick()
		if referents[ref] {
			continue
		}
		referents[ref] = true
		doc.Objects = append(doc.Objects, Object{ID: next, Type: "WeakReference", Size: 16, WeakReferent: ref})
		// Hold half of the weak references from globals so they outlive
		// their referents.
		if i%2 == 0 {
			doc.Globals = append(doc.Globals, next)
		}
		next++
	}

	perm := Object{ID: next, Type: "Permanent", Size: 64, Kind: KindPermanent}
	for i := 0; i < opts.Globals; i++ {
		perm.Ptrs = append(perm.Ptrs, pick())
	}
	doc.Objects = append(doc.Objects, perm)
	doc.Globals = append(doc.Globals, next)
	next++

	for t := 0; t < opts.Threads; t++ {
		var th Thread
		for r := 0; r < opts.Roots; r++ {
			th.Stack = append(th.Stack, pick())
		}
		frame := Object{ID: next, Type: "Frame", Size: 32, Kind: KindStack, Ptrs: []uint64{pick()}}
		doc.Objects = append(doc.Objects, frame)
		th.Stack = append(th.Stack, next)
		next++
		th.TLS = []uint64{pick()}
		doc.Threads = append(doc.Threads, th)
	}
	return doc
}
