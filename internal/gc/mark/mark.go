package mark

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/tracegc/internal/gc/gclog"
	"github.com/kolkov/tracegc/internal/gc/invariant"
	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/worklist"
)

// Mark drains wl, traversing every grey object, and returns alive counts.
//
// Algorithm:
//  1. Dequeue until the worklist reports no more work
//  2. Assert the object is a real heap reference (fatal otherwise: the
//     root set or a traversal produced garbage)
//  3. Count it alive (objects + bytes)
//  4. Enqueue every heap referent; the worklist skips marked ones
//  5. Enqueue the weak reference counter of the object's ExtraData, so the
//     counter stays alive exactly as long as its referent
//
// Mark gives no concurrency guarantees of its own: safe concurrent marking
// is the responsibility of the worklist strategy.
//
// Complexity: O(reachable objects + outgoing references).
func Mark(wl worklist.Worklist) Stats {
	var stats Stats
	start := time.Now()
	for {
		top, ok := wl.Dequeue()
		if !ok {
			break
		}
		markOne(wl, top, &stats)
	}
	gclog.Logger().LogAttrs(context.Background(), slog.LevelDebug, "marked objects",
		slog.Uint64("objects", stats.AliveHeapSet),
		slog.Uint64("bytes", stats.AliveHeapSetBytes),
		slog.Duration("elapsed", time.Since(start)))
	return stats
}

// Incremental drains at most budget objects from wl and reports whether
// the worklist is exhausted. Hosts interleave calls with mutator work; the
// mark phase is complete only once done is true.
func Incremental(wl worklist.Worklist, budget int) (stats Stats, done bool) {
	for i := 0; i < budget; i++ {
		top, ok := wl.Dequeue()
		if !ok {
			return stats, true
		}
		markOne(wl, top, &stats)
	}
	return stats, wl.IsEmpty()
}

// Parallel runs one Mark per partition of p and merges the results. It
// returns once every worker observed the global fixed point. ctx only
// stops workers from being started; a started mark phase always completes.
func Parallel(ctx context.Context, p *worklist.Partitioned) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	partial := make([]Stats, p.Workers())
	p.Start()

	var g errgroup.Group
	for i := range partial {
		view := p.Worker(i)
		g.Go(func() error {
			partial[i] = Mark(view)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	var total Stats
	for _, s := range partial {
		total.Merge(s)
	}
	return total, nil
}

func markOne(wl worklist.Worklist, top *object.Object, stats *Stats) {
	// Hot path: Failf arguments are built only on failure.
	if object.IsNullOrMarker(top) {
		invariant.Failf("got invalid reference %v in mark queue", top)
	}
	if !top.Heap() {
		invariant.Failf("got non-heap reference %v in mark queue, permanent=%t stack=%t",
			top, top.Permanent(), top.Local())
	}

	stats.AliveHeapSet++
	stats.AliveHeapSetBytes += top.Size()

	top.TraverseReferred(func(field *object.Object) {
		if !object.IsNullOrMarker(field) && field.Heap() {
			wl.Enqueue(field)
		}
	})

	if ed := top.ExtraData(); ed != nil {
		if counter := ed.WeakReferenceCounter(); !object.IsNullOrMarker(counter) {
			if !counter.Heap() {
				invariant.Failf("weak counter must be a heap object: object=%v counter=%v permanent=%t local=%t",
					top, counter, counter.Permanent(), counter.Local())
			}
			wl.Enqueue(counter)
		}
	}
}
