// Package collector drives stop-the-world collection cycles.
//
// A cycle runs the phases in a fixed order:
//
//	epoch, stats start, pause start, suspend threads
//	threads publish, fence the stores against allocation during the cycle
//	root set, heap usage before
//	mark to a fixed point, optional checkmark
//	sweep extra data, sweep heap
//	resume threads, pause end, heap usage after, stats finish
//	hand the finalizer queue to the processor
//
// The extra-data sweep must run before the heap sweep: it reads owner mark
// bits that the heap sweep resets.
package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kolkov/tracegc/internal/gc/config"
	"github.com/kolkov/tracegc/internal/gc/epoch"
	"github.com/kolkov/tracegc/internal/gc/finalizer"
	"github.com/kolkov/tracegc/internal/gc/gclog"
	"github.com/kolkov/tracegc/internal/gc/heap"
	"github.com/kolkov/tracegc/internal/gc/heapprof"
	"github.com/kolkov/tracegc/internal/gc/invariant"
	"github.com/kolkov/tracegc/internal/gc/mark"
	"github.com/kolkov/tracegc/internal/gc/mutator"
	"github.com/kolkov/tracegc/internal/gc/roots"
	"github.com/kolkov/tracegc/internal/gc/stats"
	"github.com/kolkov/tracegc/internal/gc/sweep"
	"github.com/kolkov/tracegc/internal/gc/verify"
	"github.com/kolkov/tracegc/internal/gc/worklist"
)

// Heap bundles the collaborators a Collector works on. Store, Extra and
// Threads are required; Globals and Stable may be left nil.
type Heap struct {
	Store   *heap.Store
	Extra   *heap.ExtraStore
	Threads *mutator.Registry
	Globals roots.GlobalSet
	Stable  roots.StableRefSet
}

// Result describes one finished cycle.
type Result struct {
	Epoch epoch.Epoch

	// Mark holds root counts and the alive heap set.
	Mark mark.Stats

	// Sweep holds heap sweep counts.
	Sweep sweep.Stats

	// MarkSteps is the number of marking steps: 1 for serial and parallel
	// marking, the number of budgeted steps for incremental marking.
	MarkSteps int

	// Checked reports whether marks were verified against the oracle.
	Checked bool

	// Record is the statistics record published for the cycle.
	Record stats.CycleRecord
}

// Option configures a Collector.
type Option func(*Collector)

// WithAggregator makes the collector publish into agg instead of a private
// aggregator.
func WithAggregator(agg *stats.Aggregator) Option {
	return func(c *Collector) { c.agg = agg }
}

// WithRelease sets the function that releases foreign objects detached
// from dead owners.
func WithRelease(fn finalizer.ReleaseFunc) Option {
	return func(c *Collector) { c.release = fn }
}

// Collector owns the cycle protocol for one heap.
//
// Thread Safety: Collect, Analyze and WriteHeapProfile are serialized by
// an internal lock. Start and Stop are safe for concurrent calls.
//
// Example:
//
//	c := collector.New(config.Default(), collector.Heap{Store: s, Extra: x, Threads: reg})
//	c.Start()
//	defer c.Stop()
//	res, err := c.Collect(ctx)
type Collector struct {
	cfg     config.Config
	h       Heap
	roots   *roots.Collector
	agg     *stats.Aggregator
	release finalizer.ReleaseFunc
	fin     *finalizer.Processor
	epochs  epoch.Counter

	mu sync.Mutex // one cycle at a time
}

// New creates a collector. The finalizer processor starts stopped:
// finalizers run synchronously at the end of Collect until Start.
func New(cfg config.Config, h Heap, opts ...Option) *Collector {
	c := &Collector{cfg: cfg, h: h}
	for _, opt := range opts {
		opt(c)
	}
	if c.agg == nil {
		c.agg = stats.NewAggregator(stats.WithHistory(cfg.History))
	}
	c.roots = roots.New(h.Threads, h.Globals, h.Stable)
	c.fin = finalizer.NewProcessor(h.Extra, c.agg, c.release)
	return c
}

// Config returns the collector settings.
func (c *Collector) Config() config.Config { return c.cfg }

// Stats returns the aggregator cycles are published to.
func (c *Collector) Stats() *stats.Aggregator { return c.agg }

// Start runs finalizers on a background goroutine.
func (c *Collector) Start() { c.fin.Start() }

// Stop waits for scheduled finalizers and stops the background goroutine.
func (c *Collector) Stop() { c.fin.Stop() }

// Collect runs one full cycle.
//
// ctx is only consulted before the cycle starts: once the epoch is taken
// the cycle runs to completion. A panic in any phase, notably an invariant
// violation, discards the in-progress record, resumes the threads and is
// re-raised.
//
// The finalizer queue is handed over after the cycle lock is released, so
// finalizers may call Collect themselves.
func (c *Collector) Collect(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res, q, err := c.cycle(ctx)
	if err != nil {
		return Result{}, err
	}

	c.fin.Schedule(res.Epoch, q)

	// Synchronous finalizers have set FinalizersDoneTime on the last
	// record by now, unless another cycle finished in between.
	if rec, ok := c.agg.Snapshot(stats.Last); ok && rec.Epoch == res.Epoch {
		res.Record = rec
	}
	gclog.Logger().LogAttrs(ctx, slog.LevelInfo, stats.TraceString(res.Record))
	return res, nil
}

// cycle runs the stop-the-world part of Collect under the cycle lock and
// returns the objects waiting for finalization.
func (c *Collector) cycle(ctx context.Context) (res Result, q *finalizer.Queue, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{}, nil, err
	}

	e := c.epochs.Next()
	res.Epoch = e
	log := gclog.Logger()
	suspended := false
	defer func() {
		if r := recover(); r != nil {
			c.agg.AbortCycle()
			if suspended {
				c.h.Threads.ResumeAll()
			}
			log.LogAttrs(ctx, slog.LevelError, "cycle aborted",
				slog.String("epoch", e.String()),
				slog.Any("panic", r))
			panic(r)
		}
	}()

	c.agg.Start(e)
	c.agg.PauseStart()
	n := c.h.Threads.SuspendAll()
	suspended = true
	log.LogAttrs(ctx, slog.LevelDebug, "threads suspended",
		slog.String("epoch", e.String()), slog.Int("threads", n))

	// Allocations made before the pause belong to this cycle; anything
	// linked from here on survives it.
	c.h.Threads.ForEachThread(func(t roots.Thread) {
		if mutator.Suspended(t) {
			t.Publish()
		}
	})
	c.h.Store.BeginCycle()
	c.h.Extra.BeginCycle()

	wl, run := c.newMarker()
	var rootWL worklist.Worklist = wl
	var rec *verify.Recorder
	if c.cfg.Checkmark {
		rec = verify.NewRecorder(wl)
		rootWL = rec
	}
	rs := c.roots.Collect(rootWL, mutator.Suspended)
	c.agg.RecordRootSet(rs.ThreadLocalRoots, rs.StackRoots, rs.GlobalRoots, rs.StableRoots)
	c.agg.RecordHeapUsageBefore(c.h.Store.Usage())

	ms, steps := run()
	res.Mark = rs
	res.Mark.Merge(ms)
	res.MarkSteps = steps

	if rec != nil {
		start := time.Now()
		if err := verify.CheckMarks(c.h.Store, rec.Roots()); err != nil {
			invariant.Failf("epoch %v: %v", e, err)
		}
		res.Checked = true
		log.LogAttrs(ctx, slog.LevelDebug, "checkmark passed",
			slog.String("epoch", e.String()),
			slog.Int("roots", len(rec.Roots())),
			slog.Duration("elapsed", time.Since(start)))
	}

	sweep.ExtraObjects(c.h.Extra)
	q, res.Sweep = sweep.HeapStore(c.h.Store)

	c.h.Threads.ResumeAll()
	suspended = false
	c.agg.PauseEnd()
	c.agg.RecordHeapUsageAfter(c.h.Store.Usage())
	c.agg.Finish()
	res.Record, _ = c.agg.Snapshot(stats.Last)
	return res, q, nil
}

// newMarker picks the worklist and marking loop for the configured
// strategy.
func (c *Collector) newMarker() (worklist.Worklist, func() (mark.Stats, int)) {
	switch c.cfg.Worklist {
	case config.Parallel:
		p := worklist.NewPartitioned(c.cfg.MarkWorkers)
		return p, func() (mark.Stats, int) {
			// The cycle is already running; it is never cancelled.
			ms, err := mark.Parallel(context.Background(), p)
			if err != nil {
				invariant.Failf("parallel mark: %v", err)
			}
			return ms, 1
		}
	case config.Incremental:
		wl := worklist.NewFIFO(0)
		return wl, func() (mark.Stats, int) {
			var total mark.Stats
			for steps := 1; ; steps++ {
				ms, done := mark.Incremental(wl, c.cfg.MarkBudget)
				total.Merge(ms)
				if done {
					return total, steps
				}
			}
		}
	default:
		wl := worklist.NewFIFO(0)
		return wl, func() (mark.Stats, int) {
			return mark.Mark(wl), 1
		}
	}
}

// Analyze reports reachability and cyclic garbage for the current heap
// without marking anything. Threads publish their pending allocations.
func (c *Collector) Analyze() verify.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := verify.NewRootList()
	c.roots.Collect(l, mutator.All)
	return verify.Analyze(c.h.Store, l.Roots())
}

// WriteHeapProfile writes a pprof profile of the live heap to w.
func (c *Collector) WriteHeapProfile(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := heapprof.Write(w, c.h.Store, c.h.Store.Depot()); err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	return nil
}
