// Package api holds the process-wide collector behind the public gc package.
//
// One runtime instance owns the reference heap, the mutator registry, the
// global table, the stable reference registry and the collector driving
// them. Init replaces it wholesale; every other function works on the
// current instance.
//
// Settings come from the GCDEBUG environment variable (see package config).
// A malformed GCDEBUG makes Init return an error and keeps the previous
// instance.
package api

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kolkov/tracegc/internal/gc/collector"
	"github.com/kolkov/tracegc/internal/gc/config"
	"github.com/kolkov/tracegc/internal/gc/gclog"
	"github.com/kolkov/tracegc/internal/gc/heap"
	"github.com/kolkov/tracegc/internal/gc/mutator"
	"github.com/kolkov/tracegc/internal/gc/roots"
	"github.com/kolkov/tracegc/internal/gc/stableref"
	"github.com/kolkov/tracegc/internal/gc/stackdepot"
	"github.com/kolkov/tracegc/internal/gc/stats"
)

// Runtime is one complete collector instance.
//
// Thread Safety: All fields are set at construction and never replaced;
// each collaborator is safe for concurrent use on its own.
type Runtime struct {
	Config    config.Config
	Store     *heap.Store
	Extra     *heap.ExtraStore
	Threads   *mutator.Registry
	Globals   *roots.GlobalTable
	Stable    *stableref.Registry
	Collector *collector.Collector
}

// NewRuntime builds an instance from cfg. Its finalizer processor is not
// started.
func NewRuntime(cfg config.Config) *Runtime {
	var opts []heap.Option
	if cfg.AllocSites {
		opts = append(opts, heap.WithAllocSites(stackdepot.New()))
	}
	rt := &Runtime{
		Config:  cfg,
		Store:   heap.NewStore(opts...),
		Extra:   heap.NewExtraStore(),
		Threads: mutator.NewRegistry(),
		Globals: roots.NewGlobalTable(),
		Stable:  stableref.NewRegistry(),
	}
	rt.Collector = collector.New(cfg, collector.Heap{
		Store:   rt.Store,
		Extra:   rt.Extra,
		Threads: rt.Threads,
		Globals: rt.Globals,
		Stable:  rt.Stable,
	})
	return rt
}

var (
	// mu guards rt replacement. Reads of rt take it too so a concurrent
	// Init never hands out a half-stopped instance.
	mu sync.Mutex
	rt *Runtime
)

// init installs a default instance so the API is usable without Init.
// GCDEBUG errors are ignored here and reported by an explicit Init.
func init() {
	cfg, err := config.FromEnv()
	if err != nil {
		cfg = config.Default()
	}
	gclog.SetLevel(gclog.LevelForTrace(cfg.GCTrace))
	rt = NewRuntime(cfg)
}

// Init replaces the process-wide instance with a fresh one configured from
// GCDEBUG and starts its finalizer processor. The previous instance is
// stopped first; its objects are no longer collected.
func Init() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	InitWith(cfg)
	return nil
}

// InitWith is Init with explicit settings.
func InitWith(cfg config.Config) {
	next := NewRuntime(cfg)
	next.Collector.Start()

	mu.Lock()
	prev := rt
	rt = next
	mu.Unlock()

	prev.Collector.Stop()
	gclog.SetLevel(gclog.LevelForTrace(cfg.GCTrace))
}

// Fini waits for outstanding finalizers and prints a summary of the
// finished cycles to stderr when gctrace is enabled.
//
// Example:
//
//	func main() {
//	    gc.Init()
//	    defer gc.Fini()
//	    // ...
//	}
//	// With GCDEBUG=gctrace=1, on exit Fini prints:
//	// gc summary: 3 cycles, pause mean 0.04ms p50 0.04ms ...
func Fini() {
	r := Current()
	r.Collector.Stop()
	if r.Config.GCTrace > 0 {
		WriteSummary(os.Stderr)
	}
}

// Reset installs a fresh instance with the current settings. Intended for
// tests.
func Reset() {
	InitWith(Current().Config)
}

// Current returns the process-wide instance.
func Current() *Runtime {
	mu.Lock()
	defer mu.Unlock()
	return rt
}

// Collect runs one cycle on the current instance.
func Collect(ctx context.Context) (collector.Result, error) {
	return Current().Collector.Collect(ctx)
}

// Snapshot returns a copy of the last or current cycle record.
func Snapshot(which stats.Which) (stats.CycleRecord, bool) {
	return Current().Collector.Stats().Snapshot(which)
}

// Fill reports cycle record id (0 = last, 1 = current) to b.
func Fill(b stats.Builder, id int) {
	Current().Collector.Stats().Fill(b, id)
}

// Summary summarizes the finished cycles kept in history.
func Summary() stats.Summary {
	return Current().Collector.Stats().Summary()
}

// WriteSummary writes the summary line to w.
func WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "gc summary: %s\n", Summary())
}

// WriteHeapProfile writes a pprof profile of the live heap to w.
func WriteHeapProfile(w io.Writer) error {
	return Current().Collector.WriteHeapProfile(w)
}
