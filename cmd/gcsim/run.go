// run.go implements the 'gcsim run' and 'gcsim verify' commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kolkov/tracegc/internal/gc/collector"
	"github.com/kolkov/tracegc/internal/gc/config"
	"github.com/kolkov/tracegc/internal/gc/snapshot"
	"github.com/kolkov/tracegc/internal/gc/stats"
)

var errNoSnapshot = errors.New("no snapshot file specified")

// runConfig holds the parsed arguments of 'gcsim run'.
type runConfig struct {
	cycles   int
	snapshot string
}

// parseRunArgs parses:
//
//	gcsim run [-cycles N] snapshot.json
func parseRunArgs(args []string) (*runConfig, error) {
	cfg := &runConfig{cycles: 1}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-cycles", "--cycles":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid cycle count %q", args[i])
			}
			cfg.cycles = n
		default:
			if cfg.snapshot != "" {
				return nil, fmt.Errorf("unexpected argument %q", arg)
			}
			cfg.snapshot = arg
		}
	}
	if cfg.snapshot == "" {
		return nil, errNoSnapshot
	}
	return cfg, nil
}

// runCommand implements 'gcsim run'.
//
// Example:
//
//	gcsim run -cycles 3 heap.json
func runCommand(args []string) error {
	rc, err := parseRunArgs(args)
	if err != nil {
		return err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	w, err := loadWorld(rc.snapshot)
	if err != nil {
		return err
	}
	return doRun(os.Stdout, w, cfg, rc.cycles)
}

// doRun collects w cycles times and prints one trace line per cycle and a
// summary.
func doRun(out io.Writer, w *snapshot.World, cfg config.Config, cycles int) error {
	released := 0
	c := newCollector(w, cfg, collector.WithRelease(func(any) { released++ }))
	for i := 0; i < cycles; i++ {
		res, err := c.Collect(context.Background())
		if err != nil {
			return err
		}
		stats.WriteTrace(out, res.Record)
	}
	n, bytes := w.Store.Usage()
	p := message.NewPrinter(language.English)
	p.Fprintf(out, "heap: %d objects, %d B live\n", n, bytes)
	p.Fprintf(out, "finalizers: %d run, %d foreign objects released\n", w.Finalized(), released)
	fmt.Fprintf(out, "summary: %s\n", c.Stats().Summary())
	return nil
}

// verifyCommand implements 'gcsim verify'.
//
// Example:
//
//	gcsim verify heap.json
func verifyCommand(args []string) error {
	rc, err := parseRunArgs(args)
	if err != nil {
		return err
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	w, err := loadWorld(rc.snapshot)
	if err != nil {
		return err
	}
	return doVerify(os.Stdout, w, cfg)
}

// doVerify prints the reachability report of w and then runs one cycle
// with checkmark on. A mark mismatch panics inside the cycle.
func doVerify(out io.Writer, w *snapshot.World, cfg config.Config) error {
	cfg.Checkmark = true
	c := newCollector(w, cfg)
	rep := c.Analyze()
	fmt.Fprintf(out, "objects: %d, reachable: %d, garbage: %d\n", rep.Objects, rep.Reachable, rep.Garbage)
	fmt.Fprintf(out, "cyclic garbage: %d cycles, %d objects, largest %d\n",
		rep.Cyclic.Components, rep.Cyclic.Objects, rep.Cyclic.Largest)

	res, err := c.Collect(context.Background())
	if err != nil {
		return err
	}
	if got := int(res.Mark.AliveHeapSet); got != rep.Reachable {
		return fmt.Errorf("marked %d objects, analysis found %d reachable", got, rep.Reachable)
	}
	fmt.Fprintf(out, "checkmark: ok (%s)\n", cfg.Worklist)
	return nil
}

// loadWorld reads a snapshot file. Snapshot objects carry no allocation
// sites, so GCDEBUG=allocsites has no effect here.
func loadWorld(path string) (*snapshot.World, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w, err := snapshot.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

func newCollector(w *snapshot.World, cfg config.Config, opts ...collector.Option) *collector.Collector {
	return collector.New(cfg, collector.Heap{
		Store:   w.Store,
		Extra:   w.Extra,
		Threads: w.Threads,
		Globals: w.Globals,
		Stable:  w.Stable,
	}, opts...)
}
