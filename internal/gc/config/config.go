// Package config parses collector settings from the GCDEBUG environment
// variable.
//
// GCDEBUG follows the Go runtime's GODEBUG convention: a comma-separated
// list of key=value pairs. Unknown keys and fields without '=' are ignored
// so newer settings can be passed to older binaries. Malformed values for
// known keys are reported as errors.
//
//	GCDEBUG=gctrace=1,worklist=parallel,markworkers=4
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// EnvVar is the environment variable read by FromEnv.
const EnvVar = "GCDEBUG"

// ErrBadValue is returned when a known key carries an unusable value.
var ErrBadValue = errors.New("bad GCDEBUG value")

// Strategy selects the worklist implementation used by the marker.
type Strategy string

const (
	// Serial drains a single FIFO worklist on the collecting goroutine.
	Serial Strategy = "serial"
	// Parallel runs MarkWorkers goroutines over a partitioned worklist.
	Parallel Strategy = "parallel"
	// Incremental drains the worklist in MarkBudget-sized steps.
	Incremental Strategy = "incremental"
)

// Config holds collector settings.
type Config struct {
	// GCTrace controls logging verbosity (see package gclog).
	GCTrace int

	// Checkmark re-verifies every mark against an independent
	// reachability oracle before sweeping.
	Checkmark bool

	// Worklist picks the marking strategy.
	Worklist Strategy

	// MarkWorkers is the number of goroutines for the Parallel strategy.
	MarkWorkers int

	// MarkBudget is the number of objects marked per incremental step.
	MarkBudget int

	// AllocSites records an allocation stack for every reference-heap
	// object, used by heap profiles.
	AllocSites bool

	// History is the number of completed cycles kept for summaries.
	History int
}

// Default returns the settings used when GCDEBUG is empty.
func Default() Config {
	return Config{
		Worklist:    Serial,
		MarkWorkers: runtime.GOMAXPROCS(0),
		MarkBudget:  256,
		History:     64,
	}
}

// FromEnv parses GCDEBUG on top of Default.
func FromEnv() (Config, error) {
	return Parse(os.Getenv(EnvVar))
}

// Parse parses a GCDEBUG string on top of Default.
func Parse(s string) (Config, error) {
	cfg := Default()
	for p := s; p != ""; {
		var field string
		if i := strings.IndexByte(p, ','); i < 0 {
			field, p = p, ""
		} else {
			field, p = p[:i], p[i+1:]
		}
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		if err := cfg.set(key, value); err != nil {
			return Default(), err
		}
	}
	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "gctrace":
		n, err := atoi(key, value, 0)
		if err != nil {
			return err
		}
		c.GCTrace = n
	case "checkmark":
		b, err := atob(key, value)
		if err != nil {
			return err
		}
		c.Checkmark = b
	case "allocsites":
		b, err := atob(key, value)
		if err != nil {
			return err
		}
		c.AllocSites = b
	case "worklist":
		switch s := Strategy(value); s {
		case Serial, Parallel, Incremental:
			c.Worklist = s
		default:
			return fmt.Errorf("%w: worklist=%q (want serial, parallel or incremental)", ErrBadValue, value)
		}
	case "markworkers":
		n, err := atoi(key, value, 1)
		if err != nil {
			return err
		}
		c.MarkWorkers = n
	case "markbudget":
		n, err := atoi(key, value, 1)
		if err != nil {
			return err
		}
		c.MarkBudget = n
	case "history":
		n, err := atoi(key, value, 1)
		if err != nil {
			return err
		}
		c.History = n
	}
	return nil
}

func atoi(key, value string, minimum int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %w", ErrBadValue, key, value, err)
	}
	if n < minimum {
		return 0, fmt.Errorf("%w: %s=%d (minimum %d)", ErrBadValue, key, n, minimum)
	}
	return n, nil
}

func atob(key, value string) (bool, error) {
	switch value {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("%w: %s=%q (want 0 or 1)", ErrBadValue, key, value)
}

// String renders the settings in GCDEBUG form.
func (c Config) String() string {
	b2i := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	return fmt.Sprintf("gctrace=%d,checkmark=%d,worklist=%s,markworkers=%d,markbudget=%d,allocsites=%d,history=%d",
		c.GCTrace, b2i(c.Checkmark), c.Worklist, c.MarkWorkers, c.MarkBudget, b2i(c.AllocSites), c.History)
}
