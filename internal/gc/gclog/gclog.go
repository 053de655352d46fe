// Package gclog provides the structured logger shared by collector packages.
//
// All records carry tag=gc so collector output can be filtered out of a
// host's combined log stream. The level follows the gctrace setting:
//
//	gctrace=0  warnings and invariant failures only
//	gctrace=1  one line per completed cycle
//	gctrace=2  per-phase detail (root set, mark, sweep)
package gclog

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	level  slog.LevelVar
	logger atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelWarn)
	logger.Store(newLogger(os.Stderr))
}

func newLogger(w io.Writer) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level})
	return slog.New(h).With(slog.String("tag", "gc"))
}

// Logger returns the current collector logger. Never nil.
func Logger() *slog.Logger {
	return logger.Load()
}

// SetLogger replaces the collector logger. A nil logger restores the
// default stderr text logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newLogger(os.Stderr)
	}
	logger.Store(l)
}

// SetOutput installs a text logger writing to w at the current level.
func SetOutput(w io.Writer) {
	logger.Store(newLogger(w))
}

// SetLevel sets the minimum level of the default handlers.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// LevelForTrace maps a gctrace value onto a slog level.
func LevelForTrace(gctrace int) slog.Level {
	switch {
	case gctrace >= 2:
		return slog.LevelDebug
	case gctrace == 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}
