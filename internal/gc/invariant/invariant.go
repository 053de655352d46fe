// Package invariant implements fatal runtime assertions for the collector.
//
// A failed assertion means the object graph, the root set or the allocator
// is corrupt. Continuing would either free live memory or crash later at an
// unrelated place, so every failure is logged at error level and then raised
// as a panic carrying a *Violation. Callers must not recover from it, except
// to record that the current cycle was aborted before re-panicking.
package invariant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kolkov/tracegc/internal/gc/gclog"
)

// Violation describes a broken collector invariant.
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type Violation struct {
	Message string
}

// Error implements the error interface.
func (v *Violation) Error() string {
	return "gc invariant violated: " + v.Message
}

// Failf logs the formatted message and panics with a *Violation.
func Failf(format string, args ...any) {
	v := &Violation{Message: fmt.Sprintf(format, args...)}
	gclog.Logger().LogAttrs(context.Background(), slog.LevelError, v.Message,
		slog.String("kind", "invariant"))
	panic(v)
}

// Assert calls Failf when cond is false.
//
// The format arguments are only evaluated by the caller, so keep them cheap
// on hot paths (pointers and integers, no Sprintf).
func Assert(cond bool, format string, args ...any) {
	if !cond {
		Failf(format, args...)
	}
}

// Recover converts a recovered value back into a *Violation.
// It returns nil when r is nil or not a violation.
func Recover(r any) *Violation {
	if v, ok := r.(*Violation); ok {
		return v
	}
	return nil
}
