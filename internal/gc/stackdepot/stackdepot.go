// Package stackdepot stores deduplicated allocation-site stack traces.
//
// Every unique stack is stored once and referenced by a 64-bit FNV-1a hash
// of its program counters, so an object only carries 8 bytes of allocation
// site. Traces are symbolized lazily, when a heap profile or a report needs
// them.
//
// Usage:
//
//	d := stackdepot.New()
//	site := d.Capture(1) // skip the allocator frame
//	...
//	for _, f := range d.Lookup(site).Frames() {
//		fmt.Println(f.Function, f.File, f.Line)
//	}
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
)

// MaxFrames is the maximum number of frames kept per trace.
const MaxFrames = 16

// Trace is one captured stack.
type Trace struct {
	pcs []uintptr
}

// Frame is a symbolized stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
	PC       uintptr
}

// Depot deduplicates traces by hash.
//
// Thread Safety: All methods are safe for concurrent calls. Lookups are
// lock-free; stores take sync.Map's internal lock.
type Depot struct {
	traces sync.Map // uint64 -> *Trace
}

// New creates an empty depot.
func New() *Depot {
	return &Depot{}
}

// Capture records the calling goroutine's stack and returns its hash.
// skip is the number of frames above Capture's caller to drop. It returns 0
// when no frame could be captured.
func (d *Depot) Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	// +2: runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return 0
	}
	return d.Store(pcs[:n])
}

// Store records a trace given as program counters and returns its hash.
func (d *Depot) Store(pcs []uintptr) uint64 {
	if len(pcs) == 0 {
		return 0
	}
	if len(pcs) > MaxFrames {
		pcs = pcs[:MaxFrames]
	}
	hash := hashPCs(pcs)
	if _, ok := d.traces.Load(hash); ok {
		return hash
	}
	d.traces.LoadOrStore(hash, &Trace{pcs: append([]uintptr(nil), pcs...)})
	return hash
}

// Lookup returns the trace stored under hash, or nil.
func (d *Depot) Lookup(hash uint64) *Trace {
	if hash == 0 {
		return nil
	}
	v, ok := d.traces.Load(hash)
	if !ok {
		return nil
	}
	return v.(*Trace)
}

// Len returns the number of unique traces.
func (d *Depot) Len() int {
	n := 0
	d.traces.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// PCs returns the raw program counters.
func (t *Trace) PCs() []uintptr {
	if t == nil {
		return nil
	}
	return t.pcs
}

// Frames symbolizes the trace, innermost frame first. Runtime-internal
// frames are kept: allocation sites inside the runtime are real sites.
func (t *Trace) Frames() []Frame {
	if t == nil {
		return nil
	}
	frames := runtime.CallersFrames(t.pcs)
	var out []Frame
	for {
		f, more := frames.Next()
		if f.PC != 0 {
			out = append(out, Frame{Function: f.Function, File: f.File, Line: f.Line, PC: f.PC})
		}
		if !more {
			break
		}
	}
	return out
}

// Format renders the trace the way Go tracebacks do:
//
//	main.alloc()
//	    /path/to/file.go:45
func (t *Trace) Format() string {
	frames := t.Frames()
	if len(frames) == 0 {
		return "  <unknown>\n"
	}
	var buf strings.Builder
	for _, f := range frames {
		fmt.Fprintf(&buf, "%s()\n    %s:%d\n", f.Function, f.File, f.Line)
	}
	return buf.String()
}

func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(b[:], uint64(pc))
		_, _ = h.Write(b[:])
	}
	return h.Sum64()
}
