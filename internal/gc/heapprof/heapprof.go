// Package heapprof writes live-heap profiles in the pprof format.
//
// Objects are grouped by type and allocation site. Each group becomes one
// sample carrying inuse_objects and inuse_space, labeled with the type
// name, so `go tool pprof -tagfocus type=Node` works as expected. Objects
// without a recorded site are attributed to a synthetic frame named after
// their type.
package heapprof

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/pprof/profile"

	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/stackdepot"
)

// ErrEmptyHeap is returned when there is nothing to profile.
var ErrEmptyHeap = errors.New("heapprof: heap has no objects")

// ObjectSource enumerates heap objects.
type ObjectSource interface {
	ForEach(fn func(*object.Object))
}

type groupKey struct {
	typeName string
	site     uint64
}

type group struct {
	count int64
	bytes int64
}

// Build assembles a profile of the objects in src. depot resolves
// allocation sites and may be nil.
func Build(src ObjectSource, depot *stackdepot.Depot) (*profile.Profile, error) {
	groups := make(map[groupKey]*group)
	src.ForEach(func(o *object.Object) {
		k := groupKey{typeName: o.TypeName(), site: o.AllocSite()}
		g := groups[k]
		if g == nil {
			g = &group{}
			groups[k] = g
		}
		g.count++
		g.bytes += int64(o.Size())
	})
	if len(groups) == 0 {
		return nil, ErrEmptyHeap
	}

	b := newBuilder()
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].typeName != keys[j].typeName {
			return keys[i].typeName < keys[j].typeName
		}
		return keys[i].site < keys[j].site
	})
	for _, k := range keys {
		g := groups[k]
		b.p.Sample = append(b.p.Sample, &profile.Sample{
			Location: b.locations(k, depot),
			Value:    []int64{g.count, g.bytes},
			Label:    map[string][]string{"type": {k.typeName}},
		})
	}
	if err := b.p.CheckValid(); err != nil {
		return nil, fmt.Errorf("heapprof: invalid profile: %w", err)
	}
	return b.p, nil
}

// Write builds a profile of src and writes it gzip-compressed to w.
func Write(w io.Writer, src ObjectSource, depot *stackdepot.Depot) error {
	p, err := Build(src, depot)
	if err != nil {
		return err
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("heapprof: write: %w", err)
	}
	return nil
}

type builder struct {
	p         *profile.Profile
	functions map[string]*profile.Function
	locs      map[uintptr]*profile.Location
	synthetic map[string]*profile.Location
}

func newBuilder() *builder {
	return &builder{
		p: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "inuse_objects", Unit: "count"},
				{Type: "inuse_space", Unit: "bytes"},
			},
			DefaultSampleType: "inuse_space",
			PeriodType:        &profile.ValueType{Type: "space", Unit: "bytes"},
			Period:            1,
			TimeNanos:         time.Now().UnixNano(),
		},
		functions: make(map[string]*profile.Function),
		locs:      make(map[uintptr]*profile.Location),
		synthetic: make(map[string]*profile.Location),
	}
}

func (b *builder) locations(k groupKey, depot *stackdepot.Depot) []*profile.Location {
	var frames []stackdepot.Frame
	if depot != nil {
		frames = depot.Lookup(k.site).Frames()
	}
	if len(frames) == 0 {
		return []*profile.Location{b.syntheticLocation(k.typeName)}
	}
	out := make([]*profile.Location, 0, len(frames))
	for _, f := range frames {
		loc := b.locs[f.PC]
		if loc == nil {
			loc = &profile.Location{
				ID:      uint64(len(b.p.Location) + 1),
				Address: uint64(f.PC),
				Line:    []profile.Line{{Function: b.function(f.Function, f.File), Line: int64(f.Line)}},
			}
			b.locs[f.PC] = loc
			b.p.Location = append(b.p.Location, loc)
		}
		out = append(out, loc)
	}
	return out
}

func (b *builder) syntheticLocation(typeName string) *profile.Location {
	if loc := b.synthetic[typeName]; loc != nil {
		return loc
	}
	loc := &profile.Location{
		ID:   uint64(len(b.p.Location) + 1),
		Line: []profile.Line{{Function: b.function("alloc<"+typeName+">", "")}},
	}
	b.synthetic[typeName] = loc
	b.p.Location = append(b.p.Location, loc)
	return loc
}

func (b *builder) function(name, file string) *profile.Function {
	key := name + "\x00" + file
	if fn := b.functions[key]; fn != nil {
		return fn
	}
	fn := &profile.Function{
		ID:         uint64(len(b.p.Function) + 1),
		Name:       name,
		SystemName: name,
		Filename:   file,
	}
	b.functions[key] = fn
	b.p.Function = append(b.p.Function, fn)
	return fn
}
