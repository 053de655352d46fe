// Package verify checks mark results against an independent reachability
// oracle built on a graph view of the heap.
//
// The oracle models exactly what the marker is required to find: starting
// from the objects the root collector enqueued, follow heap references and
// weak counters of ExtraData, never through non-heap objects. Any
// difference between that set and the set of marked objects is a
// collector bug.
package verify

import (
	"github.com/aclements/go-moremath/graph"
	"github.com/aclements/go-moremath/graph/graphalg"

	"github.com/kolkov/tracegc/internal/gc/object"
)

// ObjectSource enumerates the heap objects of a store.
type ObjectSource interface {
	ForEach(fn func(*object.Object))
}

// Graph is a graph.Graph over heap objects. Node i is Node(i); edges are
// the heap references the marker would follow.
type Graph struct {
	nodes []*object.Object
	index map[*object.Object]int
	out   [][]int
}

var _ graph.Graph = (*Graph)(nil)

// NewGraph snapshots the objects of src and their references.
func NewGraph(src ObjectSource) *Graph {
	g := &Graph{index: make(map[*object.Object]int)}
	src.ForEach(func(o *object.Object) {
		g.index[o] = len(g.nodes)
		g.nodes = append(g.nodes, o)
	})
	g.out = make([][]int, len(g.nodes))
	for i, o := range g.nodes {
		g.out[i] = g.edges(o)
	}
	return g
}

func (g *Graph) edges(o *object.Object) []int {
	var out []int
	o.TraverseReferred(func(f *object.Object) {
		if object.IsNullOrMarker(f) || !f.Heap() {
			return
		}
		if j, ok := g.index[f]; ok {
			out = append(out, j)
		}
	})
	if ed := o.ExtraData(); ed != nil {
		if c := ed.WeakReferenceCounter(); c != nil {
			if j, ok := g.index[c]; ok {
				out = append(out, j)
			}
		}
	}
	return out
}

// NumNodes implements graph.Graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Out implements graph.Graph.
func (g *Graph) Out(i int) []int { return g.out[i] }

// Node returns the object of node i.
func (g *Graph) Node(i int) *object.Object { return g.nodes[i] }

// NodeOf returns the node of o.
func (g *Graph) NodeOf(o *object.Object) (int, bool) {
	i, ok := g.index[o]
	return i, ok
}

// Reachable marks every node reachable from roots. Roots that are not
// nodes of g are ignored.
func (g *Graph) Reachable(roots []*object.Object) *graphalg.NodeMarks {
	marks := graphalg.NewNodeMarks()
	var stack []int
	for _, r := range roots {
		if i, ok := g.index[r]; ok && !marks.Test(i) {
			marks.Mark(i)
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, m := range g.out[n] {
			if !marks.Test(m) {
				marks.Mark(m)
				stack = append(stack, m)
			}
		}
	}
	return marks
}

// CyclicGarbage describes unreachable strongly connected components.
type CyclicGarbage struct {
	// Components is the number of dead cycles.
	Components int
	// Objects is the number of objects on them.
	Objects int
	// Largest is the size of the largest dead cycle.
	Largest int
}

// Census finds the dead cycles of g: strongly connected components with
// more than one object, or a self-reference, none of which is reachable.
// Reference counting could never reclaim them.
func (g *Graph) Census(reachable *graphalg.NodeMarks) CyclicGarbage {
	var cg CyclicGarbage
	scc := graphalg.SCC(g, graphalg.SCCSubnodeComponent)
	for cid := 0; cid < scc.NumNodes(); cid++ {
		nids := scc.Subnodes(cid)
		if len(nids) == 1 && !g.selfLoop(nids[0]) {
			continue
		}
		dead := true
		for _, nid := range nids {
			if reachable.Test(nid) {
				dead = false
				break
			}
		}
		if !dead {
			continue
		}
		cg.Components++
		cg.Objects += len(nids)
		if len(nids) > cg.Largest {
			cg.Largest = len(nids)
		}
	}
	return cg
}

func (g *Graph) selfLoop(n int) bool {
	for _, m := range g.out[n] {
		if m == n {
			return true
		}
	}
	return false
}
