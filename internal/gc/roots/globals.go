package roots

import (
	"sync"

	"github.com/kolkov/tracegc/internal/gc/object"
)

// GlobalTable is a registry of global reference slots.
//
// Thread Safety: All methods are safe for concurrent calls.
type GlobalTable struct {
	mu    sync.RWMutex
	slots []*object.Object
}

// NewGlobalTable creates an empty table.
func NewGlobalTable() *GlobalTable {
	return &GlobalTable{}
}

// Register adds a slot holding obj and returns its index.
func (g *GlobalTable) Register(obj *object.Object) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slots = append(g.slots, obj)
	return len(g.slots) - 1
}

// Set overwrites slot i.
func (g *GlobalTable) Set(i int, obj *object.Object) {
	g.mu.Lock()
	g.slots[i] = obj
	g.mu.Unlock()
}

// Get returns slot i.
func (g *GlobalTable) Get(i int) *object.Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.slots[i]
}

// Len returns the number of slots.
func (g *GlobalTable) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.slots)
}

// ForEachGlobal implements GlobalSet. Empty slots are passed through as nil.
func (g *GlobalTable) ForEachGlobal(fn func(*object.Object)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, obj := range g.slots {
		fn(obj)
	}
}
