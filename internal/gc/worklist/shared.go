package worklist

import (
	"sync"

	"github.com/kolkov/tracegc/internal/gc/object"
)

// Shared is a mutex-guarded LIFO worklist.
//
// Any number of goroutines may Enqueue concurrently, which makes it the
// natural sink when several mutator threads have their roots collected in
// parallel. Dequeue reporting false only means "empty right now": Shared
// has no termination protocol, so a single goroutine should drain it. For
// several concurrent consumers use Partitioned.
//
// Thread Safety: All methods are safe for concurrent calls.
type Shared struct {
	mu    sync.Mutex
	items []*object.Object
}

// NewShared creates an empty shared worklist.
func NewShared() *Shared {
	return &Shared{}
}

// Enqueue implements Worklist.
func (s *Shared) Enqueue(obj *object.Object) bool {
	if !obj.TryMark() {
		return false
	}
	s.mu.Lock()
	s.items = append(s.items, obj)
	s.mu.Unlock()
	return true
}

// Dequeue implements Worklist.
func (s *Shared) Dequeue() (*object.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	if n == 0 {
		return nil, false
	}
	obj := s.items[n-1]
	s.items[n-1] = nil
	s.items = s.items[:n-1]
	return obj, true
}

// IsEmpty implements Worklist.
func (s *Shared) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) == 0
}

// Clear implements Worklist.
func (s *Shared) Clear() {
	s.mu.Lock()
	clear(s.items)
	s.items = s.items[:0]
	s.mu.Unlock()
}
