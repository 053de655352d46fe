package heap

import (
	"container/list"
	"sync"

	"github.com/kolkov/tracegc/internal/gc/object"
	"github.com/kolkov/tracegc/internal/gc/sweep"
)

// ExtraStore keeps every installed ExtraData record.
//
// Deletions requested outside a sweep (by the finalizer processor) are
// deferred: ScheduleDeletion only records the request and ProcessDeletions,
// called by the sweeper under its own schedule, applies it.
//
// Records installed after BeginCycle are skipped by the next iterator.
//
// Thread Safety: All methods are safe for concurrent calls.
type ExtraStore struct {
	mu    sync.Mutex
	recs  *list.List // *object.ExtraData
	index map[*object.ExtraData]*list.Element
	fresh map[*object.ExtraData]struct{} // installed during the cycle; nil outside one

	pendingMu sync.Mutex
	pending   []*object.ExtraData
}

// NewExtraStore creates an empty store.
func NewExtraStore() *ExtraStore {
	return &ExtraStore{recs: list.New(), index: make(map[*object.ExtraData]*list.Element)}
}

// Install attaches an ExtraData record to obj (or returns the existing one)
// and tracks it.
func (s *ExtraStore) Install(obj *object.Object) *object.ExtraData {
	ed := object.Install(obj)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[ed]; !ok {
		s.index[ed] = s.recs.PushBack(ed)
		if s.fresh != nil {
			s.fresh[ed] = struct{}{}
		}
	}
	return ed
}

// BeginCycle fences the records installed so far. Only they are visited by
// the next LockForIter.
func (s *ExtraStore) BeginCycle() {
	s.mu.Lock()
	s.fresh = make(map[*object.ExtraData]struct{})
	s.mu.Unlock()
}

// ScheduleDeletion requests that ed be reclaimed at the next
// ProcessDeletions.
func (s *ExtraStore) ScheduleDeletion(ed *object.ExtraData) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, ed)
	s.pendingMu.Unlock()
}

// ProcessDeletions reclaims every record scheduled so far.
func (s *ExtraStore) ProcessDeletions() {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = nil
	s.pendingMu.Unlock()
	if len(pending) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ed := range pending {
		e, ok := s.index[ed]
		if !ok {
			continue
		}
		ed.ClearWeakReferenceCounter()
		ed.Uninstall()
		s.recs.Remove(e)
		delete(s.index, ed)
		delete(s.fresh, ed)
	}
}

// Len returns the number of tracked records.
func (s *ExtraStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs.Len()
}

// ForEach calls fn for every tracked record under the store lock.
func (s *ExtraStore) ForEach(fn func(*object.ExtraData)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.recs.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*object.ExtraData))
	}
}

// LockForIter locks the store and returns a cursor at the first record.
// The caller must Close the iterator.
func (s *ExtraStore) LockForIter() sweep.ExtraIterator {
	s.mu.Lock()
	it := &ExtraIterator{s: s, cur: s.recs.Front()}
	it.skipFresh()
	return it
}

// ExtraIterator is the locked cursor over an ExtraStore.
type ExtraIterator struct {
	s   *ExtraStore
	cur *list.Element
}

// Valid reports whether the cursor points at a record.
func (it *ExtraIterator) Valid() bool { return it.cur != nil }

// Extra returns the current record.
func (it *ExtraIterator) Extra() *object.ExtraData { return it.cur.Value.(*object.ExtraData) }

// Next advances the cursor.
func (it *ExtraIterator) Next() {
	it.cur = it.cur.Next()
	it.skipFresh()
}

// EraseAndAdvance forgets the current record and advances.
func (it *ExtraIterator) EraseAndAdvance() {
	e := it.cur
	it.cur = e.Next()
	delete(it.s.index, it.s.recs.Remove(e).(*object.ExtraData))
	it.skipFresh()
}

func (it *ExtraIterator) skipFresh() {
	for it.cur != nil {
		if _, ok := it.s.fresh[it.cur.Value.(*object.ExtraData)]; !ok {
			return
		}
		it.cur = it.cur.Next()
	}
}

// Close ends the cycle started by BeginCycle, if any, and releases the
// store lock.
func (it *ExtraIterator) Close() {
	if it.s != nil {
		it.s.fresh = nil
		it.s.mu.Unlock()
		it.s = nil
	}
}

// NewWeakReference returns the weak reference counter of referent,
// allocating it in store and installing it in referent's ExtraData on first
// use. Every call for the same referent returns the same counter.
func NewWeakReference(store *Store, extra *ExtraStore, referent *object.Object) *object.Object {
	ed := extra.Install(referent)
	if c := ed.WeakReferenceCounter(); c != nil {
		return c
	}
	counter := object.NewWeakCounter(store.NewObject("WeakReference", 16, object.FlagHeap, 0), referent)
	if got := ed.GetOrSetWeakReferenceCounter(counter); got != counter {
		return got
	}
	store.Publish(counter)
	return counter
}
