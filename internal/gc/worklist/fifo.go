package worklist

import "github.com/kolkov/tracegc/internal/gc/object"

// FIFO is the serial worklist: a growable ring buffer owned by a single
// marking goroutine.
//
// Thread Safety: NOT safe for concurrent use. Use Shared or Partitioned
// when more than one goroutine marks.
type FIFO struct {
	buf  []*object.Object
	head int
	n    int
}

// NewFIFO creates an empty serial worklist with room for capacity objects.
func NewFIFO(capacity int) *FIFO {
	if capacity < 8 {
		capacity = 8
	}
	return &FIFO{buf: make([]*object.Object, capacity)}
}

// Enqueue implements Worklist.
func (q *FIFO) Enqueue(obj *object.Object) bool {
	if !obj.TryMark() {
		return false
	}
	q.push(obj)
	return true
}

func (q *FIFO) push(obj *object.Object) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = obj
	q.n++
}

func (q *FIFO) grow() {
	next := make([]*object.Object, 2*len(q.buf))
	for i := 0; i < q.n; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}

// Dequeue implements Worklist.
func (q *FIFO) Dequeue() (*object.Object, bool) {
	if q.n == 0 {
		return nil, false
	}
	obj := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return obj, true
}

// IsEmpty implements Worklist.
func (q *FIFO) IsEmpty() bool { return q.n == 0 }

// Len returns the number of queued objects.
func (q *FIFO) Len() int { return q.n }

// Clear implements Worklist.
func (q *FIFO) Clear() {
	clear(q.buf)
	q.head, q.n = 0, 0
}
