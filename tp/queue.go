package tp

import "sync/atomic"

// queue is a bounded ring of segments stored by value. Capacity is fixed at
// creation and no operation allocates, so the real-time consumer never
// touches the heap.
//
// The contract is single-producer/single-consumer: the Add* path appends (and
// may drop its own most recent append), the cycle driver pops from the front,
// and the lookahead pass walks indices from the tail on the producer side.
// The element count is published atomically so an append becomes visible to
// the consumer only after the element is fully written.
type queue struct {
	ring  []Segment
	head  int
	count atomic.Int32
}

func newQueue(size int) *queue {
	return &queue{ring: make([]Segment, size)}
}

// init clears the queue without freeing the ring.
func (q *queue) init() {
	q.head = 0
	q.count.Store(0)
}

func (q *queue) cap() int {
	return len(q.ring)
}

func (q *queue) len() int {
	return int(q.count.Load())
}

// put appends a segment. Fails when full.
func (q *queue) put(tc Segment) error {
	n := q.len()
	if n >= q.cap() {
		return ErrQueueFull
	}
	q.ring[(q.head+n)%q.cap()] = tc
	q.count.Add(1)
	return nil
}

// popFront drops the head element.
func (q *queue) popFront() {
	if q.len() == 0 {
		return
	}
	q.head = (q.head + 1) % q.cap()
	q.count.Add(-1)
}

// popBack drops the most recently appended element. Used when a blend trims
// a predecessor to zero length before it ever runs.
func (q *queue) popBack() {
	if q.len() == 0 {
		return
	}
	q.count.Add(-1)
}

// item returns the i-th element from the head, or nil when out of range. The
// pointer is into the ring and stays valid until the slot is reused.
func (q *queue) item(i int) *Segment {
	if i < 0 || i >= q.len() {
		return nil
	}
	return &q.ring[(q.head+i)%q.cap()]
}

// last returns the most recently appended element, or nil when empty.
func (q *queue) last() *Segment {
	return q.item(q.len() - 1)
}
