// Package mmq implements the two in-process queue variants of spec.md
// §4.E/§4.F: a timestamp-ordered priority queue with watermark-gated
// delivery (MMPQ) and a fixed-capacity ring buffer FIFO (MMQ), each with a
// single dedicated consumer goroutine.
//
// Grounded on Blocks/MMQ/mmpq.h and Blocks/MMQ/mmq.h.
package mmq

import (
	"container/heap"
	"sync"

	"github.com/pkg/errors"

	"github.com/C5T/Current-sub007/internal/idxts"
)

// Consumer receives entries popped off a PriorityQueue in timestamp order.
// It is invoked on the queue's single consumer goroutine, never
// concurrently with itself, and never while the queue's internal lock is
// held.
type Consumer[E any] func(payload E, current, last idxts.IdxTS)

// pqItem is a single entry in the priority queue's backing heap, ordered
// by (us, insertion index) — the Go stdlib replacement for the original's
// std::set<Entry>, since Go has no built-in ordered multiset.
type pqItem[E any] struct {
	idxts   idxts.IdxTS
	payload E
}

type pqHeap[E any] []pqItem[E]

func (h pqHeap[E]) Len() int { return len(h) }
func (h pqHeap[E]) Less(i, j int) bool {
	return h[i].idxts.Less(h[j].idxts)
}
func (h pqHeap[E]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pqHeap[E]) Push(x any)   { *h = append(*h, x.(pqItem[E])) }
func (h *pqHeap[E]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// PriorityQueue delivers published payloads in strictly non-decreasing
// timestamp order, gated by a watermark that can lag behind publishes
// ("publish into the future").
type PriorityQueue[E any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    pqHeap[E]
	nextIdx uint64

	// headUS is the watermark: it gates both the monotonicity check on
	// every Publish/PublishIntoTheFuture/UpdateHead call and which heap
	// entries are deliverable. Only Publish and UpdateHead advance it —
	// PublishIntoTheFuture deliberately does not, which is what lets a
	// future-dated entry be accepted without unblocking entries between
	// the previous head and its own timestamp.
	headUS int64
	// highestAssigned is the highest (index, us) ever assigned by any
	// Publish/PublishIntoTheFuture call, reported to the consumer as the
	// "last" parameter — independent of headUS.
	highestAssigned idxts.IdxTS

	consumer   Consumer[E]
	destroying bool
	done       chan struct{}
}

// New constructs a PriorityQueue and spawns its consumer goroutine
// immediately, matching MMPQ's constructor.
func New[E any](consumer Consumer[E]) *PriorityQueue[E] {
	q := &PriorityQueue[E]{consumer: consumer, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.consumerLoop()
	return q
}

// Publish assigns the next index (the first publish gets index 1) and
// advances the watermark to us. us must be strictly greater than the
// current watermark, which starts at 0; violating this returns
// idxts.ErrInconsistentTimestamp before any state changes.
func (q *PriorityQueue[E]) Publish(payload E, us int64) (idxts.IdxTS, error) {
	return q.publish(payload, us, true)
}

// PublishIntoTheFuture assigns the next index but does not advance the
// watermark — the entry is held in the queue until a later Publish or
// UpdateHead moves the watermark past its timestamp.
func (q *PriorityQueue[E]) PublishIntoTheFuture(payload E, us int64) (idxts.IdxTS, error) {
	return q.publish(payload, us, false)
}

func (q *PriorityQueue[E]) publish(payload E, us int64, advanceHead bool) (idxts.IdxTS, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if us <= q.headUS {
		return idxts.Zero, errors.Wrapf(idxts.ErrInconsistentTimestamp, "publish us=%d <= head=%d", us, q.headUS)
	}

	// Indices are assigned 1, 2, 3, ... in publish order.
	q.nextIdx++
	it := idxts.IdxTS{Index: q.nextIdx, US: us}
	q.highestAssigned = it
	heap.Push(&q.heap, pqItem[E]{idxts: it, payload: payload})
	if advanceHead {
		q.headUS = us
	}
	q.cond.Broadcast()
	return it, nil
}

// UpdateHead advances the watermark only; it requires us to be strictly
// greater than the current watermark, matching mmpq.h's update_head.
func (q *PriorityQueue[E]) UpdateHead(us int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if us <= q.headUS {
		return errors.Wrapf(idxts.ErrInconsistentTimestamp, "update_head us=%d <= head=%d", us, q.headUS)
	}
	q.headUS = us
	q.cond.Broadcast()
	return nil
}

// Close signals the consumer goroutine to exit, discarding any
// pending future-dated entries, and waits for it to finish.
func (q *PriorityQueue[E]) Close() {
	q.mu.Lock()
	q.destroying = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *PriorityQueue[E]) consumerLoop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for {
			if q.destroying {
				q.mu.Unlock()
				return
			}
			if len(q.heap) > 0 && q.heap[0].idxts.US <= q.headUS {
				break
			}
			q.cond.Wait()
		}
		item := heap.Pop(&q.heap).(pqItem[E])
		last := q.highestAssigned
		q.mu.Unlock()

		q.consumer(item.payload, item.idxts, last)
	}
}
