package transport

import (
	"errors"
	"sync"

	"github.com/interactionlab/tandem/internal/domain/event"
)

var (
	// ErrEmitOverflow means a High-priority event found the queue full of
	// High-priority events. The connection is beyond saving and gets closed.
	ErrEmitOverflow = errors.New("emit overflow: queue full of critical events")
	// ErrQueueClosed means the connection is already shut down.
	ErrQueueClosed = errors.New("send queue closed")
)

// sendQueue is the bounded outbound buffer of one connection.
//
// [ORDERING] Entries are appended at the tail only; eviction removes from
// the middle but never reorders survivors, so per-target emit order is
// preserved end to end.
//
// [BACKPRESSURE] On overflow the oldest entry of a lower-or-equal,
// non-High class is evicted to make room. High-priority events are never
// evicted; if one cannot fit, push fails with ErrEmitOverflow.
type sendQueue struct {
	capacity int
	notify   chan struct{}

	mu      sync.Mutex
	items   []event.Eventer
	closed  bool
	dropped uint64
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		items:    make([]event.Eventer, 0, capacity),
	}
}

// push enqueues ev, evicting per the policy above. The returned evicted
// count is for drop accounting.
func (q *sendQueue) push(ev event.Eventer) (evicted int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	if len(q.items) < q.capacity {
		q.items = append(q.items, ev)
		q.signal()
		return 0, nil
	}

	p := ev.GetPriority()
	victim := -1
	for i, it := range q.items {
		ip := it.GetPriority()
		if ip >= event.PriorityHigh {
			continue
		}
		if ip <= p {
			victim = i
			break
		}
	}

	if victim < 0 {
		if p >= event.PriorityHigh {
			return 0, ErrEmitOverflow
		}
		// Queue saturated with higher classes; the newcomer is the drop.
		q.dropped++
		return 1, nil
	}

	copy(q.items[victim:], q.items[victim+1:])
	q.items[len(q.items)-1] = ev
	q.dropped++
	q.signal()
	return 1, nil
}

// pop removes the head entry, if any.
func (q *sendQueue) pop() (event.Eventer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return ev, true
}

// wait returns the channel the writer parks on between batches.
func (q *sendQueue) wait() <-chan struct{} { return q.notify }

func (q *sendQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// close rejects further pushes and drops buffered entries.
func (q *sendQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *sendQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
