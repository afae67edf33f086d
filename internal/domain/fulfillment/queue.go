// Package fulfillment drives confirmed orders through the vendor purchase
// and the on-chain payment, strictly one at a time.
package fulfillment

import (
	"context"
	"sync"
	"time"

	"github.com/skobelev/autostars/internal/domain/order"
)

// Queue is a FIFO queue of confirmed orders with a bounded-wait Poll for the
// single consumer. Positions are always derived from Snapshot order, so the
// position reported at enqueue time and the one recomputed later can never
// disagree.
type Queue struct {
	mu     sync.Mutex
	items  []order.Order
	notify chan struct{}
}

var _ order.Enqueuer = (*Queue)(nil)

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends o and returns its 1-based position after insertion.
func (q *Queue) Enqueue(o order.Order) int {
	q.mu.Lock()
	q.items = append(q.items, o)
	pos := len(q.items)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return pos
}

// Poll removes and returns the oldest entry. If the queue is empty it waits
// up to wait for one to arrive; an elapsed wait or a cancelled ctx returns
// false, which the caller treats as "try again", not an error.
func (q *Queue) Poll(ctx context.Context, wait time.Duration) (order.Order, bool) {
	if o, ok := q.pop(); ok {
		return o, true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return order.Order{}, false
		case <-timer.C:
			return order.Order{}, false
		case <-q.notify:
			if o, ok := q.pop(); ok {
				return o, true
			}
		}
	}
}

func (q *Queue) pop() (order.Order, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return order.Order{}, false
	}
	o := q.items[0]
	q.items = q.items[1:]
	return o, true
}

// Snapshot returns the queued entries in FIFO order. Index i corresponds to
// queue position i+1.
func (q *Queue) Snapshot() []order.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]order.Order, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
