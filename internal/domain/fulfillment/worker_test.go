package fulfillment

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobelev/autostars/internal/domain/order"
)

// serialExecutor fails the test if two transfers ever overlap.
type serialExecutor struct {
	inFlight atomic.Int32
	overlap  atomic.Bool
	count    atomic.Int32
}

func (e *serialExecutor) Transfer(_ context.Context, _ string, _ int64, _ string) (string, error) {
	if e.inFlight.Add(1) > 1 {
		e.overlap.Store(true)
	}
	time.Sleep(5 * time.Millisecond)
	e.inFlight.Add(-1)
	n := e.count.Add(1)
	return "tx-" + strconv.Itoa(int(n)), nil
}

type workerFixture struct {
	queue    *Queue
	store    *mockStore
	gateway  *mockGateway
	vendor   *mockVendor
	executor *serialExecutor
	worker   *Worker
}

func newWorkerFixture(orders ...order.Order) *workerFixture {
	f := &workerFixture{
		queue:   NewQueue(),
		store:   newMockStore(orders...),
		gateway: &mockGateway{},
		vendor: &mockVendor{
			reqID:   "req-1",
			invoice: &Invoice{Address: "EQtest", AmountNano: 500_000_000},
		},
		executor: &serialExecutor{},
	}
	p := NewPurchaser(PurchaserDeps{
		Vendor:    f.vendor,
		Executor:  f.executor,
		Rates:     &mockRates{rate: decimal.NewFromInt(250)},
		Decode:    func(payload string) string { return payload },
		Store:     f.store,
		Gateway:   f.gateway,
		Fulfilled: order.NewFulfilledLog(1000, 0.001),
	})
	f.worker = NewWorker(WorkerDeps{
		Queue:       f.queue,
		Store:       f.store,
		Purchaser:   p,
		Gateway:     f.gateway,
		Cooldown:    0,
		PollTimeout: 10 * time.Millisecond,
	})
	return f
}

func queuedOrder(userID int64, pos int) order.Order {
	id := strconv.FormatInt(userID, 10)
	return order.Order{
		UserID:        userID,
		ChatID:        userID * 10,
		OrderID:       "A-" + id,
		Quantity:      50,
		Username:      "@user" + id,
		Recipient:     "rec-" + id,
		Confirmed:     true,
		QueuePosition: pos,
	}
}

// runUntil drains the worker until cond holds, then cancels and waits for
// Run to return.
func (f *workerFixture) runUntil(t *testing.T, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorker_ProcessesFIFOWithoutOverlap(t *testing.T) {
	o1, o2, o3 := queuedOrder(1, 1), queuedOrder(2, 2), queuedOrder(3, 3)
	f := newWorkerFixture(o1, o2, o3)

	f.queue.Enqueue(o1)
	f.queue.Enqueue(o2)
	f.queue.Enqueue(o3)

	f.runUntil(t, func() bool { return f.store.Len() == 0 })

	assert.False(t, f.executor.overlap.Load(), "two transfers were in flight concurrently")

	calls := f.vendor.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "rec-1", calls[0].recipient)
	assert.Equal(t, "rec-2", calls[1].recipient)
	assert.Equal(t, "rec-3", calls[2].recipient)
	assert.Equal(t, 50, calls[0].quantity)
}

func TestWorker_SkipsOrderWithoutLiveRecord(t *testing.T) {
	o1, o2 := queuedOrder(1, 1), queuedOrder(2, 2)
	f := newWorkerFixture(o2) // order 1 was refunded while queued
	f.queue.Enqueue(o1)
	f.queue.Enqueue(o2)

	f.runUntil(t, func() bool { return f.store.Len() == 0 })

	// Only order 2 reached the vendor.
	calls := f.vendor.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "rec-2", calls[0].recipient)
	for _, msg := range f.gateway.messages() {
		assert.NotEqual(t, int64(10), msg.chatID, "refunded buyer must not be notified")
	}
}

func TestWorker_ReannouncesChangedPositionsOnly(t *testing.T) {
	o1, o2, o3 := queuedOrder(1, 1), queuedOrder(2, 2), queuedOrder(3, 3)
	f := newWorkerFixture(o1, o2, o3)
	f.queue.Enqueue(o1)
	f.queue.Enqueue(o2)
	f.queue.Enqueue(o3)

	f.runUntil(t, func() bool { return f.store.Len() == 0 })

	// Buyer 2 moves 2->1 once; buyer 3 moves 3->2 then 2->1. Buyer 1 was
	// never requeued and gets no position update.
	counts := map[int64]int{}
	for _, msg := range f.gateway.messages() {
		if strings.Contains(msg.text, "на позиции") {
			counts[msg.chatID]++
		}
	}
	assert.Equal(t, 0, counts[10])
	assert.Equal(t, 1, counts[20])
	assert.Equal(t, 2, counts[30])
}

func TestWorker_PurchaseFailureDoesNotStopLoop(t *testing.T) {
	o1, o2 := queuedOrder(1, 1), queuedOrder(2, 2)
	f := newWorkerFixture(o1, o2)
	f.vendor.reqID = "" // every purchase fails

	f.queue.Enqueue(o1)
	f.queue.Enqueue(o2)

	f.runUntil(t, func() bool { return len(f.vendor.calls()) == 2 })

	// Both orders were attempted, both failed, both records remain with the
	// gate reopened.
	for _, id := range []int64{1, 2} {
		o, ok := f.store.Get(id)
		require.True(t, ok)
		assert.False(t, o.Confirmed)
	}
}
