package order

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// FulfilledLog remembers marketplace order IDs that have already been paid
// out, so a replayed or duplicated NewOrderEvent can never trigger a second
// payment. A bloom filter keeps it constant-size for the life of the
// process; false positives skip an order that was never fulfilled, which is
// the safe direction for money movement.
type FulfilledLog struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewFulfilledLog creates a log sized for n expected orders at the given
// false-positive rate.
func NewFulfilledLog(n uint, fp float64) *FulfilledLog {
	return &FulfilledLog{filter: bloom.NewWithEstimates(n, fp)}
}

// Add records an order ID as fulfilled.
func (l *FulfilledLog) Add(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter.AddString(orderID)
}

// Seen reports whether the order ID has (probably) been fulfilled before.
func (l *FulfilledLog) Seen(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filter.TestString(orderID)
}
