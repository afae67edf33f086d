// Package memory provides the in-process order store. Orders are
// deliberately not persisted: a restart drops all conversational state, and
// the marketplace remains the source of truth for paid orders.
package memory

import (
	"sync"

	"github.com/skobelev/autostars/internal/domain/order"
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store with a mutex-guarded map.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[int64]order.Order
}

// NewOrderStore creates an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[int64]order.Order)}
}

// Get returns a copy of the buyer's order.
func (s *OrderStore) Get(userID int64) (order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[userID]
	return o, ok
}

// Upsert inserts or replaces the buyer's order.
func (s *OrderStore) Upsert(o order.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.UserID] = o
}

// Update applies fn to the buyer's order under the write lock, so the
// read-modify-write cannot interleave with any other mutation.
func (s *OrderStore) Update(userID int64, fn func(*order.Order)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[userID]
	if !ok {
		return false
	}
	fn(&o)
	s.orders[userID] = o
	return true
}

// Delete removes the buyer's order if present.
func (s *OrderStore) Delete(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, userID)
}

// Len returns the number of active orders.
func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
