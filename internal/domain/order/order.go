// Package order holds the per-buyer order model and the conversational flow
// that collects a delivery recipient and an explicit confirmation before an
// order may enter fulfillment.
package order

import (
	"github.com/shopspring/decimal"
)

// Order is the in-memory record of one buyer's purchase, keyed by buyer ID.
// At most one order exists per buyer at a time.
type Order struct {
	// UserID is the buyer's marketplace identity and the store key.
	UserID int64
	// ChatID is the conversation channel for buyer notifications.
	ChatID int64
	// OrderID is the external marketplace order reference.
	OrderID string
	// Quantity is the number of stars to deliver: the listing's per-item
	// count multiplied by how many items the buyer purchased.
	Quantity int
	// Username is the buyer-supplied Telegram handle, Recipient the
	// vendor-resolved account identifier. Both must be non-empty before a
	// confirmation is accepted.
	Username  string
	Recipient string
	// FunpayPrice is what the buyer paid, in the marketplace currency. Used
	// only for the operator profit report.
	FunpayPrice decimal.Decimal
	// QueuePosition is the 1-based rank among queued orders, recomputed on
	// every queue mutation. Zero until the order is enqueued.
	QueuePosition int
	// Confirmed is a one-way gate: once set, chat-driven mutation stops and
	// the order is either queued for fulfillment or terminally closed. Only
	// an explicit fulfillment failure reverts it, to allow re-confirmation.
	Confirmed bool
}

// Ready reports whether the order has everything needed to ask for
// confirmation.
func (o *Order) Ready() bool {
	return o.Username != "" && o.Recipient != ""
}

// Store owns the buyer-to-order mapping. All mutation goes through Update so
// a read-modify-write can never interleave with another goroutine's, which
// is what keeps the flow's transitions and the worker's position
// re-announcements consistent.
type Store interface {
	// Get returns a copy of the buyer's order, or false if none exists.
	Get(userID int64) (Order, bool)
	// Upsert inserts or replaces the buyer's order.
	Upsert(o Order)
	// Update atomically applies fn to the buyer's order if one exists and
	// reports whether it did.
	Update(userID int64, fn func(*Order)) bool
	// Delete removes the buyer's order if present.
	Delete(userID int64)
	// Len returns the number of active orders.
	Len() int
}
