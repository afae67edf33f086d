// Package marketplace defines the contract with the FunPay connector: the
// outbound operations the bot needs (sending chat messages, looking up order
// state) and the inbound event types it consumes. The connector itself runs
// as a separate process; this package talks to it over HTTP.
package marketplace

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderStatus is the marketplace-side state of an order.
type OrderStatus string

const (
	StatusPaid     OrderStatus = "PAID"
	StatusClosed   OrderStatus = "CLOSED"
	StatusRefunded OrderStatus = "REFUNDED"
)

// Terminal reports whether the order can no longer be fulfilled: the buyer
// either confirmed delivery or got their money back.
func (s OrderStatus) Terminal() bool {
	return s == StatusClosed || s == StatusRefunded
}

// MessageType classifies an inbound chat message.
type MessageType string

const (
	MessageNonSystem MessageType = "NON_SYSTEM"
	MessageSystem    MessageType = "SYSTEM"
	MessageRefund    MessageType = "REFUND"
)

// OrderInfo is the connector's view of a marketplace order.
type OrderInfo struct {
	ID               string          `json:"id"`
	Status           OrderStatus     `json:"status"`
	BuyerID          int64           `json:"buyer_id"`
	ChatID           int64           `json:"chat_id"`
	Price            decimal.Decimal `json:"price"`
	Amount           int             `json:"amount"`
	Description      string          `json:"description"`
	TelegramUsername string          `json:"telegram_username"`
}

// NewOrderEvent is emitted when a buyer pays for a listing.
type NewOrderEvent struct {
	OrderID          string          `json:"order_id"`
	BuyerID          int64           `json:"buyer_id"`
	ChatID           int64           `json:"chat_id"`
	Price            decimal.Decimal `json:"price"`
	Amount           int             `json:"amount"`
	Description      string          `json:"description"`
	TelegramUsername string          `json:"telegram_username"`
}

// NewMessageEvent is emitted for every message that appears in a chat the
// bot participates in, including the bot's own messages.
type NewMessageEvent struct {
	AuthorID int64       `json:"author_id"`
	ChatID   int64       `json:"chat_id"`
	Text     string      `json:"text"`
	Type     MessageType `json:"type"`
}

// Event is a single connector event. Exactly one of the pointer fields is
// set, discriminated by Type.
type Event struct {
	Type    string           `json:"type"`
	Order   *NewOrderEvent   `json:"order,omitempty"`
	Message *NewMessageEvent `json:"message,omitempty"`
}

// Event type discriminators.
const (
	EventNewOrder   = "new_order"
	EventNewMessage = "new_message"
)

// Gateway is the outbound half of the connector contract.
type Gateway interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	GetOrder(ctx context.Context, orderID string) (*OrderInfo, error)
}

// Handler consumes inbound connector events. The stream calls it from a
// single goroutine, so implementations need no internal ordering.
type Handler interface {
	HandleNewOrder(ctx context.Context, ev NewOrderEvent)
	HandleNewMessage(ctx context.Context, ev NewMessageEvent)
}
