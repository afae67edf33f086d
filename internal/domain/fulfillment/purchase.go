package fulfillment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/skobelev/autostars/internal/domain/order"
	"github.com/skobelev/autostars/internal/marketplace"
)

// Invoice is the payable transaction descriptor the vendor hands back for a
// purchase request.
type Invoice struct {
	// Address is the destination wallet address.
	Address string
	// AmountNano is the transfer amount in nanoton, the smallest on-chain
	// unit.
	AmountNano int64
	// Payload is the opaque base64 comment cell attributing the transfer to
	// the purchase request.
	Payload string
}

// AmountTON converts the invoice amount to the wallet's base unit.
func (i Invoice) AmountTON() decimal.Decimal {
	return decimal.New(i.AmountNano, -9)
}

// Vendor is the two-step purchase API: initiate, then fetch the payment
// descriptor.
type Vendor interface {
	InitPurchase(ctx context.Context, recipient string, quantity int) (reqID string, err error)
	PaymentInvoice(ctx context.Context, reqID string) (*Invoice, error)
}

// Executor submits an on-chain transfer and returns its transaction
// identifier.
type Executor interface {
	Transfer(ctx context.Context, address string, amountNano int64, memo string) (txID string, err error)
}

// RateSource provides the current fiat exchange rate for the payment
// currency. Best effort only: a failing rate never blocks a purchase.
type RateSource interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// PayloadDecoder turns the vendor's opaque payload into a human-readable
// memo. Decoding failures yield an empty memo, never an error.
type PayloadDecoder func(payload string) string

// Purchaser executes the purchase protocol for one order: vendor initiate,
// payment descriptor, memo decode, operator accounting note, on-chain
// transfer, and the success/failure bookkeeping on the order store.
type Purchaser struct {
	vendor   Vendor
	executor Executor
	rates    RateSource
	decode   PayloadDecoder

	store     order.Store
	gateway   marketplace.Gateway
	fulfilled *order.FulfilledLog

	// operatorChat receives the accounting note; zero disables it.
	operatorChat int64

	metrics *Metrics
	tracer  trace.Tracer
	log     *zap.Logger
}

// PurchaserDeps bundles the collaborators a Purchaser needs.
type PurchaserDeps struct {
	Vendor   Vendor
	Executor Executor
	Rates    RateSource
	Decode   PayloadDecoder

	Store     order.Store
	Gateway   marketplace.Gateway
	Fulfilled *order.FulfilledLog

	OperatorChat int64

	Metrics *Metrics
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// NewPurchaser creates a Purchaser.
func NewPurchaser(deps PurchaserDeps) *Purchaser {
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Purchaser{
		vendor:       deps.Vendor,
		executor:     deps.Executor,
		rates:        deps.Rates,
		decode:       deps.Decode,
		store:        deps.Store,
		gateway:      deps.Gateway,
		fulfilled:    deps.Fulfilled,
		operatorChat: deps.OperatorChat,
		metrics:      deps.Metrics,
		tracer:       tracer,
		log:          lg.Named("purchase"),
	}
}

// Fulfill runs the purchase protocol for o. On any failure the buyer is
// notified, the confirmation gate reopens, and the recipient is cleared so
// the conversation can restart; the order record stays in the store. On
// success the buyer is notified and the record is removed.
func (p *Purchaser) Fulfill(ctx context.Context, o order.Order) error {
	ctx, span := p.tracer.Start(ctx, "purchase")
	defer span.End()

	reqID, err := p.vendor.InitPurchase(ctx, o.Recipient, o.Quantity)
	if err != nil || reqID == "" {
		p.fail(ctx, o)
		if err == nil {
			err = errors.New("vendor returned empty request id")
		}
		return errors.Wrap(err, "init purchase")
	}

	inv, err := p.vendor.PaymentInvoice(ctx, reqID)
	if err != nil {
		p.fail(ctx, o)
		return errors.Wrap(err, "payment invoice")
	}
	if inv.Address == "" || inv.AmountNano <= 0 {
		p.fail(ctx, o)
		return errors.Errorf("malformed invoice: address=%q amount=%d", inv.Address, inv.AmountNano)
	}

	memo := p.decode(inv.Payload)
	if memo == "" {
		p.log.Warn("Invoice payload decoded to empty memo", zap.String("order_id", o.OrderID))
	}

	p.reportCost(ctx, o, inv.AmountTON())

	txID, err := p.executor.Transfer(ctx, inv.Address, inv.AmountNano, memo)
	if err != nil || txID == "" {
		p.fail(ctx, o)
		if err == nil {
			err = errors.New("executor returned empty transaction id")
		}
		return errors.Wrap(err, "transfer")
	}

	p.fulfilled.Add(o.OrderID)
	p.store.Delete(o.UserID)
	p.metrics.Fulfilled(ctx)
	p.log.Info("Order fulfilled",
		zap.String("order_id", o.OrderID),
		zap.Int64("user_id", o.UserID),
		zap.Int("quantity", o.Quantity),
		zap.String("tx_id", txID))
	p.send(ctx, o.ChatID, msgDelivered(o.Quantity, o.Username))
	return nil
}

// fail notifies the buyer and reopens the conversation: the gate drops and
// the recipient is cleared so a fresh handle can be supplied.
func (p *Purchaser) fail(ctx context.Context, o order.Order) {
	p.metrics.Failed(ctx)
	p.send(ctx, o.ChatID, msgDeliveryFailed(o.Quantity, o.Username))
	p.store.Update(o.UserID, func(ord *order.Order) {
		ord.Confirmed = false
		ord.Recipient = ""
		ord.Username = ""
	})
}

// reportCost sends the operator an accounting note: the TON cost at the
// current fiat rate and the margin against what the buyer paid. Strictly
// best effort.
func (p *Purchaser) reportCost(ctx context.Context, o order.Order, amountTON decimal.Decimal) {
	if p.operatorChat == 0 {
		return
	}

	rate, err := p.rates.Rate(ctx)
	if err != nil {
		p.log.Warn("Exchange rate lookup failed", zap.Error(err))
		return
	}

	costRUB := amountTON.Mul(rate)
	var payback decimal.Decimal
	if !costRUB.IsZero() {
		payback = o.FunpayPrice.Div(costRUB).Round(2)
	}
	profit := o.FunpayPrice.Sub(costRUB).Round(2)

	msg := fmt.Sprintf(
		"⭐ Инфо\n\n💸 Перевожу %s TON или же %s RUB (%d звезд)\n\n❤️‍🩹 Окуп: %sX (%s RUB)\n\nЗаказ: %s\nUsername: %s",
		amountTON.String(), costRUB.Round(2).String(), o.Quantity,
		payback.String(), profit.String(),
		o.OrderID, o.Username,
	)
	if err := p.gateway.SendMessage(ctx, p.operatorChat, msg); err != nil {
		p.log.Warn("Operator notification failed", zap.Error(err))
	}
}

func (p *Purchaser) send(ctx context.Context, chatID int64, text string) {
	if err := p.gateway.SendMessage(ctx, chatID, text); err != nil {
		p.log.Error("Send message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
