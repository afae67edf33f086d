package order

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skobelev/autostars/internal/marketplace"
)

// Auto-fulfillable listings carry a per-item star count in the description,
// e.g. "#count: 50". Orders for listings without the marker are ignored.
var countPattern = regexp.MustCompile(`#count: (\d+)`)

// handlePattern extracts a Telegram handle from free-form buyer text.
var handlePattern = regexp.MustCompile(`@\w+`)

var (
	affirmativeTokens = []string{"да", "+"}
	negativeTokens    = []string{"нет", "-"}
)

// RecipientResolver translates a public Telegram handle into the vendor's
// internal recipient identifier. Any error, including "no such account",
// means the handle cannot receive stars.
type RecipientResolver interface {
	SearchRecipient(ctx context.Context, handle string) (string, error)
}

// Enqueuer accepts a confirmed order into the fulfillment queue and returns
// its 1-based position after insertion.
type Enqueuer interface {
	Enqueue(o Order) int
}

// Flow is the per-buyer conversational state machine. It consumes connector
// events, mutates the order store, and hands confirmed orders to the queue.
// All handlers run on the single event-stream goroutine; the store keeps
// mutations consistent with the queue worker.
type Flow struct {
	store     Store
	gateway   marketplace.Gateway
	resolver  RecipientResolver
	queue     Enqueuer
	fulfilled *FulfilledLog

	// selfID is the bot's own marketplace account; its messages are ignored.
	selfID int64
	// lookupTimeout bounds a single recipient resolution so a slow vendor
	// cannot stall the event stream for long.
	lookupTimeout time.Duration

	log *zap.Logger
}

var _ marketplace.Handler = (*Flow)(nil)

// FlowDeps bundles the collaborators a Flow needs.
type FlowDeps struct {
	Store     Store
	Gateway   marketplace.Gateway
	Resolver  RecipientResolver
	Queue     Enqueuer
	Fulfilled *FulfilledLog

	SelfID        int64
	LookupTimeout time.Duration

	Logger *zap.Logger
}

// NewFlow creates the conversational flow.
func NewFlow(deps FlowDeps) *Flow {
	timeout := deps.LookupTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Flow{
		store:         deps.Store,
		gateway:       deps.Gateway,
		resolver:      deps.Resolver,
		queue:         deps.Queue,
		fulfilled:     deps.Fulfilled,
		selfID:        deps.SelfID,
		lookupTimeout: timeout,
		log:           lg.Named("flow"),
	}
}

// HandleNewOrder seeds a new order record when a buyer pays for an
// auto-fulfillable listing, and starts the recipient conversation.
func (f *Flow) HandleNewOrder(ctx context.Context, ev marketplace.NewOrderEvent) {
	count, ok := extractCount(ev.Description)
	if !ok {
		f.log.Debug("Listing has no count marker, ignoring order", zap.String("order_id", ev.OrderID))
		return
	}

	if f.fulfilled.Seen(ev.OrderID) {
		f.log.Warn("Order already fulfilled, ignoring duplicate event", zap.String("order_id", ev.OrderID))
		return
	}

	if existing, ok := f.store.Get(ev.BuyerID); ok && existing.Confirmed {
		// The previous order is queued or terminally gated; overwriting it
		// would corrupt the queued record. The new order waits until the old
		// one leaves the store.
		f.log.Warn("Buyer already has a committed order, ignoring new order event",
			zap.Int64("user_id", ev.BuyerID),
			zap.String("active_order_id", existing.OrderID),
			zap.String("order_id", ev.OrderID))
		return
	}

	o := Order{
		UserID:      ev.BuyerID,
		ChatID:      ev.ChatID,
		OrderID:     ev.OrderID,
		Quantity:    count * ev.Amount,
		FunpayPrice: ev.Price,
	}
	f.store.Upsert(o)
	f.log.Info("Order created",
		zap.String("order_id", o.OrderID),
		zap.Int64("user_id", o.UserID),
		zap.Int("quantity", o.Quantity))

	if ev.TelegramUsername == "" {
		f.send(ctx, o.ChatID, msgAskUsername(o.Quantity))
		return
	}
	f.resolveAndPrompt(ctx, o.UserID, o.ChatID, "@"+strings.TrimPrefix(ev.TelegramUsername, "@"))
}

// HandleNewMessage advances the buyer's conversation: handle entry, yes/no
// confirmation, and refund-driven deletion.
func (f *Flow) HandleNewMessage(ctx context.Context, ev marketplace.NewMessageEvent) {
	if ev.AuthorID == f.selfID || ev.Type != marketplace.MessageNonSystem {
		if ev.Type == marketplace.MessageRefund {
			if _, ok := f.store.Get(ev.AuthorID); ok {
				f.store.Delete(ev.AuthorID)
				f.log.Info("Order deleted on refund", zap.Int64("user_id", ev.AuthorID))
			}
		}
		return
	}

	o, ok := f.store.Get(ev.AuthorID)
	if !ok {
		return
	}
	if o.Confirmed {
		// Committed to fulfillment (or terminally gated): the conversation
		// is over.
		return
	}

	switch {
	case !o.Ready():
		handle := extractHandle(ev.Text)
		if handle == "" {
			return
		}
		f.resolveAndPrompt(ctx, o.UserID, ev.ChatID, handle)

	case matchesToken(ev.Text, affirmativeTokens):
		f.confirm(ctx, o)

	case matchesToken(ev.Text, negativeTokens):
		f.store.Update(o.UserID, func(ord *Order) {
			ord.Recipient = ""
			ord.Username = ""
		})
		f.send(ctx, ev.ChatID, msgCancelled(o.Quantity, o.Username))
	}
}

// resolveAndPrompt runs the vendor recipient lookup for handle. On success
// the order moves to awaiting confirmation; on failure the marketplace order
// status decides between a terminal gate and a retry prompt.
func (f *Flow) resolveAndPrompt(ctx context.Context, userID, chatID int64, handle string) {
	lookupCtx, cancel := context.WithTimeout(ctx, f.lookupTimeout)
	recipient, err := f.resolver.SearchRecipient(lookupCtx, handle)
	cancel()

	if err != nil || recipient == "" {
		// Lookup errors and "no such account" are deliberately not told
		// apart: either way the buyer needs a different handle.
		f.log.Info("Recipient resolution failed",
			zap.Int64("user_id", userID),
			zap.String("handle", handle),
			zap.Error(err))
		f.gateOrRetry(ctx, userID, chatID)
		return
	}

	var quantity int
	f.store.Update(userID, func(o *Order) {
		o.Username = handle
		o.Recipient = recipient
		quantity = o.Quantity
	})
	f.send(ctx, chatID, msgConfirm(quantity, handle))
}

// gateOrRetry re-checks the marketplace order after a failed resolution: a
// closed or refunded order is gated (nothing left to fulfill); otherwise the
// buyer is asked for another handle.
func (f *Flow) gateOrRetry(ctx context.Context, userID, chatID int64) {
	o, ok := f.store.Get(userID)
	if !ok {
		return
	}

	info, err := f.gateway.GetOrder(ctx, o.OrderID)
	if err == nil && info.Status.Terminal() {
		f.store.Update(userID, func(ord *Order) { ord.Confirmed = true })
		f.log.Info("Order gated, marketplace status is terminal",
			zap.String("order_id", o.OrderID),
			zap.String("status", string(info.Status)))
		return
	}
	if err != nil {
		f.log.Warn("Order status lookup failed", zap.String("order_id", o.OrderID), zap.Error(err))
	}

	f.store.Update(userID, func(ord *Order) { ord.Username = "" })
	f.send(ctx, chatID, msgNotFound)
}

// confirm commits the order: one last closed/refunded check, then the gate
// flips and the order enters the queue.
func (f *Flow) confirm(ctx context.Context, o Order) {
	info, err := f.gateway.GetOrder(ctx, o.OrderID)
	if err != nil {
		// Without a status we must not risk paying a refunded order. The
		// buyer can repeat the confirmation.
		f.log.Warn("Order status lookup failed, confirmation not accepted",
			zap.String("order_id", o.OrderID), zap.Error(err))
		return
	}
	if info.Status.Terminal() {
		f.store.Update(o.UserID, func(ord *Order) { ord.Confirmed = true })
		f.log.Info("Order gated on confirmation, marketplace status is terminal",
			zap.String("order_id", o.OrderID),
			zap.String("status", string(info.Status)))
		return
	}

	f.store.Update(o.UserID, func(ord *Order) { ord.Confirmed = true })
	queued, _ := f.store.Get(o.UserID)
	pos := f.queue.Enqueue(queued)
	f.store.Update(o.UserID, func(ord *Order) { ord.QueuePosition = pos })

	f.log.Info("Order queued",
		zap.String("order_id", o.OrderID),
		zap.Int64("user_id", o.UserID),
		zap.Int("position", pos))
	f.send(ctx, o.ChatID, msgQueued(o.Quantity, pos))
}

func (f *Flow) send(ctx context.Context, chatID int64, text string) {
	if err := f.gateway.SendMessage(ctx, chatID, text); err != nil {
		f.log.Error("Send message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func extractCount(description string) (int, bool) {
	m := countPattern.FindStringSubmatch(description)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func extractHandle(text string) string {
	return handlePattern.FindString(text)
}

func matchesToken(text string, tokens []string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, tok := range tokens {
		if t == tok {
			return true
		}
	}
	return false
}
