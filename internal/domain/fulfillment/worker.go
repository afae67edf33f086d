package fulfillment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skobelev/autostars/internal/domain/order"
	"github.com/skobelev/autostars/internal/marketplace"
)

// Worker is the queue's single consumer. Running exactly one Worker against
// a Queue is what serializes on-chain payments: two transfers are never in
// flight at the same time.
type Worker struct {
	queue     *Queue
	store     order.Store
	purchaser *Purchaser
	gateway   marketplace.Gateway

	// cooldown is the pause before each purchase, pacing vendor requests and
	// wallet activity.
	cooldown time.Duration
	// pollTimeout bounds an empty poll so shutdown is observed promptly.
	pollTimeout time.Duration

	metrics *Metrics
	log     *zap.Logger
}

// WorkerDeps bundles the collaborators a Worker needs.
type WorkerDeps struct {
	Queue     *Queue
	Store     order.Store
	Purchaser *Purchaser
	Gateway   marketplace.Gateway

	Cooldown    time.Duration
	PollTimeout time.Duration

	Metrics *Metrics
	Logger  *zap.Logger
}

// NewWorker creates the fulfillment worker.
func NewWorker(deps WorkerDeps) *Worker {
	cooldown := deps.Cooldown
	if cooldown < 0 {
		cooldown = 0
	}
	pollTimeout := deps.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Worker{
		queue:       deps.Queue,
		store:       deps.Store,
		purchaser:   deps.Purchaser,
		gateway:     deps.Gateway,
		cooldown:    cooldown,
		pollTimeout: pollTimeout,
		metrics:     deps.Metrics,
		log:         lg.Named("worker"),
	}
}

// Run consumes the queue until ctx is cancelled. Every per-order failure is
// logged and skipped; nothing that happens to a single order stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Fulfillment worker started",
		zap.Duration("cooldown", w.cooldown),
		zap.Duration("poll_timeout", w.pollTimeout))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		o, ok := w.queue.Poll(ctx, w.pollTimeout)
		if !ok {
			continue
		}

		// A refund while the order sat in the queue deletes its store
		// record; such entries must never be paid. A record replaced by a
		// different marketplace order is treated the same way.
		if cur, exists := w.store.Get(o.UserID); !exists || cur.OrderID != o.OrderID {
			w.log.Info("Skipping queued order without a live record",
				zap.String("order_id", o.OrderID),
				zap.Int64("user_id", o.UserID))
			w.announcePositions(ctx)
			continue
		}

		// Anti-fraud pacing before touching the vendor.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cooldown):
		}

		w.process(ctx, o)
		w.announcePositions(ctx)
	}
}

// process runs one purchase, containing panics and errors to this order.
func (w *Worker) process(ctx context.Context, o order.Order) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Purchase panicked",
				zap.String("order_id", o.OrderID),
				zap.Any("panic", r))
		}
	}()

	w.log.Info("Processing order",
		zap.String("order_id", o.OrderID),
		zap.Int64("user_id", o.UserID),
		zap.String("username", o.Username),
		zap.Int("quantity", o.Quantity))

	start := time.Now()
	err := w.purchaser.Fulfill(ctx, o)
	w.metrics.Observe(ctx, time.Since(start))
	if err != nil {
		w.log.Error("Purchase failed", zap.String("order_id", o.OrderID), zap.Error(err))
	}
}

// announcePositions recomputes every queued order's 1-based position from
// the queue snapshot and notifies only the buyers whose position changed.
func (w *Worker) announcePositions(ctx context.Context) {
	for i, entry := range w.queue.Snapshot() {
		pos := i + 1
		changed := false
		w.store.Update(entry.UserID, func(o *order.Order) {
			if o.QueuePosition != pos {
				o.QueuePosition = pos
				changed = true
			}
		})
		if !changed {
			continue
		}
		if err := w.gateway.SendMessage(ctx, entry.ChatID, msgPosition(entry.Quantity, pos)); err != nil {
			w.log.Error("Position notification failed",
				zap.Int64("chat_id", entry.ChatID), zap.Error(err))
		}
	}
}
