package marketplace

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// EventSource is the polling half of the connector contract, satisfied by
// *Client. Split out so the stream can be tested without HTTP.
type EventSource interface {
	Events(ctx context.Context, cursor string, wait time.Duration) ([]Event, string, error)
}

// Stream drives the inbound event loop: it long-polls the source and feeds
// each event to the handler, one at a time, on a single goroutine. Handler
// calls are synchronous; the handler itself is responsible for bounding its
// network calls so one slow vendor lookup does not stall the feed for long.
type Stream struct {
	source  EventSource
	handler Handler
	wait    time.Duration
	backoff time.Duration
}

// NewStream creates a stream polling source with the given long-poll window.
func NewStream(source EventSource, handler Handler, wait time.Duration) *Stream {
	if wait <= 0 {
		wait = 25 * time.Second
	}
	return &Stream{
		source:  source,
		handler: handler,
		wait:    wait,
		backoff: 3 * time.Second,
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and retried after
// a short backoff; they never terminate the loop.
func (s *Stream) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("stream")

	var cursor string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		events, next, err := s.source.Events(ctx, cursor, s.wait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lg.Warn("Event poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff):
			}
			continue
		}
		cursor = next

		for _, ev := range events {
			s.dispatch(ctx, lg, ev)
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, lg *zap.Logger, ev Event) {
	// An event handler must never take the loop down.
	defer func() {
		if r := recover(); r != nil {
			lg.Error("Event handler panicked", zap.Any("panic", r), zap.String("type", ev.Type))
		}
	}()

	switch ev.Type {
	case EventNewOrder:
		if ev.Order != nil {
			s.handler.HandleNewOrder(ctx, *ev.Order)
		}
	case EventNewMessage:
		if ev.Message != nil {
			s.handler.HandleNewMessage(ctx, *ev.Message)
		}
	default:
		lg.Debug("Ignoring unknown event type", zap.String("type", ev.Type))
	}
}
