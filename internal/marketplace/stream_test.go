package marketplace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource returns one prepared batch per Events call and blocks on ctx
// once the script runs out.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]Event
	errs    []error
}

func (f *fakeSource) Events(ctx context.Context, _ string, _ time.Duration) ([]Event, string, error) {
	f.mu.Lock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return nil, "", err
	}
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return batch, "next", nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, "", ctx.Err()
}

type recordingHandler struct {
	mu       sync.Mutex
	orders   []NewOrderEvent
	messages []NewMessageEvent
	panicOn  string
}

func (h *recordingHandler) HandleNewOrder(_ context.Context, ev NewOrderEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicOn == ev.OrderID {
		panic("handler blew up")
	}
	h.orders = append(h.orders, ev)
}

func (h *recordingHandler) HandleNewMessage(_ context.Context, ev NewMessageEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, ev)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.orders), len(h.messages)
}

func runStream(t *testing.T, s *Stream, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, done, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
}

func TestStream_Dispatch(t *testing.T) {
	source := &fakeSource{batches: [][]Event{{
		{Type: EventNewOrder, Order: &NewOrderEvent{OrderID: "A-1", BuyerID: 7}},
		{Type: EventNewMessage, Message: &NewMessageEvent{AuthorID: 7, Text: "да"}},
		{Type: "typing"}, // unknown types are skipped
	}}}
	handler := &recordingHandler{}

	runStream(t, NewStream(source, handler, time.Millisecond), func() bool {
		orders, messages := handler.counts()
		return orders == 1 && messages == 1
	})

	assert.Equal(t, "A-1", handler.orders[0].OrderID)
	assert.Equal(t, "да", handler.messages[0].Text)
}

func TestStream_HandlerPanicDoesNotStopLoop(t *testing.T) {
	source := &fakeSource{batches: [][]Event{
		{{Type: EventNewOrder, Order: &NewOrderEvent{OrderID: "boom"}}},
		{{Type: EventNewOrder, Order: &NewOrderEvent{OrderID: "A-2"}}},
	}}
	handler := &recordingHandler{panicOn: "boom"}

	runStream(t, NewStream(source, handler, time.Millisecond), func() bool {
		orders, _ := handler.counts()
		return orders == 1
	})

	assert.Equal(t, "A-2", handler.orders[0].OrderID)
}

func TestStream_PollErrorRetried(t *testing.T) {
	source := &fakeSource{
		errs:    []error{errors.New("connector down")},
		batches: [][]Event{{{Type: EventNewMessage, Message: &NewMessageEvent{Text: "hi"}}}},
	}
	handler := &recordingHandler{}

	s := NewStream(source, handler, time.Millisecond)
	s.backoff = time.Millisecond

	runStream(t, s, func() bool {
		_, messages := handler.counts()
		return messages == 1
	})
}

func TestStream_NilPayloadIgnored(t *testing.T) {
	source := &fakeSource{batches: [][]Event{
		{{Type: EventNewOrder}, {Type: EventNewMessage}},
		{{Type: EventNewMessage, Message: &NewMessageEvent{Text: "ok"}}},
	}}
	handler := &recordingHandler{}

	runStream(t, NewStream(source, handler, time.Millisecond), func() bool {
		_, messages := handler.counts()
		return messages == 1
	})

	orders, _ := handler.counts()
	assert.Zero(t, orders)
}
