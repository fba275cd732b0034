package channel

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when Receive is called after the channel has been closed.
	ErrClosed = errors.New("channel closed")
	// ErrUnknownTag is returned when acking a tag that is not outstanding,
	// including one that was already acked.
	ErrUnknownTag      = errors.New("unknown delivery tag")
	ErrNotSubscribed   = errors.New("channel not subscribed")
	ErrSubscribed      = errors.New("channel already subscribed")
	ErrInvalidPrefetch = errors.New("prefetch must be at least 1")
)

// Tag identifies one delivery on one channel. It is only meaningful to the
// channel that issued it.
type Tag uint64

// Delivery is one received message.
type Delivery struct {
	Tag        Tag
	Body       []byte
	MessageID  string
	ReceivedAt time.Time
}

// Channel is what the worker needs from a broker client.
//
// Receive blocks until a message is available, the context is done or the
// channel is closed. While prefetch deliveries are unacknowledged, Receive
// blocks without pulling anything from the broker.
type Channel interface {
	Subscribe(ctx context.Context, queue string, prefetch int) error
	Receive(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, tag Tag) error
	Close() error
}

// inflight bounds and tracks unacknowledged deliveries. H is the
// broker-specific handle needed to ack.
type inflight[H any] struct {
	tokens chan struct{}

	mu      sync.Mutex
	next    Tag
	pending map[Tag]H
}

func newInflight[H any](limit int) *inflight[H] {
	return &inflight[H]{
		tokens:  make(chan struct{}, limit),
		pending: make(map[Tag]H, limit),
	}
}

// acquire reserves a slot, blocking while the window is full.
func (g *inflight[H]) acquire(ctx context.Context, closed <-chan struct{}) error {
	select {
	case <-closed:
		return ErrClosed
	default:
	}
	select {
	case g.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return ErrClosed
	}
}

// release gives back a slot reserved by acquire that never became a delivery.
func (g *inflight[H]) release() {
	<-g.tokens
}

func (g *inflight[H]) track(h H) Tag {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	g.pending[g.next] = h
	return g.next
}

// take removes tag from the window and frees its slot.
func (g *inflight[H]) take(tag Tag) (H, bool) {
	g.mu.Lock()
	h, ok := g.pending[tag]
	if ok {
		delete(g.pending, tag)
	}
	g.mu.Unlock()

	if ok {
		g.release()
	}
	return h, ok
}

func (g *inflight[H]) outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
