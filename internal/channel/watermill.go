package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"dataproc/internal/logging"
)

var ErrAckRejected = errors.New("message already nacked")

// Watermill adapts a watermill subscriber (Kafka in production, gochannel in
// tests) to Channel.
type Watermill struct {
	sub    message.Subscriber
	logger logging.Logger

	mu     sync.Mutex
	msgs   <-chan *message.Message
	gate   *inflight[*message.Message]
	cancel context.CancelFunc

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func NewWatermill(sub message.Subscriber, logger logging.Logger) *Watermill {
	if sub == nil {
		panic("watermill subscriber is required")
	}
	return &Watermill{
		sub:    sub,
		logger: logger.With("component", "watermill_channel"),
		closed: make(chan struct{}),
	}
}

// Subscribe starts consuming queue. The subscription outlives ctx and ends
// on Close.
func (w *Watermill) Subscribe(ctx context.Context, queue string, prefetch int) error {
	if prefetch < 1 {
		return ErrInvalidPrefetch
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	if w.msgs != nil {
		return ErrSubscribed
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := w.sub.Subscribe(subCtx, queue)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %q: %w", queue, err)
	}

	w.msgs = msgs
	w.gate = newInflight[*message.Message](prefetch)
	w.cancel = cancel

	w.logger.Info("subscribed", "queue", queue, "prefetch", prefetch)
	return nil
}

func (w *Watermill) Receive(ctx context.Context) (Delivery, error) {
	w.mu.Lock()
	msgs, gate := w.msgs, w.gate
	w.mu.Unlock()
	if msgs == nil {
		return Delivery{}, ErrNotSubscribed
	}

	if err := gate.acquire(ctx, w.closed); err != nil {
		return Delivery{}, err
	}

	select {
	case <-ctx.Done():
		gate.release()
		return Delivery{}, ctx.Err()
	case <-w.closed:
		gate.release()
		return Delivery{}, ErrClosed
	case msg, ok := <-msgs:
		if !ok {
			gate.release()
			return Delivery{}, ErrClosed
		}
		return Delivery{
			Tag:        gate.track(msg),
			Body:       msg.Payload,
			MessageID:  msg.UUID,
			ReceivedAt: time.Now(),
		}, nil
	}
}

func (w *Watermill) Ack(ctx context.Context, tag Tag) error {
	w.mu.Lock()
	gate := w.gate
	w.mu.Unlock()
	if gate == nil {
		return ErrNotSubscribed
	}

	msg, ok := gate.take(tag)
	if !ok {
		return ErrUnknownTag
	}
	if !msg.Ack() {
		return ErrAckRejected
	}
	return nil
}

// Close stops the subscription and releases the broker connection.
func (w *Watermill) Close() error {
	w.closeOnce.Do(func() {
		close(w.closed)

		w.mu.Lock()
		cancel := w.cancel
		w.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		w.closeErr = w.sub.Close()
	})
	return w.closeErr
}

// Outstanding reports how many deliveries are waiting for an ack.
func (w *Watermill) Outstanding() int {
	w.mu.Lock()
	gate := w.gate
	w.mu.Unlock()
	if gate == nil {
		return 0
	}
	return gate.outstanding()
}
