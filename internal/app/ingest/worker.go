// Package ingest runs the receive, decode, store, ack loop.
//
// Every received message is acknowledged exactly once, whatever happened to
// it. Failed messages are logged and, when a destination is configured,
// dead-lettered before the ack. The worker never holds more than one
// unacknowledged message.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dataproc/internal/channel"
	"dataproc/internal/domain/common"
	"dataproc/internal/domain/reading"
	"dataproc/internal/envelope"
	"dataproc/internal/logging"
)

// prefetch is fixed: one message in flight per worker.
const prefetch = 1

var ErrAlreadyRunning = errors.New("worker already running")

type Options struct {
	Queue string
	// InsertTimeout bounds each storage attempt, each dead-letter send and
	// the ack. These run detached from the Run context so an in-flight
	// message always completes.
	InsertTimeout time.Duration
	Retry         RetryPolicy
	DeadLetters   DeadLetters
}

var DefaultOptions = Options{
	Queue:         "data",
	InsertTimeout: 10 * time.Second,
}

type Worker struct {
	ch     channel.Channel
	repo   reading.Repository
	opts   Options
	logger logging.Logger

	stats *Stats
	inst  *instruments

	started atomic.Bool
	stopped context.Context
	stop    context.CancelFunc
	done    chan struct{}
}

func NewWorker(ch channel.Channel, repo reading.Repository, opts Options, logger logging.Logger) (*Worker, error) {
	if ch == nil {
		return nil, errors.New("channel is required")
	}
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if opts.Queue == "" {
		opts.Queue = DefaultOptions.Queue
	}
	if opts.InsertTimeout <= 0 {
		opts.InsertTimeout = DefaultOptions.InsertTimeout
	}
	if opts.Retry == nil {
		opts.Retry = nopRetry{}
	}
	switch opts.DeadLetters.(type) {
	case NoopDeadLetters, *NoopDeadLetters:
		// nil DeadLetters means failures are only logged
		opts.DeadLetters = nil
	}

	inst, err := newInstruments()
	if err != nil {
		return nil, err
	}

	stopped, stop := context.WithCancel(context.Background())
	return &Worker{
		ch:      ch,
		repo:    repo,
		opts:    opts,
		logger:  logger.With("component", "ingest_worker", "queue", opts.Queue),
		stats:   newStats(),
		inst:    inst,
		stopped: stopped,
		stop:    stop,
		done:    make(chan struct{}),
	}, nil
}

// Stats exposes the live counters.
func (w *Worker) Stats() *Stats { return w.stats }

// Run subscribes and processes messages until ctx is cancelled or Stop is
// called. A subscribe failure is returned; a clean stop returns nil. The
// channel is closed before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(w.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(w.stopped, cancel)
	defer unhook()

	defer func() {
		if err := w.ch.Close(); err != nil {
			w.logger.Warn("failed to close channel", "error", err)
		}
	}()

	if err := w.ch.Subscribe(runCtx, w.opts.Queue, prefetch); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	w.logger.Info("worker started")

	for {
		d, err := w.ch.Receive(runCtx)
		if err != nil {
			if runCtx.Err() != nil || errors.Is(err, channel.ErrClosed) {
				w.logger.Info("worker stopped")
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		// The in-flight message finishes even if a stop arrives meanwhile.
		w.handle(context.WithoutCancel(runCtx), d)
	}
}

// Stop asks Run to return after the in-flight message, if any, is acked, and
// waits for it until ctx is done.
func (w *Worker) Stop(ctx context.Context) error {
	w.stop()
	if !w.started.Load() {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for worker: %w", ctx.Err())
	}
}

func (w *Worker) handle(ctx context.Context, d channel.Delivery) {
	ctx, span := w.inst.tracer.Start(ctx, "ingest.message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", w.opts.Queue),
			attribute.String("messaging.message.id", d.MessageID),
			attribute.Int("messaging.message.body.size", len(d.Body)),
		),
	)
	defer span.End()

	w.stats.received.Add(1)
	w.inst.received.Add(ctx, 1)

	deviceID, err := w.process(ctx, d.Body)
	kind := common.KindOf(err)
	if err != nil {
		w.stats.fail(kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		w.logger.Error("failed to process message",
			"error", err,
			"kind", string(kind),
			"device_id", deviceID,
			"bytes", len(d.Body),
			"tag", uint64(d.Tag),
			"message_id", d.MessageID,
		)
		w.deadLetter(ctx, d, deviceID, kind, err)
	} else {
		w.stats.succeeded.Add(1)
		span.SetAttributes(attribute.String("device.id", deviceID))
	}
	w.inst.recordProcessed(ctx, kind)

	w.ack(ctx, d)
}

// process runs decode and insert for one message and returns the device id
// as far as it could be resolved.
func (w *Worker) process(ctx context.Context, raw []byte) (string, error) {
	h, body, err := envelope.DecodeEnvelope(raw)
	if err != nil {
		return "", err
	}
	key, err := h.Key()
	if err != nil {
		return h.DeviceID(), err
	}
	rec, err := envelope.DecodeBody(body)
	if err != nil {
		return key.DeviceID, err
	}

	rd := reading.Reading{
		DeviceID: key.DeviceID,
		Time:     key.Time,
		Value:    rec.String(),
	}
	err = w.opts.Retry.Do(ctx, func(ctx context.Context) error {
		insertCtx, cancel := context.WithTimeout(ctx, w.opts.InsertTimeout)
		defer cancel()
		return w.repo.Insert(insertCtx, rd)
	})
	return key.DeviceID, err
}

func (w *Worker) deadLetter(ctx context.Context, d channel.Delivery, deviceID string, kind common.Kind, cause error) {
	if w.opts.DeadLetters == nil {
		return
	}

	letter := Letter{
		ID:       uuid.NewString(),
		Queue:    w.opts.Queue,
		Kind:     kind,
		Reason:   cause.Error(),
		DeviceID: deviceID,
		Payload:  d.Body,
		FailedAt: time.Now().UTC(),
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.opts.InsertTimeout)
	defer cancel()
	if err := w.opts.DeadLetters.Send(sendCtx, letter); err != nil {
		w.stats.deadLetterErrors.Add(1)
		w.logger.Error("failed to dead-letter message",
			"error", err,
			"letter_id", letter.ID,
			"tag", uint64(d.Tag),
		)
		return
	}
	w.stats.deadLettered.Add(1)
	w.inst.deadLettered.Add(ctx, 1)
}

func (w *Worker) ack(ctx context.Context, d channel.Delivery) {
	ackCtx, cancel := context.WithTimeout(ctx, w.opts.InsertTimeout)
	defer cancel()

	err := w.ch.Ack(ackCtx, d.Tag)
	w.inst.recordAck(ctx, err)
	if err != nil {
		w.stats.ackErrors.Add(1)
		w.logger.Error("failed to ack message", "error", err, "tag", uint64(d.Tag))
		return
	}
	w.stats.acked.Add(1)
}
