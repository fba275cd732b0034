package ingest

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"dataproc/internal/domain/common"
)

const instrumentationName = "dataproc/internal/app/ingest"

// instruments publish the worker counters through whatever meter provider
// telemetry.Setup installed (a no-op one when telemetry is off).
type instruments struct {
	tracer trace.Tracer

	received     metric.Int64Counter
	processed    metric.Int64Counter
	acked        metric.Int64Counter
	deadLettered metric.Int64Counter
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)

	received, err := meter.Int64Counter("dataproc.messages.received",
		metric.WithDescription("Messages handed to the worker by the channel."))
	if err != nil {
		return nil, fmt.Errorf("create received counter: %w", err)
	}
	processed, err := meter.Int64Counter("dataproc.messages.processed",
		metric.WithDescription("Messages processed, labelled by outcome."))
	if err != nil {
		return nil, fmt.Errorf("create processed counter: %w", err)
	}
	acked, err := meter.Int64Counter("dataproc.messages.acked",
		metric.WithDescription("Acknowledgements sent, labelled by result."))
	if err != nil {
		return nil, fmt.Errorf("create acked counter: %w", err)
	}
	deadLettered, err := meter.Int64Counter("dataproc.messages.dead_lettered",
		metric.WithDescription("Failed messages routed to the dead-letter destination."))
	if err != nil {
		return nil, fmt.Errorf("create dead-letter counter: %w", err)
	}

	return &instruments{
		tracer:       otel.Tracer(instrumentationName),
		received:     received,
		processed:    processed,
		acked:        acked,
		deadLettered: deadLettered,
	}, nil
}

func (m *instruments) recordProcessed(ctx context.Context, kind common.Kind) {
	outcome := "ok"
	if kind != common.KindNone {
		outcome = string(kind)
	}
	m.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *instruments) recordAck(ctx context.Context, err error) {
	m.acked.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
}
