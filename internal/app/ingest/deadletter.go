package ingest

import (
	"context"
	"time"

	"dataproc/internal/domain/common"
)

// Letter is a message the worker gave up on, with the reason.
type Letter struct {
	ID       string      `json:"id"`
	Queue    string      `json:"queue"`
	Kind     common.Kind `json:"kind"`
	Reason   string      `json:"reason"`
	DeviceID string      `json:"device_id,omitempty"`
	Payload  []byte      `json:"payload"`
	FailedAt time.Time   `json:"failed_at"`
}

type DeadLetters interface {
	Send(ctx context.Context, l Letter) error
}

// NoopDeadLetters drops failed messages. Failures are still logged by the worker.
type NoopDeadLetters struct{}

func (NoopDeadLetters) Send(ctx context.Context, l Letter) error { return nil }
