package kafka

import (
	"context"
	"fmt"

	"dataproc/internal/app/ingest"
	"dataproc/internal/config"
	"dataproc/internal/logging"
)

const DeadLetterType = "DeadLetter"

type deadLetters struct {
	bus    Bus
	topic  string
	logger logging.Logger
}

func NewDeadLetters(bus Bus, cfg config.KafkaConfig, logger logging.Logger) ingest.DeadLetters {
	return &deadLetters{
		bus:    bus,
		topic:  Topic(cfg, cfg.DeadLetterTopic),
		logger: logger.With("component", "kafka_dead_letters"),
	}
}

func (d *deadLetters) Send(ctx context.Context, l ingest.Letter) error {
	if err := d.bus.Publish(ctx, d.topic, DeadLetterType, l); err != nil {
		return fmt.Errorf("publish dead letter %s: %w", l.ID, err)
	}
	d.logger.Debug("dead letter published", "topic", d.topic, "letter_id", l.ID, "kind", string(l.Kind))
	return nil
}
