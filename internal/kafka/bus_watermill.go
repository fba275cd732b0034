package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/garsue/watermillzap"
	"github.com/google/uuid"

	"dataproc/internal/config"
	"dataproc/internal/logging"
)

const (
	metadataType   = "type"
	metadataSource = "source"
)

type watermillBus struct {
	publisher message.Publisher
	source    string
	logger    logging.Logger
}

// NewBus connects a Kafka publisher. The returned close function releases
// the producer.
func NewBus(cfg config.KafkaConfig, baseLogger logging.Logger) (Bus, func(ctx context.Context) error, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("kafka bus: no brokers configured")
	}

	wmlogger := watermillzap.NewLogger(logging.AsZap(baseLogger))

	pubCfg := kafka.PublisherConfig{
		Brokers:               cfg.Brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: publisherSaramaConfig(cfg),
	}

	publisher, err := kafka.NewPublisher(pubCfg, wmlogger)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka publisher: %w", err)
	}

	closeFn := func(ctx context.Context) error {
		return publisher.Close()
	}
	return newBus(publisher, cfg.ClientID, baseLogger), closeFn, nil
}

func newBus(publisher message.Publisher, source string, logger logging.Logger) *watermillBus {
	return &watermillBus{
		publisher: publisher,
		source:    source,
		logger:    logger.With("component", "kafka_bus"),
	}
}

func publisherSaramaConfig(cfg config.KafkaConfig) *sarama.Config {
	c := kafka.DefaultSaramaSyncPublisherConfig()
	c.ClientID = cfg.ClientID
	c.Producer.RequiredAcks = sarama.WaitForAll
	return c
}

func (b *watermillBus) Publish(ctx context.Context, topic string, msgType string, payload any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	env := Envelope{
		MessageID:  uuid.NewString(),
		Type:       msgType,
		Source:     b.source,
		OccurredAt: time.Now().UTC(),
		Payload:    payloadBytes,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(env.MessageID, body)
	msg.SetContext(ctx)
	msg.Metadata.Set(metadataType, msgType)
	msg.Metadata.Set(metadataSource, b.source)

	if err := b.publisher.Publish(topic, msg); err != nil {
		b.logger.Error("failed to publish kafka message",
			"topic", topic,
			"type", msgType,
			"error", err,
		)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
