package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/garsue/watermillzap"

	"dataproc/internal/config"
	"dataproc/internal/logging"
)

// NewSubscriber builds the consumer-group subscriber the worker reads from.
// Topics are provisioned outside this service.
func NewSubscriber(cfg config.KafkaConfig, baseLogger logging.Logger) (message.Subscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka subscriber: no brokers configured")
	}

	wmlogger := watermillzap.NewLogger(logging.AsZap(baseLogger))

	subCfg := kafka.SubscriberConfig{
		Brokers:               cfg.Brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: subscriberSaramaConfig(cfg),
		ConsumerGroup:         cfg.GroupID,
		NackResendSleep:       5 * time.Second,
		ReconnectRetrySleep:   10 * time.Second,
	}

	subscriber, err := kafka.NewSubscriber(subCfg, wmlogger)
	if err != nil {
		return nil, fmt.Errorf("create kafka subscriber: %w", err)
	}
	return subscriber, nil
}

func subscriberSaramaConfig(cfg config.KafkaConfig) *sarama.Config {
	c := kafka.DefaultSaramaSubscriberConfig()
	c.ClientID = cfg.ClientID
	// a new consumer group starts from the backlog, not the tail
	c.Consumer.Offsets.Initial = sarama.OffsetOldest
	return c
}

// Topic maps a queue name to its Kafka topic.
func Topic(cfg config.KafkaConfig, queue string) string {
	return cfg.TopicPrefix + queue
}
