package kafka

import "context"

// Bus publishes JSON-enveloped messages to a topic.
type Bus interface {
	Publish(ctx context.Context, topic string, msgType string, payload any) error
}
