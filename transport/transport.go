// Package transport defines how taskflow reaches its broker. Each backend
// (kafka, rabbitmq, nats, channel) lives in its own sub-package and registers
// a Builder with the registry; services pick one by name from configuration.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both halves. The channel transport hands out the same value
// twice, so it is only closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil {
		if any(t.Subscriber) != any(t.Publisher) {
			errs = append(errs, t.Subscriber.Close())
		}
	}
	return errors.Join(errs...)
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports read. Implemented by the runtime
// configuration so transports do not depend on it directly.
type Config interface {
	// GetPubSubSystem returns the registered transport name.
	GetPubSubSystem() string

	// Kafka
	GetBrokers() []string
	// GetInitialOffset is "earliest" or "latest".
	GetInitialOffset() string
	// GetReplayOnStart asks for a full replay on every start without a
	// committed position.
	GetReplayOnStart() bool

	// GetConsumerGroup names the consumer role. Kafka uses it as the group id,
	// RabbitMQ as the queue suffix and NATS as the queue group.
	GetConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
}
