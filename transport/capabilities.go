package transport

// Capabilities describes what a broker backend guarantees. The consumer reads
// them to decide whether a Nack actually redelivers.
type Capabilities struct {
	Name string

	// SupportsOrdering: messages within the topic are delivered in order.
	SupportsOrdering bool

	// SupportsAck / SupportsNack: explicit acknowledgement and redelivery.
	SupportsAck  bool
	SupportsNack bool

	// SupportsPartitioning: the partition_key metadata is honored.
	SupportsPartitioning bool

	// SupportsReplay: a new consumer group can start from the earliest offset.
	SupportsReplay bool

	// MaxMessageSize in bytes, 0 when unknown.
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsAck:          true,
		SupportsNack:         true,
		SupportsPartitioning: true,
		SupportsReplay:       true,
		MaxMessageSize:       1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// Core NATS has no persistence, so there is nothing to redeliver.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576,
	}
)
