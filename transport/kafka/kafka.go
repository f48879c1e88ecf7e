// Package kafka provides the Kafka transport. Messages are keyed by the
// partition_key header so one task's events stay in order if the topic has
// more than one partition.
package kafka

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/taskflow/internal/runtime/metadata"
	"github.com/drblury/taskflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// ClientID identifies taskflow connections on the broker side.
const ClientID = "taskflow"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates the Kafka publisher and consumer-group subscriber. With
// replay on start the subscriber joins no group: it reads every partition
// from the oldest offset each time and never resumes from a commit.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetBrokers()
	marshaler := kafka.NewWithPartitioningMarshaler(PartitionKey)

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: PublisherSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	group := cfg.GetConsumerGroup()
	saramaConfig := SubscriberSaramaConfig(cfg.GetInitialOffset())
	if cfg.GetReplayOnStart() {
		group = ""
		saramaConfig = ReplaySaramaConfig()
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			ConsumerGroup:         group,
			OverwriteSaramaConfig: saramaConfig,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// PartitionKey keys a message by its partition_key header, falling back to
// the message UUID.
func PartitionKey(topic string, msg *message.Message) (string, error) {
	if key := msg.Metadata.Get(metadata.KeyPartitionKey); key != "" {
		return key, nil
	}
	return msg.UUID, nil
}

// PublisherSaramaConfig waits for all in-sync replicas so a successful Publish
// means the event is durable.
func PublisherSaramaConfig() *sarama.Config {
	c := kafka.DefaultSaramaSyncPublisherConfig()
	c.ClientID = ClientID
	c.Producer.RequiredAcks = sarama.WaitForAll
	return c
}

// SubscriberSaramaConfig maps "earliest"/"latest" onto the sarama initial
// offset used when the group has no committed position.
func SubscriberSaramaConfig(initialOffset string) *sarama.Config {
	c := kafka.DefaultSaramaSubscriberConfig()
	c.ClientID = ClientID
	c.Consumer.Offsets.Initial = InitialOffset(initialOffset)
	return c
}

// ReplaySaramaConfig reads from the oldest retained offset and never commits.
func ReplaySaramaConfig() *sarama.Config {
	c := kafka.DefaultSaramaSubscriberConfig()
	c.ClientID = ClientID
	c.Consumer.Offsets.Initial = sarama.OffsetOldest
	c.Consumer.Offsets.AutoCommit.Enable = false
	return c
}

// InitialOffset translates the configured offset name. Anything other than
// "earliest" means latest-only.
func InitialOffset(name string) int64 {
	if strings.EqualFold(strings.TrimSpace(name), "earliest") {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
