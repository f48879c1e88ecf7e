package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/transport"
)

type mockConfig struct {
	url   string
	group string
}

func (m *mockConfig) GetPubSubSystem() string  { return TransportName }
func (m *mockConfig) GetBrokers() []string     { return nil }
func (m *mockConfig) GetInitialOffset() string { return "" }
func (m *mockConfig) GetReplayOnStart() bool   { return false }
func (m *mockConfig) GetConsumerGroup() string { return m.group }
func (m *mockConfig) GetRabbitMQURL() string   { return "" }
func (m *mockConfig) GetNATSURL() string       { return m.url }

type mockPublisher struct{ closed bool }

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                              { m.closed = true; return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()

	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats", caps.Name)
	assert.False(t, caps.SupportsReliableDelivery())
}

func TestBuild(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	defer func() { PublisherFactory, SubscriberFactory = originalPub, originalSub }()

	pub := &mockPublisher{}
	sub := &mockSubscriber{}
	PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, "nats://localhost:4222", cfg.URL)
		assert.True(t, cfg.JetStream.Disabled)
		return pub, nil
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, "analyzer", cfg.QueueGroupPrefix)
		assert.Len(t, cfg.NatsOptions, 3)
		return sub, nil
	}

	tr, err := Build(context.Background(), &mockConfig{url: "nats://localhost:4222", group: "analyzer"}, watermill.NopLogger{})

	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)
}

func TestBuildSubscriberError(t *testing.T) {
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	defer func() { PublisherFactory, SubscriberFactory = originalPub, originalSub }()

	pub := &mockPublisher{}
	PublisherFactory = func(nats.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return pub, nil
	}
	SubscriberFactory = func(nats.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("no servers available")
	}

	_, err := Build(context.Background(), &mockConfig{url: "nats://localhost:4222"}, watermill.NopLogger{})
	assert.EqualError(t, err, "no servers available")
	assert.True(t, pub.closed)
}

func TestConnectOptionsDefaultName(t *testing.T) {
	assert.Len(t, ConnectOptions(""), 3)
}
