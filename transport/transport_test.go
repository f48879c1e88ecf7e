package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

type mockConfig struct {
	pubSubSystem string
}

func (m *mockConfig) GetPubSubSystem() string  { return m.pubSubSystem }
func (m *mockConfig) GetBrokers() []string     { return nil }
func (m *mockConfig) GetInitialOffset() string { return "" }
func (m *mockConfig) GetReplayOnStart() bool   { return false }
func (m *mockConfig) GetConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string   { return "" }
func (m *mockConfig) GetNATSURL() string       { return "" }

type mockPublisher struct {
	closed   int
	closeErr error
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }

func (m *mockPublisher) Close() error {
	m.closed++
	return m.closeErr
}

type mockSubscriber struct {
	closed int
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed++
	return nil
}

type mockPubSub struct {
	mockPublisher
	mockSubscriber
}

func (m *mockPubSub) Close() error {
	m.mockPublisher.closed++
	return nil
}

func TestTransportCloseClosesBothHalves(t *testing.T) {
	pub := &mockPublisher{closeErr: errors.New("flush failed")}
	sub := &mockSubscriber{}

	err := Transport{Publisher: pub, Subscriber: sub}.Close()

	assert.EqualError(t, err, "flush failed")
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}

func TestTransportCloseSharedPubSubOnce(t *testing.T) {
	ps := &mockPubSub{}

	assert.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
	assert.Equal(t, 1, ps.mockPublisher.closed)
}

func TestTransportCloseEmpty(t *testing.T) {
	assert.NoError(t, Transport{}.Close())
}
