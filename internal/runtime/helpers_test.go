package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	"github.com/drblury/taskflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	transportpkg "github.com/drblury/taskflow/transport"
	channeltransport "github.com/drblury/taskflow/transport/channel"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func newTestConfig() *configpkg.Config {
	return &configpkg.Config{
		Service: configpkg.ServiceConfig{Name: "storage"},
		Events: configpkg.EventsConfig{
			PubSubSystem:         channeltransport.TransportName,
			Topic:                "events",
			ConsumerGroup:        "storage",
			InitialOffset:        configpkg.OffsetEarliest,
			OnFailure:            configpkg.OnFailureRetry,
			MaxRetries:           2,
			RetryInitialInterval: time.Millisecond,
			RetryMaxInterval:     5 * time.Millisecond,
		},
	}
}

// newSharedPubSub returns a registry whose channel transport always hands out
// the same gochannel, so producers, consumers and the test see one broker.
func newSharedPubSub(t *testing.T) (*gochannel.GoChannel, *transportpkg.Registry) {
	t.Helper()
	pubSub := gochannel.NewGoChannel(channeltransport.Config(), watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	registry := transportpkg.NewRegistry()
	registry.RegisterWithCapabilities(channeltransport.TransportName,
		func(context.Context, transportpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
			return transportpkg.Transport{Publisher: noClosePublisher{pubSub}, Subscriber: noCloseSubscriber{pubSub}}, nil
		},
		transportpkg.ChannelCapabilities,
	)
	return pubSub, registry
}

type noClosePublisher struct{ message.Publisher }

func (noClosePublisher) Close() error { return nil }

type noCloseSubscriber struct{ message.Subscriber }

func (noCloseSubscriber) Close() error { return nil }

func newTestService(t *testing.T, conf *configpkg.Config, registry *transportpkg.Registry) *Service {
	t.Helper()
	svc, err := NewService(conf, newTestLogger(), ServiceDependencies{Registry: registry})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}
	return svc
}

// startService runs svc until the test ends and reports Run's result.
func startService(t *testing.T, svc *Service) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("service did not stop")
		}
	})
	return done
}

func publishEnvelope(t *testing.T, pub message.Publisher, topic, eventType string, payload map[string]any) envelope.Envelope {
	t.Helper()
	env, err := envelope.New(eventType, payload, time.Now())
	if err != nil {
		t.Fatalf("unexpected envelope error: %v", err)
	}
	body, err := envelope.Encode(env)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if err := pub.Publish(topic, message.NewMessage(watermill.NewUUID(), body)); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	return env
}

type recordingPublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []*message.Message
	err      error
}

func (p *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for range messages {
		p.topics = append(p.topics, topic)
	}
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Messages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages...)
}

type testSubscriber struct{}

func (testSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (testSubscriber) Close() error { return nil }

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}
