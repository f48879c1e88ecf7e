package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	"github.com/drblury/taskflow/internal/runtime/envelope"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	"github.com/drblury/taskflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
	transportpkg "github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/transports"
)

const (
	defaultConnectAttempts = 5
	defaultConnectDelay    = 2 * time.Second
)

// Producer publishes task events onto the configured topic. Each Publish is a
// synchronous send; failures are returned to the caller and never retried
// here.
type Producer struct {
	conf      *configpkg.Config
	log       loggingpkg.ServiceLogger
	transport transportpkg.Transport
	publisher message.Publisher
	metrics   *Metrics
	now       func() time.Time
	types     map[string]struct{}
}

type producerOptions struct {
	registry        *transportpkg.Registry
	metrics         *Metrics
	now             func() time.Time
	types           []string
	connectAttempts uint
	connectDelay    time.Duration
}

// ProducerOption customises NewProducer.
type ProducerOption func(*producerOptions)

// WithProducerRegistry builds the publisher from reg instead of the default registry.
func WithProducerRegistry(reg *transportpkg.Registry) ProducerOption {
	return func(o *producerOptions) { o.registry = reg }
}

// WithProducerMetrics records publish results on m.
func WithProducerMetrics(m *Metrics) ProducerOption {
	return func(o *producerOptions) { o.metrics = m }
}

// WithClock replaces time.Now for the envelope datetime.
func WithClock(now func() time.Time) ProducerOption {
	return func(o *producerOptions) { o.now = now }
}

// WithEventTypes restricts the accepted event types. Defaults to create and complete.
func WithEventTypes(types ...string) ProducerOption {
	return func(o *producerOptions) { o.types = types }
}

// WithConnectRetry sets how often the broker connection is attempted at startup.
func WithConnectRetry(attempts uint, delay time.Duration) ProducerOption {
	return func(o *producerOptions) {
		o.connectAttempts = attempts
		o.connectDelay = delay
	}
}

// NewProducer connects to the configured broker, retrying a fixed number of
// times before giving up with an upstream error.
func NewProducer(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, opts ...ProducerOption) (*Producer, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if conf.GetTopic() == "" {
		return nil, errspkg.ErrTopicRequired
	}

	o := producerOptions{
		now:             time.Now,
		types:           []string{envelope.TypeCreate, envelope.TypeComplete},
		connectAttempts: defaultConnectAttempts,
		connectDelay:    defaultConnectDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		transports.RegisterAll()
		o.registry = transportpkg.DefaultRegistry
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	attempt := 0
	tr, err := backoff.Retry(ctx, func() (transportpkg.Transport, error) {
		attempt++
		return o.registry.Build(ctx, conf, wmLogger)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(o.connectDelay)),
		backoff.WithMaxTries(o.connectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Error("Broker not reachable, retrying", err, loggingpkg.LogFields{
				"attempt":       attempt,
				"pubsub_system": conf.GetPubSubSystem(),
				"backoff":       next.String(),
			})
		}),
	)
	if err != nil {
		return nil, errspkg.Upstream("producer.connect", fmt.Errorf("after %d attempts: %w", attempt, err))
	}

	types := make(map[string]struct{}, len(o.types))
	for _, t := range o.types {
		types[t] = struct{}{}
	}

	log.Info("Producer connected", loggingpkg.LogFields{
		"pubsub_system": conf.GetPubSubSystem(),
		"topic":         conf.GetTopic(),
	})

	return &Producer{
		conf:      conf,
		log:       log,
		transport: tr,
		publisher: tr.Publisher,
		metrics:   o.metrics,
		now:       o.now,
		types:     types,
	}, nil
}

// Publish wraps payload in an envelope and sends it synchronously. It returns
// the trace id carried by the event.
func (p *Producer) Publish(ctx context.Context, eventType string, payload map[string]any) (string, error) {
	const op = "producer.publish"
	if _, ok := p.types[eventType]; !ok {
		return "", errspkg.Validation(op, "type", fmt.Sprintf("unknown event type %q", eventType))
	}
	if payload == nil {
		return "", errspkg.Validation(op, "payload", "is required")
	}

	env, err := envelope.New(eventType, payload, p.now())
	if err != nil {
		return "", err
	}
	body, err := envelope.Encode(env)
	if err != nil {
		return "", errspkg.Validationf(op, err)
	}

	ctx, span := otel.Tracer("taskflow-producer").Start(ctx, "PublishEvent", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", eventType),
		attribute.String("event.trace_id", env.TraceID),
	)

	partitionKey, _ := payload["task_name"].(string)
	md := metadatapkg.Metadata{}.
		With(metadatapkg.KeyTraceID, env.TraceID).
		With(metadatapkg.KeyEventType, eventType).
		With(metadatapkg.KeyPartitionKey, partitionKey)

	msg := message.NewMessage(ids.NewMessageID(), body)
	md.Apply(msg)
	msg.SetContext(ctx)

	fields := loggingpkg.LogFields{
		"event_type":   eventType,
		"trace_id":     env.TraceID,
		"message_uuid": msg.UUID,
	}
	if err := p.publisher.Publish(p.conf.GetTopic(), msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.publishedInc(eventType, "error")
		p.log.Error("Failed to publish event", err, fields)
		return env.TraceID, errspkg.Upstream(op, err)
	}

	p.metrics.publishedInc(eventType, "success")
	p.log.Debug("Published event", fields)
	return env.TraceID, nil
}

// Close releases the broker connection.
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.transport.Close()
}
