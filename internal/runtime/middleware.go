package runtime

import (
	"errors"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/taskflow/internal/runtime/envelope"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the in-place retry. MaxRetries counts the
// attempts after the first one.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	return cfg
}

// DefaultMiddlewares returns the standard chain, outermost first. The failure
// policy wraps the retry so it only sees errors that survived every attempt.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		TraceHeadersMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		FailurePolicyMiddleware(),
		RetryMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds Watermill's Prometheus router metrics when metrics are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.Metrics.Enabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.registerer,
				metricsNamespace,
				s.Conf.GetPubSubSystem(),
			)
			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// TraceHeadersMiddleware copies event_type and trace_id from the envelope into
// the message headers when the producer did not set them.
func TraceHeadersMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "trace_headers",
		Middleware: traceHeadersMiddleware,
	}
}

// LogMessagesMiddleware logs every message at debug level, payload included.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// FailurePolicyMiddleware applies the service's FailurePolicy to handler errors.
func FailurePolicyMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "failure_policy",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.policy == nil {
				return nil, errors.New("failure policy is required")
			}
			return s.failurePolicyMiddleware(), nil
		},
	}
}

// RetryMiddleware retries retryable handler errors in place using the
// events.max_retries and events.retry_* settings.
func RetryMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.retryMiddlewareWithConfig(RetryMiddlewareConfig{
				MaxRetries:      s.Conf.Events.MaxRetries,
				InitialInterval: s.Conf.Events.RetryInitialInterval,
				MaxInterval:     s.Conf.Events.RetryMaxInterval,
			}), nil
		},
	}
}

// RetryMiddlewareWithConfig retries with explicit settings instead of the service config.
func RetryMiddlewareWithConfig(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.retryMiddlewareWithConfig(cfg), nil
		},
	}
}

// RecovererMiddleware converts panics into handler errors so the failure policy sees them.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the active router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func traceHeadersMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadatapkg.KeyTraceID) == "" || msg.Metadata.Get(metadatapkg.KeyEventType) == "" {
			// Undecodable payloads are reported by the dispatcher.
			if env, err := envelope.Decode(msg.Payload); err == nil {
				annotate(msg, env)
			}
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			fields := messageFields(msg)
			fields["payload"] = string(msg.Payload)
			logger.Debug("Processing message", fields)
			return h(msg)
		}
	}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		tracer := otel.Tracer("taskflow-consumer")
		ctx, span := tracer.Start(msg.Context(), "ProcessMessage", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		msg.SetContext(ctx)

		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("event.type", msg.Metadata.Get(metadatapkg.KeyEventType)),
			attribute.String("event.trace_id", msg.Metadata.Get(metadatapkg.KeyTraceID)),
		)

		produced, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return produced, err
	}
}

func (s *Service) failurePolicyMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			produced, err := h(msg)
			eventType := msg.Metadata.Get(metadatapkg.KeyEventType)
			if err == nil {
				s.metrics.consumedInc(s.Name(), eventType, errspkg.ActionAck.String())
				return produced, nil
			}

			fields := messageFields(msg)
			fields["policy"] = s.policy.Name()

			// Shutdown interrupted the retries; leave the message to the next consumer.
			if msg.Context().Err() != nil {
				s.Logger.Error("Consumer shutting down, message will be redelivered", err, fields)
				s.metrics.consumedInc(s.Name(), eventType, "nack")
				return nil, err
			}

			action := s.policy.Resolve(err, s.Conf.GetDeadLetterTopic() != "")
			switch action {
			case errspkg.ActionAck:
				s.metrics.consumedInc(s.Name(), eventType, action.String())
				return nil, nil

			case errspkg.ActionSkip:
				if errors.Is(err, errspkg.ErrSkip) {
					fields["reason"] = err.Error()
					s.Logger.Info("Skipping message", fields)
				} else {
					s.Logger.Error("Handler failed, skipping message", err, fields)
				}
				s.metrics.consumedInc(s.Name(), eventType, action.String())
				return nil, nil

			case errspkg.ActionDeadLetter:
				if dlqErr := s.publishDeadLetter(msg, err); dlqErr != nil {
					s.Logger.Error("Failed to publish to dead letter topic, message will be redelivered", dlqErr, fields)
					s.metrics.consumedInc(s.Name(), eventType, "nack")
					return nil, errors.Join(err, dlqErr)
				}
				fields["dead_letter_topic"] = s.Conf.GetDeadLetterTopic()
				s.Logger.Error("Handler failed, message moved to dead letter topic", err, fields)
				s.metrics.consumedInc(s.Name(), eventType, action.String())
				return nil, nil

			default:
				s.Logger.Error("Handler failed, message will be redelivered", err, fields)
				s.metrics.consumedInc(s.Name(), eventType, "nack")
				return nil, err
			}
		}
	}
}

func (s *Service) retryMiddlewareWithConfig(cfg RetryMiddlewareConfig) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = normalized.InitialInterval
			b.MaxInterval = normalized.MaxInterval

			attempts := 0
			produced, err := backoff.Retry(msg.Context(), func() ([]*message.Message, error) {
				attempts++
				out, err := h(msg)
				if err != nil && !s.policy.ShouldRetry(err) {
					return out, backoff.Permanent(err)
				}
				return out, err
			},
				backoff.WithBackOff(b),
				backoff.WithMaxTries(uint(normalized.MaxRetries+1)),
				backoff.WithMaxElapsedTime(0),
				backoff.WithNotify(func(err error, next time.Duration) {
					fields := messageFields(msg)
					fields["attempt"] = attempts
					fields["backoff"] = next.String()
					s.Logger.Error("Handler failed, retrying", err, fields)
					s.metrics.retryInc(s.Name(), msg.Metadata.Get(metadatapkg.KeyEventType))
				}),
			)
			msg.Metadata.Set(metadatapkg.KeyAttempts, strconv.Itoa(attempts))
			return produced, err
		}
	}
}

// messageFields returns the log fields every consumer line carries.
func messageFields(msg *message.Message) loggingpkg.LogFields {
	return loggingpkg.LogFields{
		"message_uuid": msg.UUID,
		"event_type":   msg.Metadata.Get(metadatapkg.KeyEventType),
		"trace_id":     msg.Metadata.Get(metadatapkg.KeyTraceID),
	}
}
