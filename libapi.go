package taskflow

import (
	"context"
	"io"

	runtimepkg "github.com/drblury/taskflow/internal/runtime"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	"github.com/drblury/taskflow/internal/runtime/envelope"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	idspkg "github.com/drblury/taskflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/transports"
)

type (
	Config         = configpkg.Config
	Producer       = runtimepkg.Producer
	ProducerOption = runtimepkg.ProducerOption
	Envelope       = envelope.Envelope

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	TransportBuilder      = transport.Builder
	TransportCapabilities = transport.Capabilities

	ConfigValidationError = errspkg.ConfigValidationError
)

// Event types understood by the services.
const (
	EventCreate   = envelope.TypeCreate
	EventComplete = envelope.TypeComplete
)

var (
	ErrConfigRequired  = errspkg.ErrConfigRequired
	ErrLoggerRequired  = errspkg.ErrLoggerRequired
	ErrTopicRequired   = errspkg.ErrTopicRequired
	ErrPayloadRequired = errspkg.ErrPayloadRequired

	ErrValidation = errspkg.ErrValidation
	ErrUpstream   = errspkg.ErrUpstream
)

// Producer options.
var (
	WithProducerMetrics = runtimepkg.WithProducerMetrics
	WithClock           = runtimepkg.WithClock
	WithEventTypes      = runtimepkg.WithEventTypes
	WithConnectRetry    = runtimepkg.WithConnectRetry
)

// LoadConfig reads the YAML file at path with TASKFLOW_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	return configpkg.Load(path)
}

// NewLogger returns a JSON logger writing to w.
func NewLogger(w io.Writer, service, level string) ServiceLogger {
	return loggingpkg.New(w, service, level)
}

// NewProducer connects to the configured broker.
func NewProducer(ctx context.Context, cfg *Config, log ServiceLogger, opts ...ProducerOption) (*Producer, error) {
	return runtimepkg.NewProducer(ctx, cfg, log, opts...)
}

// DecodeEnvelope parses a wire message as published by a Producer.
func DecodeEnvelope(data []byte) (Envelope, error) {
	return envelope.Decode(data)
}

// NewTraceID returns a fresh correlation id.
func NewTraceID() string {
	return idspkg.NewTraceID()
}

// RegisterTransport makes a custom transport available to
// events.pubsub_system alongside the built-in ones.
func RegisterTransport(name string, builder TransportBuilder, caps TransportCapabilities) {
	transports.RegisterAll()
	transport.RegisterWithCapabilities(name, builder, caps)
}

// Transports lists the registered transport names.
func Transports() []string {
	transports.RegisterAll()
	return transport.DefaultRegistry.Names()
}
