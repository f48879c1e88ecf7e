/*
Package runtime hosts the broker side of every taskflow service: the
Producer that puts task events on the topic and the Service that consumes
them.

# Consuming

A Service owns one Watermill router with a single consumer handler bound to
events.topic and events.consumer_group. Every message is decoded into an
envelope.Envelope and dispatched to the EventHandler registered for its type.
Messages are processed one at a time and committed only after the handler
returned nil or the failure policy decided to drop or forward them.

The default middleware chain, outermost first:

  - trace_headers: fills event_type and trace_id headers from the envelope
  - log_messages: debug log of every message
  - tracer: OpenTelemetry span per message
  - metrics: Watermill Prometheus router metrics (metrics.enabled)
  - failure_policy: ack, skip, dead-letter or nack per events.on_failure
  - retry: in-place exponential backoff for retryable errors
  - recoverer: turns handler panics into errors

A lost broker connection restarts the consume loop with exponential
backoff until the service context is cancelled.

# Producing

	producer, err := runtime.NewProducer(ctx, cfg, logger)
	traceID, err := producer.Publish(ctx, envelope.TypeCreate, payload)

# Sub-packages

  - config/: viper-backed configuration with validation
  - envelope/: wire message codec
  - errors/: error kinds and handler control errors
  - ids/: ULID message ids and UUID trace ids
  - jsoncodec/: sonic JSON helpers
  - logging/: ServiceLogger and its Watermill, goose and cron adapters
  - metadata/: broker message headers
*/
package runtime
