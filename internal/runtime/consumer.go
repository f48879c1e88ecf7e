package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/taskflow/internal/runtime/envelope"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	"github.com/drblury/taskflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
)

// dispatch decodes one message and runs the handler registered for its type.
// Handlers run on a context detached from the consumer so an in-flight event
// finishes when the service is stopped.
func (s *Service) dispatch(msg *message.Message) error {
	env, err := envelope.Decode(msg.Payload)
	if err != nil {
		return err
	}
	annotate(msg, env)

	handler := s.handlerFor(env.Type)
	if handler == nil {
		return fmt.Errorf("%w: no handler for event type %q", errspkg.ErrSkip, env.Type)
	}

	return handler(context.WithoutCancel(msg.Context()), env)
}

// annotate fills the trace headers from a decoded envelope without
// overwriting what the producer set.
func annotate(msg *message.Message, env envelope.Envelope) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata)
	}
	if msg.Metadata.Get(metadatapkg.KeyEventType) == "" {
		msg.Metadata.Set(metadatapkg.KeyEventType, env.Type)
	}
	if msg.Metadata.Get(metadatapkg.KeyTraceID) == "" && env.TraceID != "" {
		msg.Metadata.Set(metadatapkg.KeyTraceID, env.TraceID)
	}
}

// publishDeadLetter forwards the original payload to the dead-letter topic
// with the failure recorded in its headers.
func (s *Service) publishDeadLetter(msg *message.Message, cause error) error {
	topic := s.Conf.GetDeadLetterTopic()
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	pub := s.activePublisher()
	if pub == nil {
		return errspkg.ErrPublisherRequired
	}

	md := metadatapkg.FromMessage(msg).
		With(metadatapkg.KeyError, cause.Error()).
		With(metadatapkg.KeyOriginalTopic, s.Conf.GetTopic())

	out := message.NewMessage(ids.NewMessageID(), msg.Payload)
	md.Apply(out)
	out.SetContext(context.WithoutCancel(msg.Context()))

	return pub.Publish(topic, out)
}
