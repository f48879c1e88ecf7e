package runtime

import (
	"context"
	"strings"

	"github.com/drblury/taskflow/internal/runtime/envelope"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

// EventHandler processes one decoded event. A nil error commits the message;
// anything else goes through the retry middleware and the failure policy.
type EventHandler func(ctx context.Context, env envelope.Envelope) error

// Handle registers h for eventType, replacing any previous handler.
func (s *Service) Handle(eventType string, h EventHandler) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if strings.TrimSpace(eventType) == "" {
		return errspkg.ErrEventTypeRequired
	}
	if h == nil {
		return errspkg.ErrHandlerRequired
	}

	s.handlersMu.Lock()
	s.handlers[eventType] = h
	s.handlersMu.Unlock()
	return nil
}

// HandleAny registers h for every event type without a dedicated handler.
func (s *Service) HandleAny(h EventHandler) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if h == nil {
		return errspkg.ErrHandlerRequired
	}

	s.handlersMu.Lock()
	s.fallback = h
	s.handlersMu.Unlock()
	return nil
}

// HandleJSON registers a handler that receives the payload decoded into T.
// Payloads that do not decode are unprocessable and never retried.
func HandleJSON[T any](svc *Service, eventType string, h func(ctx context.Context, payload T, env envelope.Envelope) error) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if h == nil {
		return errspkg.ErrHandlerRequired
	}

	return svc.Handle(eventType, func(ctx context.Context, env envelope.Envelope) error {
		var payload T
		if err := env.DecodePayload(&payload); err != nil {
			return err
		}
		return h(ctx, payload, env)
	})
}

func (s *Service) handlerFor(eventType string) EventHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	if h, ok := s.handlers[eventType]; ok {
		return h
	}
	return s.fallback
}

func (s *Service) hasHandlers() bool {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return len(s.handlers) > 0 || s.fallback != nil
}
