// Package audit keeps every task event seen on the topic, in arrival order per
// event type, for the analyzer service.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/runtime/envelope"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

// Event is an audited envelope in its wire shape.
type Event struct {
	Type     string          `json:"type"`
	Datetime string          `json:"datetime"`
	TraceID  string          `json:"trace_id"`
	Payload  json.RawMessage `json:"payload"`
}

// Audit holds the events per type. The zero value is not usable; call New.
type Audit struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// Types are the event types an Audit records.
var Types = []string{envelope.TypeCreate, envelope.TypeComplete}

func New() *Audit {
	a := &Audit{events: make(map[string][]Event, len(Types))}
	for _, t := range Types {
		a.events[t] = nil
	}
	return a
}

// Record appends env to the list for its type.
func (a *Audit) Record(_ context.Context, env envelope.Envelope) error {
	ev := Event{
		Type:    env.Type,
		TraceID: env.TraceID,
		Payload: append(json.RawMessage(nil), env.Payload...),
	}
	if !env.Datetime.IsZero() {
		ev.Datetime = env.Datetime.Format(envelope.DatetimeLayout)
	}

	a.mu.Lock()
	a.events[env.Type] = append(a.events[env.Type], ev)
	a.mu.Unlock()
	return nil
}

// Counts returns the number of events per type keyed "<type>_count".
func (a *Audit) Counts() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]int, len(a.events))
	for t, evs := range a.events {
		out[t+"_count"] = len(evs)
	}
	return out
}

// EventAt returns the index-th event of eventType, counting from zero.
func (a *Audit) EventAt(eventType string, index int) (Event, error) {
	const op = "audit.event_at"

	a.mu.RLock()
	defer a.mu.RUnlock()

	evs, ok := a.events[eventType]
	if !ok {
		return Event{}, errspkg.NotFound(op, fmt.Sprintf("unknown event type %q", eventType))
	}
	if index < 0 || index >= len(evs) {
		return Event{}, errspkg.NotFound(op, fmt.Sprintf("no %s event at index %d", eventType, index))
	}
	return evs[index], nil
}

// Register records every audited type consumed by svc.
func (a *Audit) Register(svc *runtime.Service) error {
	for _, t := range Types {
		if err := svc.Handle(t, a.Record); err != nil {
			return err
		}
	}
	return nil
}
