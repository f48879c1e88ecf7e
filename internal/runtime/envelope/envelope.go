// Package envelope encodes and decodes the wire message shared by every
// producer and consumer on the events topic:
//
//	{"type": "create", "datetime": "2025-01-01T10:00:00", "payload": {..., "trace_id": "<uuid>"}}
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	"github.com/drblury/taskflow/internal/runtime/ids"
	"github.com/drblury/taskflow/internal/runtime/jsoncodec"
)

// Task lifecycle event types.
const (
	TypeCreate   = "create"
	TypeComplete = "complete"
)

// DatetimeLayout is the second-resolution local timestamp stamped at publish time.
const DatetimeLayout = "2006-01-02T15:04:05"

// TraceIDField is the payload key carrying the correlation id.
const TraceIDField = "trace_id"

// Envelope is a decoded wire message. Payload keeps the raw JSON object so
// handlers decode it into their own command types.
type Envelope struct {
	Type     string
	TraceID  string
	Datetime time.Time
	Payload  json.RawMessage
}

type wire struct {
	Type     string          `json:"type"`
	Datetime string          `json:"datetime"`
	Payload  json.RawMessage `json:"payload"`
}

// IsTaskEvent reports whether t is one of the task lifecycle types.
func IsTaskEvent(t string) bool {
	return t == TypeCreate || t == TypeComplete
}

// New builds an envelope around payload, assigning a trace id when the payload
// has none. payload is not modified.
func New(eventType string, payload map[string]any, now time.Time) (Envelope, error) {
	const op = "envelope.new"
	if strings.TrimSpace(eventType) == "" {
		return Envelope{}, errspkg.Validation(op, "type", "is required")
	}
	if payload == nil {
		return Envelope{}, errspkg.Validation(op, "payload", "is required")
	}

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	traceID, _ := body[TraceIDField].(string)
	if strings.TrimSpace(traceID) == "" {
		traceID = ids.NewTraceID()
	}
	body[TraceIDField] = traceID

	raw, err := jsoncodec.Marshal(body)
	if err != nil {
		return Envelope{}, errspkg.Validationf(op, err)
	}

	return Envelope{
		Type:     eventType,
		TraceID:  traceID,
		Datetime: now.Truncate(time.Second),
		Payload:  raw,
	}, nil
}

// Encode serializes the envelope to its wire form.
func Encode(env Envelope) ([]byte, error) {
	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return jsoncodec.Marshal(wire{
		Type:     env.Type,
		Datetime: env.Datetime.Format(DatetimeLayout),
		Payload:  payload,
	})
}

// Decode parses a wire message. Failures wrap errors.ErrUnprocessable: the same
// bytes will never decode on a retry.
func Decode(data []byte) (Envelope, error) {
	var w wire
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return Envelope{}, unprocessable("malformed json: %v", err)
	}
	if strings.TrimSpace(w.Type) == "" {
		return Envelope{}, unprocessable("missing type")
	}
	payload := bytes.TrimSpace(w.Payload)
	if len(payload) == 0 || payload[0] != '{' {
		return Envelope{}, unprocessable("payload must be a JSON object")
	}

	env := Envelope{Type: w.Type, Payload: json.RawMessage(payload)}

	if w.Datetime != "" {
		ts, err := ParseDatetime(w.Datetime)
		if err != nil {
			return Envelope{}, unprocessable("bad datetime %q", w.Datetime)
		}
		env.Datetime = ts
	}

	var probe struct {
		TraceID string `json:"trace_id"`
	}
	if err := jsoncodec.Unmarshal(payload, &probe); err == nil {
		env.TraceID = probe.TraceID
	}

	return env, nil
}

// ParseDatetime accepts the publish layout in local time and RFC 3339.
func ParseDatetime(s string) (time.Time, error) {
	if ts, err := time.ParseInLocation(DatetimeLayout, s, time.Local); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, s)
}

// DecodePayload unmarshals the payload object into v.
func (e Envelope) DecodePayload(v any) error {
	if err := jsoncodec.Unmarshal(e.Payload, v); err != nil {
		return unprocessable("payload for %s: %v", e.Type, err)
	}
	return nil
}

// Fields decodes the payload into a generic map with numbers kept as
// json.Number.
func (e Envelope) Fields() (map[string]any, error) {
	var m map[string]any
	if err := jsoncodec.UnmarshalNumber(e.Payload, &m); err != nil {
		return nil, unprocessable("payload for %s: %v", e.Type, err)
	}
	return m, nil
}

func unprocessable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errspkg.ErrUnprocessable, fmt.Sprintf(format, args...))
}
