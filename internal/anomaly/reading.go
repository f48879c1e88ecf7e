package anomaly

import (
	"encoding/json"
	"strings"

	"github.com/drblury/taskflow/internal/runtime/envelope"
)

// DifficultyEventType is the reading type derived from create events.
const DifficultyEventType = "task_difficulty"

// ReadingFrom extracts the reading an event carries. Payloads with
// event_type and a numeric value are used as they are; create events yield
// their task_difficulty. Anything else carries no reading.
func ReadingFrom(env envelope.Envelope) (Reading, bool, error) {
	fields, err := env.Fields()
	if err != nil {
		return Reading{}, false, err
	}

	r := Reading{
		EventID: firstString(fields, "event_id", "uuid"),
		TraceID: env.TraceID,
	}
	if r.EventID == "" {
		r.EventID = env.TraceID
	}

	if eventType := firstString(fields, "event_type"); eventType != "" {
		if v, ok := number(fields["value"]); ok {
			r.EventType = eventType
			r.Value = v
			return r, true, nil
		}
	}

	if env.Type == envelope.TypeCreate {
		if v, ok := number(fields[DifficultyEventType]); ok {
			r.EventType = DifficultyEventType
			r.Value = v
			return r, true, nil
		}
	}
	return Reading{}, false, nil
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	default:
		return 0, false
	}
}
