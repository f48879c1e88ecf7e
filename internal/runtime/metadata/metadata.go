// Package metadata holds the broker message headers taskflow reads and writes.
package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// Header keys set on every published task event.
const (
	KeyTraceID      = "trace_id"
	KeyEventType    = "event_type"
	KeyPartitionKey = "partition_key"
	KeyDatetime     = "datetime"

	// Set on messages forwarded to the dead-letter topic.
	KeyError         = "error"
	KeyOriginalTopic = "original_topic"
	KeyAttempts      = "attempts"
)

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a copy containing the provided key/value pair. Empty values are
// not recorded.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// TraceID returns the trace id header, if any.
func (m Metadata) TraceID() string { return m[KeyTraceID] }

// EventType returns the event type header, if any.
func (m Metadata) EventType() string { return m[KeyEventType] }

// FromMessage copies the headers of a Watermill message.
func FromMessage(msg *message.Message) Metadata {
	if msg == nil {
		return Metadata{}
	}
	result := make(Metadata, len(msg.Metadata))
	for k, v := range msg.Metadata {
		result[k] = v
	}
	return result
}

// Apply writes every entry onto the Watermill message headers.
func (m Metadata) Apply(msg *message.Message) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(m))
	}
	for k, v := range m {
		msg.Metadata.Set(k, v)
	}
}
