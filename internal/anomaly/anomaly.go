// Package anomaly compares readings carried by events against per event type
// thresholds and keeps a durable log of the readings that crossed them.
package anomaly

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Anomaly types.
const (
	TooHigh = "Too High"
	TooLow  = "Too Low"
)

// TimestampLayout is the local time format of Anomaly.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Reading is one measured value taken from an event.
type Reading struct {
	EventID   string
	TraceID   string
	EventType string
	Value     float64
}

// Anomaly is an appended log entry. Entries are never changed.
type Anomaly struct {
	EventID     string `json:"event_id"`
	TraceID     string `json:"trace_id"`
	EventType   string `json:"event_type"`
	AnomalyType string `json:"anomaly_type"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

// Thresholds maps an event type to its threshold. Keys are matched case-insensitively.
type Thresholds map[string]float64

func (t Thresholds) lookup(eventType string) (float64, bool) {
	if v, ok := t[eventType]; ok {
		return v, true
	}
	v, ok := t[strings.ToLower(eventType)]
	return v, ok
}

// Classify reports an anomaly when r's value is strictly above or below the
// threshold for its type. Types without a threshold never produce one.
func Classify(r Reading, thresholds Thresholds, now time.Time) (Anomaly, bool) {
	threshold, ok := thresholds.lookup(r.EventType)
	if !ok {
		return Anomaly{}, false
	}

	value, limit := formatNumber(r.Value), formatNumber(threshold)
	a := Anomaly{
		EventID:   r.EventID,
		TraceID:   r.TraceID,
		EventType: r.EventType,
		Timestamp: now.Format(TimestampLayout),
	}
	switch {
	case r.Value > threshold:
		a.AnomalyType = TooHigh
		a.Description = fmt.Sprintf("The value is too high (%s of %s is greater than threshold of %s)", r.EventType, value, limit)
	case r.Value < threshold:
		a.AnomalyType = TooLow
		a.Description = fmt.Sprintf("The value is too low (%s of %s is less than the threshold of %s)", r.EventType, value, limit)
	default:
		return Anomaly{}, false
	}
	return a, true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
