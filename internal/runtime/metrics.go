package runtime

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "taskflow"

// Metrics holds the Prometheus collectors shared by the consumer, producer,
// aggregator and anomaly detector. A nil *Metrics records nothing.
type Metrics struct {
	consumed   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	published  *prometheus.CounterVec
	cycles     *prometheus.CounterVec
	anomalies  *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Collectors that are already
// registered are reused, so several services in one process can share a
// registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error
	if m.consumed, err = registerCounterVec(reg, "consumer", "messages_total",
		"Messages handled by the consumer, by final outcome.",
		"service", "event_type", "outcome"); err != nil {
		return nil, err
	}
	if m.retries, err = registerCounterVec(reg, "consumer", "retries_total",
		"In-place handler retries.", "service", "event_type"); err != nil {
		return nil, err
	}
	if m.reconnects, err = registerCounterVec(reg, "consumer", "reconnects_total",
		"Times the consume loop was restarted after losing the broker.", "service"); err != nil {
		return nil, err
	}
	if m.published, err = registerCounterVec(reg, "producer", "messages_total",
		"Events published, by result.", "event_type", "result"); err != nil {
		return nil, err
	}
	if m.cycles, err = registerCounterVec(reg, "aggregator", "cycles_total",
		"Aggregation cycles, by result.", "result"); err != nil {
		return nil, err
	}
	if m.anomalies, err = registerCounterVec(reg, "anomaly", "detected_total",
		"Anomalies appended to the log.", "event_type", "anomaly_type"); err != nil {
		return nil, err
	}
	return m, nil
}

func registerCounterVec(reg prometheus.Registerer, subsystem, name, help string, labels ...string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)

	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *Metrics) consumedInc(service, eventType, outcome string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(service, eventType, outcome).Inc()
}

func (m *Metrics) retryInc(service, eventType string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(service, eventType).Inc()
}

func (m *Metrics) reconnectInc(service string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(service).Inc()
}

func (m *Metrics) publishedInc(eventType, result string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(eventType, result).Inc()
}

// ObserveCycle records one aggregation cycle.
func (m *Metrics) ObserveCycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

// ObserveAnomaly records one appended anomaly.
func (m *Metrics) ObserveAnomaly(eventType, anomalyType string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(eventType, anomalyType).Inc()
}
