package anomaly

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/drblury/taskflow/internal/runtime"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	"github.com/drblury/taskflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// Appender stores detected anomalies.
type Appender interface {
	Append(ctx context.Context, a Anomaly) error
}

// Detector classifies the reading of every consumed event and appends the
// anomalies it finds.
type Detector struct {
	thresholds atomic.Pointer[Thresholds]
	store      Appender
	log        loggingpkg.ServiceLogger
	metrics    *runtime.Metrics
	now        func() time.Time
}

// DetectorOption customises a Detector.
type DetectorOption func(*Detector)

func WithMetrics(m *runtime.Metrics) DetectorOption {
	return func(d *Detector) { d.metrics = m }
}

func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

func NewDetector(thresholds Thresholds, store Appender, log loggingpkg.ServiceLogger, opts ...DetectorOption) *Detector {
	if log == nil {
		log = loggingpkg.Discard()
	}
	d := &Detector{store: store, log: log, now: time.Now}
	d.SetThresholds(thresholds)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetThresholds swaps the thresholds used for the next events.
func (d *Detector) SetThresholds(t Thresholds) {
	cp := make(Thresholds, len(t))
	for k, v := range t {
		cp[k] = v
	}
	d.thresholds.Store(&cp)
}

// Thresholds returns the thresholds in use.
func (d *Detector) Thresholds() Thresholds {
	return *d.thresholds.Load()
}

// Handle is the consumer handler for every event type.
func (d *Detector) Handle(ctx context.Context, env envelope.Envelope) error {
	reading, ok, err := ReadingFrom(env)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	a, found := Classify(reading, d.Thresholds(), d.now())
	if !found {
		return nil
	}
	if err := d.store.Append(ctx, a); err != nil {
		return err
	}

	d.metrics.ObserveAnomaly(a.EventType, a.AnomalyType)
	d.log.Info("Anomaly detected", loggingpkg.LogFields{
		"event_id":     a.EventID,
		"trace_id":     a.TraceID,
		"event_type":   a.EventType,
		"anomaly_type": a.AnomalyType,
		"description":  a.Description,
	})
	return nil
}

// Register makes d the handler for every event the service consumes.
func (d *Detector) Register(svc *runtime.Service) error {
	return svc.HandleAny(d.Handle)
}

// Watch reloads the thresholds whenever the configuration file changes. An
// invalid reload keeps the current thresholds.
func (d *Detector) Watch(loader *configpkg.Loader) {
	loader.OnChange(func(cfg *configpkg.Config, err error) {
		if err != nil {
			d.log.Error("Ignoring invalid configuration reload", err, nil)
			return
		}
		d.SetThresholds(cfg.Thresholds)
		d.log.Info("Thresholds reloaded", loggingpkg.LogFields{"thresholds": cfg.Thresholds})
	})
}
