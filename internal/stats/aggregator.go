package stats

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/taskflow/internal/runtime"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// Cycle results reported to the metrics.
const (
	ResultOK          = "ok"
	ResultFetchFailed = "fetch_failed"
	ResultSaveFailed  = "save_failed"
	ResultLoadFailed  = "load_failed"
)

// Aggregator folds new events into the stored snapshot.
type Aggregator struct {
	repo    Repository
	source  EventSource
	log     loggingpkg.ServiceLogger
	metrics *runtime.Metrics
	now     func() time.Time

	// One cycle at a time, whether started by the scheduler or by hand.
	mu sync.Mutex
}

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*Aggregator)

func WithMetrics(m *runtime.Metrics) AggregatorOption {
	return func(a *Aggregator) { a.metrics = m }
}

func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(repo Repository, source EventSource, log loggingpkg.ServiceLogger, opts ...AggregatorOption) *Aggregator {
	if log == nil {
		log = loggingpkg.Discard()
	}
	a := &Aggregator{repo: repo, source: source, log: log, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunCycle loads the snapshot, fetches what happened since its checkpoint and
// saves the merged result. A failed fetch or save leaves the stored snapshot,
// and with it the checkpoint, untouched.
func (a *Aggregator) RunCycle(ctx context.Context) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	a.log.Info("Start periodic processing", nil)

	snap, exists, err := a.repo.Load(ctx)
	if err != nil {
		a.log.Error("Failed to load statistics", err, nil)
		a.metrics.ObserveCycle(ResultLoadFailed)
		return Snapshot{}, errspkg.Persistence("stats.load", err)
	}
	if !exists {
		snap = Snapshot{LastUpdated: now}
	}

	cp := snap.Checkpoint()
	fields := loggingpkg.LogFields{
		"last_event_id": cp.LastEventID,
		"window_start":  cp.LastUpdated.Format(time.RFC3339),
		"window_end":    now.Format(time.RFC3339),
	}
	a.log.Debug("Fetching new events", fields)

	batch, err := a.source.Fetch(ctx, cp, now)
	if err != nil {
		a.log.Error("Failed to fetch events, checkpoint kept", err, fields)
		a.metrics.ObserveCycle(ResultFetchFailed)
		return snap, err
	}

	next := snap.Merge(batch, now)
	if err := a.repo.Save(ctx, next); err != nil {
		a.log.Error("Failed to save statistics, checkpoint kept", err, fields)
		a.metrics.ObserveCycle(ResultSaveFailed)
		return snap, errspkg.Persistence("stats.save", err)
	}

	a.metrics.ObserveCycle(ResultOK)
	a.log.Info("Statistics updated", loggingpkg.LogFields{
		"new_tasks":           batch.Creates,
		"new_completed_tasks": batch.Completes,
		"num_tasks":           next.NumTasks,
		"completed_tasks":     next.CompletedTasks,
		"last_event_id":       next.LastEventID,
	})
	return next, nil
}

// Current returns the stored snapshot. It reports a NotFound error when no
// cycle has completed yet.
func (a *Aggregator) Current(ctx context.Context) (Snapshot, error) {
	snap, exists, err := a.repo.Load(ctx)
	if err != nil {
		return Snapshot{}, errspkg.Persistence("stats.current", err)
	}
	if !exists {
		return Snapshot{}, errspkg.NotFound("stats.current", "statistics have not been computed yet")
	}
	return snap, nil
}
