package stats

import (
	"context"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// Scheduler runs an Aggregator cycle every period. A cycle still running when
// the next one is due makes the scheduler skip that tick.
type Scheduler struct {
	agg    *Aggregator
	log    loggingpkg.ServiceLogger
	period time.Duration
	cron   *cronlib.Cron

	cancel context.CancelFunc
}

func NewScheduler(agg *Aggregator, period time.Duration, log loggingpkg.ServiceLogger) (*Scheduler, error) {
	if agg == nil {
		return nil, fmt.Errorf("stats: aggregator is required")
	}
	if period < time.Second {
		return nil, fmt.Errorf("stats: period must be at least one second, got %s", period)
	}
	if log == nil {
		log = loggingpkg.Discard()
	}

	cronLog := loggingpkg.CronLogger{Log: log}
	return &Scheduler{
		agg:    agg,
		log:    log,
		period: period,
		cron: cronlib.New(
			cronlib.WithLogger(cronLog),
			cronlib.WithChain(cronlib.Recover(cronLog), cronlib.SkipIfStillRunning(cronLog)),
		),
	}, nil
}

// Start schedules the cycles. Cycles run with ctx until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	spec := fmt.Sprintf("@every %ds", int(s.period/time.Second))
	if _, err := s.cron.AddFunc(spec, func() {
		// Failures are logged by the aggregator and retried next tick.
		_, _ = s.agg.RunCycle(ctx)
	}); err != nil {
		s.cancel()
		return fmt.Errorf("stats: schedule %q: %w", spec, err)
	}

	s.cron.Start()
	s.log.Info("Aggregation scheduler started", loggingpkg.LogFields{"period": s.period.String()})
	return nil
}

// Stop prevents new cycles and waits for the running one to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info("Aggregation scheduler stopped", nil)
}
