// Command processing aggregates task statistics on a timer and serves the
// latest snapshot.
package main

import (
	"context"
	"fmt"

	"github.com/drblury/taskflow/internal/app"
	"github.com/drblury/taskflow/internal/httpapi"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	"github.com/drblury/taskflow/internal/stats"
	"github.com/drblury/taskflow/internal/taskstore"
)

func main() {
	app.Main("processing", run)
}

func run(ctx context.Context, a *app.App) error {
	var (
		source stats.EventSource
		health func(context.Context) error
	)
	switch a.Conf.Processing.Source {
	case configpkg.SourceHTTP:
		source = stats.NewHTTPSource(a.Conf.Processing.StorageURL, nil)
	default:
		store, err := taskstore.Open(ctx, a.Conf.Datastore.Driver, a.Conf.Datastore.URL, taskstore.WithLogger(a.Log))
		if err != nil {
			return fmt.Errorf("open task journal: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				a.Log.Error("Failed to close task journal", err, nil)
			}
		}()
		source = stats.NewJournalSource(store, a.Conf.Processing.BatchLimit)
		health = store.Ping
	}

	agg := stats.NewAggregator(stats.NewFileRepository(a.Conf.Files.Stats), source, a.Log, stats.WithMetrics(a.Metrics))
	scheduler, err := stats.NewScheduler(agg, a.Conf.Processing.Period(), a.Log)
	if err != nil {
		return err
	}

	r := a.Router(health)
	httpapi.MountProcessing(r, agg, a.Log)

	return a.Run(ctx, r, func(ctx context.Context) error {
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		scheduler.Stop()
		return nil
	})
}
