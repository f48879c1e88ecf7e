// Command receiver accepts task requests over HTTP and publishes them as
// events.
package main

import (
	"context"
	"fmt"

	"github.com/drblury/taskflow/internal/app"
	"github.com/drblury/taskflow/internal/httpapi"
	"github.com/drblury/taskflow/internal/runtime"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

func main() {
	app.Main("receiver", run)
}

func run(ctx context.Context, a *app.App) error {
	producer, err := runtime.NewProducer(ctx, a.Conf, a.Log, runtime.WithProducerMetrics(a.Metrics))
	if err != nil {
		return fmt.Errorf("connect producer: %w", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			a.Log.Error("Failed to close producer", err, nil)
		}
	}()

	r := a.Router(nil)
	httpapi.MountReceiver(r, producer, a.Log)

	a.Log.Info("Receiver ready", loggingpkg.LogFields{"topic": a.Conf.GetTopic()})
	return a.Run(ctx, r)
}
