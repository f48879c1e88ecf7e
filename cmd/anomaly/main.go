// Command anomaly checks event values against configured thresholds and
// serves the anomaly log.
package main

import (
	"context"

	"github.com/drblury/taskflow/internal/anomaly"
	"github.com/drblury/taskflow/internal/app"
	"github.com/drblury/taskflow/internal/httpapi"
	"github.com/drblury/taskflow/internal/runtime"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

func main() {
	app.Main("anomaly", run)
}

func run(ctx context.Context, a *app.App) error {
	svc, err := runtime.NewService(a.Conf, a.Log, a.ServiceDependencies())
	if err != nil {
		return err
	}

	anomalies := anomaly.NewLog(a.Conf.Files.Anomalies, a.Log)
	detector := anomaly.NewDetector(a.Conf.Thresholds, anomalies, a.Log, anomaly.WithMetrics(a.Metrics))
	if err := detector.Register(svc); err != nil {
		return err
	}
	detector.Watch(a.Loader)

	if len(a.Conf.Thresholds) == 0 {
		a.Log.Info("No thresholds configured, every value passes", nil)
	} else {
		a.Log.Info("Thresholds loaded", loggingpkg.LogFields{"thresholds": a.Conf.Thresholds})
	}

	r := a.Router(nil)
	httpapi.MountAnomalies(r, anomalies, a.Log)
	return a.Run(ctx, r, svc.Run)
}
