// Command analyzer keeps an in-memory audit of task events and serves counts
// and individual events.
package main

import (
	"context"

	"github.com/drblury/taskflow/internal/app"
	"github.com/drblury/taskflow/internal/audit"
	"github.com/drblury/taskflow/internal/httpapi"
	"github.com/drblury/taskflow/internal/runtime"
)

func main() {
	app.Main("analyzer", run)
}

func run(ctx context.Context, a *app.App) error {
	svc, err := runtime.NewService(a.Conf, a.Log, a.ServiceDependencies())
	if err != nil {
		return err
	}

	events := audit.New()
	if err := events.Register(svc); err != nil {
		return err
	}

	r := a.Router(nil)
	httpapi.MountAnalyzer(r, events, a.Log)
	return a.Run(ctx, r, svc.Run)
}
