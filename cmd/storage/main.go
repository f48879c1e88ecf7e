// Command storage consumes task events into the database and serves task
// queries.
package main

import (
	"context"
	"fmt"

	"github.com/drblury/taskflow/internal/app"
	"github.com/drblury/taskflow/internal/httpapi"
	"github.com/drblury/taskflow/internal/runtime"
	"github.com/drblury/taskflow/internal/taskstore"
)

func main() {
	app.Main("storage", run)
}

func run(ctx context.Context, a *app.App) error {
	store, err := taskstore.Open(ctx, a.Conf.Datastore.Driver, a.Conf.Datastore.URL,
		taskstore.WithLogger(a.Log),
		taskstore.WithMatchPolicy(a.Conf.Datastore.MatchPolicy),
	)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.Log.Error("Failed to close task store", err, nil)
		}
	}()

	svc, err := runtime.NewService(a.Conf, a.Log, a.ServiceDependencies())
	if err != nil {
		return err
	}
	if err := taskstore.RegisterHandlers(svc, store); err != nil {
		return err
	}

	r := a.Router(store.Ping)
	httpapi.MountStorage(r, store, a.Log)
	return a.Run(ctx, r, svc.Run)
}
