package taskstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrationsFS embed.FS

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

func migrate(ctx context.Context, db *sql.DB, d dialect, log loggingpkg.ServiceLogger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(loggingpkg.GooseLogger{Log: log})

	if err := goose.SetDialect(d.name); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations/"+d.name); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
