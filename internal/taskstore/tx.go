package taskstore

import (
	"context"
	"database/sql"
	"fmt"

	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// txFn runs inside a transaction. Returning an error rolls it back.
type txFn func(ctx context.Context, tx *sql.Tx) error

// runInTransaction commits when fn returns nil and rolls back on error or
// panic. Panics are re-raised after the rollback.
func runInTransaction(ctx context.Context, db *sql.DB, log loggingpkg.ServiceLogger, fn txFn) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("Failed to roll back transaction after panic", rbErr, loggingpkg.LogFields{"panic": p})
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("Failed to roll back transaction", rbErr, loggingpkg.LogFields{"original_error": err.Error()})
			return fmt.Errorf("rollback: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
