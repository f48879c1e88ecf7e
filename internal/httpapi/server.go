package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// ShutdownTimeout bounds how long in-flight requests may run after ctx ends.
const ShutdownTimeout = 10 * time.Second

// Serve listens on addr until ctx is cancelled, then shuts the server down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log loggingpkg.ServiceLogger) error {
	log = orDiscard(log)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	log.Info("HTTP server stopped", loggingpkg.LogFields{"address": addr})
	return nil
}
