package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/stats"
)

// StatsReader returns the current statistics.
type StatsReader interface {
	Current(ctx context.Context) (stats.Snapshot, error)
}

// MountProcessing adds GET /stats. It answers 404 until the first cycle has
// been saved.
func MountProcessing(r chi.Router, reader StatsReader, log loggingpkg.ServiceLogger) {
	log = orDiscard(log)
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		snap, err := reader.Current(req.Context())
		if err != nil {
			respondError(w, req, log, err)
			return
		}
		respondJSON(w, http.StatusOK, snap)
	})
}
