package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drblury/taskflow/internal/anomaly"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// AnomalyLister lists logged anomalies, optionally of one type.
type AnomalyLister interface {
	List(ctx context.Context, anomalyType string) ([]anomaly.Anomaly, error)
}

// MountAnomalies adds GET /anomalies?type=.
func MountAnomalies(r chi.Router, lister AnomalyLister, log loggingpkg.ServiceLogger) {
	log = orDiscard(log)
	r.Get("/anomalies", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		anomalyType := q.Get("type")
		if anomalyType == "" {
			anomalyType = q.Get("anomaly_type")
		}

		list, err := lister.List(req.Context(), anomalyType)
		if err != nil {
			respondError(w, req, log, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	})
}
