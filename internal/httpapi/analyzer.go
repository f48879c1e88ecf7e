package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/drblury/taskflow/internal/audit"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// EventAuditor exposes the audited events.
type EventAuditor interface {
	Counts() map[string]int
	EventAt(eventType string, index int) (audit.Event, error)
}

// MountAnalyzer adds GET /events/stats and GET /events/{type}?index=.
func MountAnalyzer(r chi.Router, a EventAuditor, log loggingpkg.ServiceLogger) {
	log = orDiscard(log)
	r.Get("/events/stats", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, http.StatusOK, a.Counts())
	})

	r.Get("/events/{type}", func(w http.ResponseWriter, req *http.Request) {
		index, err := strconv.Atoi(req.URL.Query().Get("index"))
		if err != nil {
			respondError(w, req, log, errspkg.Validation("analyzer.event", "index", "must be an integer"))
			return
		}
		ev, err := a.EventAt(chi.URLParam(req, "type"), index)
		if err != nil {
			respondError(w, req, log, err)
			return
		}
		respondJSON(w, http.StatusOK, ev)
	})
}
