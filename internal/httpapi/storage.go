package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/taskstore"
)

// TaskQuerier reads tasks by creation time.
type TaskQuerier interface {
	QueryTasks(ctx context.Context, r taskstore.Range) ([]taskstore.Task, error)
	QueryCompleted(ctx context.Context, r taskstore.Range) ([]taskstore.CompletedTask, error)
}

type storageHandler struct {
	store TaskQuerier
	log   loggingpkg.ServiceLogger
}

// MountStorage adds the task query routes. Both accept optional
// start_timestamp (inclusive) and end_timestamp (exclusive) parameters.
func MountStorage(r chi.Router, store TaskQuerier, log loggingpkg.ServiceLogger) {
	h := &storageHandler{store: store, log: orDiscard(log)}
	r.Get("/tasks", h.tasks)
	r.Get("/tasks/completed", h.completed)
}

func (h *storageHandler) tasks(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	tasks, err := h.store.QueryTasks(r.Context(), rng)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (h *storageHandler) completed(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	tasks, err := h.store.QueryCompleted(r.Context(), rng)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func parseRange(r *http.Request) (taskstore.Range, error) {
	var rng taskstore.Range
	for _, p := range []struct {
		name   string
		target **time.Time
	}{
		{"start_timestamp", &rng.Start},
		{"end_timestamp", &rng.End},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		ts, err := taskstore.ParseTimestamp(raw)
		if err != nil {
			return taskstore.Range{}, errspkg.Validation("storage.query", p.name, "is not a valid timestamp")
		}
		*p.target = &ts
	}
	return rng, nil
}
