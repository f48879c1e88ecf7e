package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drblury/taskflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/taskstore"
)

// Publisher sends an event and returns its trace id.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) (string, error)
}

// PublishResponse is returned for every accepted event.
type PublishResponse struct {
	TraceID string `json:"trace_id"`
}

type receiverHandler struct {
	pub Publisher
	log loggingpkg.ServiceLogger
}

// MountReceiver adds the intake routes that turn requests into events.
func MountReceiver(r chi.Router, pub Publisher, log loggingpkg.ServiceLogger) {
	h := &receiverHandler{pub: pub, log: orDiscard(log)}
	r.Post("/tasks", h.create)
	r.Post("/tasks/complete", h.complete)
}

func (h *receiverHandler) create(w http.ResponseWriter, r *http.Request) {
	var in taskstore.NewTask
	if err := decodeJSON(r, "receiver.create", &in); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if err := in.Validate(); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	payload := map[string]any{
		"task_name":        in.TaskName,
		"due_date":         in.DueDate,
		"task_description": in.TaskDescription,
		"uuid":             in.UUID,
	}
	if in.TaskDifficulty != nil {
		payload["task_difficulty"] = *in.TaskDifficulty
	}
	h.publish(w, r, envelope.TypeCreate, payload, in.TraceID)
}

func (h *receiverHandler) complete(w http.ResponseWriter, r *http.Request) {
	var in taskstore.Completion
	if err := decodeJSON(r, "receiver.complete", &in); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if err := in.Validate(); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	payload := map[string]any{
		"task_name": in.TaskName,
		"uuid":      in.UUID,
	}
	if in.CompletedBy != "" {
		payload["completed_by"] = in.CompletedBy
	}
	h.publish(w, r, envelope.TypeComplete, payload, in.TraceID)
}

func (h *receiverHandler) publish(w http.ResponseWriter, r *http.Request, eventType string, payload map[string]any, traceID string) {
	if traceID != "" {
		payload[envelope.TraceIDField] = traceID
	}
	traceID, err := h.pub.Publish(r.Context(), eventType, payload)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	h.log.Info("Event accepted", loggingpkg.LogFields{"event_type": eventType, "trace_id": traceID})
	respondJSON(w, http.StatusCreated, PublishResponse{TraceID: traceID})
}
