package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	"github.com/drblury/taskflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an error onto its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errspkg.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errspkg.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errspkg.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, v)
}

// respondError writes err with its mapped status. Client errors carry their
// message; server errors are logged and answered with a generic one.
func respondError(w http.ResponseWriter, r *http.Request, log loggingpkg.ServiceLogger, err error) {
	status := StatusFor(err)
	body := ErrorResponse{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())}

	fields := loggingpkg.LogFields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
		"request_id": body.RequestID,
	}
	switch status {
	case http.StatusBadGateway:
		log.Error("Upstream dependency failed", err, fields)
		body.Error = "upstream dependency unavailable"
	case http.StatusInternalServerError:
		log.Error("Request failed", err, fields)
		body.Error = "internal server error"
	default:
		log.Debug("Rejected request: "+err.Error(), fields)
	}
	respondJSON(w, status, body)
}

func orDiscard(log loggingpkg.ServiceLogger) loggingpkg.ServiceLogger {
	if log == nil {
		return loggingpkg.Discard()
	}
	return log
}

func decodeJSON(r *http.Request, op string, v any) error {
	if err := jsoncodec.Decode(r.Body, v); err != nil {
		return errspkg.Validation(op, "body", "must be a JSON object: "+err.Error())
	}
	return nil
}
