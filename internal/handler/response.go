package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/puppals/mediastore/internal/service"
	"github.com/puppals/mediastore/internal/validation"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeServiceError maps pipeline errors onto status codes. Only unexpected
// faults are logged here, the services already log what they know.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *validation.Error
	var stageErr *service.StageError

	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, string(vErr.Reason), vErr.Error())
	case errors.Is(err, service.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
	case errors.Is(err, service.ErrPostNotFound):
		writeError(w, http.StatusNotFound, "post_not_found", "post not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "not allowed")
	case errors.Is(err, service.ErrMalformedBody):
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed multipart body")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away, nobody is reading the response
		slog.Debug("request canceled", "path", r.URL.Path)
	case errors.As(err, &stageErr):
		writeError(w, http.StatusInternalServerError, "storage_fault", "storage failure at "+string(stageErr.Stage))
	default:
		slog.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path)
}
