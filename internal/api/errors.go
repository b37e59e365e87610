package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/semnotes/internal/embedding"
	"github.com/kalambet/semnotes/internal/engine"
	"github.com/kalambet/semnotes/internal/ingest"
	"github.com/kalambet/semnotes/internal/notes"
	"github.com/kalambet/semnotes/internal/session"
	"github.com/kalambet/semnotes/internal/vectorindex"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// serviceError maps a service error onto a status code and error type.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notes.ErrInvalidIdentifier), errors.Is(err, ingest.ErrInvalidRequest):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, notes.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "note not found")
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		httpError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, ingest.ErrFetch):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	case errors.Is(err, embedding.ErrModelUnavailable),
		errors.Is(err, embedding.ErrEncoding),
		errors.Is(err, engine.ErrUnavailable),
		errors.Is(err, vectorindex.ErrIndexUnavailable):
		httpError(w, http.StatusServiceUnavailable, "service_unavailable", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
