package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/notifyhub/dispatch/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{"success": false, "message": msg})
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
// Internal errors never leak stack traces to clients.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrMissingUserID),
		errors.Is(err, domain.ErrMissingContent),
		errors.Is(err, domain.ErrMissingRecipient),
		errors.Is(err, domain.ErrInvalidChannel),
		errors.Is(err, domain.ErrInvalidType),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrProviderNotReady),
		errors.Is(err, domain.ErrBulkEmpty),
		errors.Is(err, domain.ErrBulkTooLarge):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEnqueueFailed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
