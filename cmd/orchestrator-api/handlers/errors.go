// Package handlers provides HTTP handlers for the orchestrator API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/chat"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/search"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/session"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/storage"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Detail:  detail,
	})
}

// statusFor maps domain errors to an HTTP status and a client-safe message.
// Anything unrecognised is a 500 whose cause stays in the logs.
func statusFor(err error) (int, string) {
	var ve *catalog.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidLocation),
		errors.Is(err, chat.ErrEmptyTitle),
		errors.Is(err, search.ErrNoProvider):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "thread not found"
	case errors.Is(err, geocache.ErrNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "stream not found or expired"
	case errors.Is(err, geocache.ErrStoreUnavailable):
		return http.StatusInternalServerError, "product store unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
