package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/services"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

// StatusFor maps a service error onto an HTTP status code.
func StatusFor(err error) int {
	var terr *models.TransitionError
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &terr):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoOCRText):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// WriteError writes err as {"error": "..."}. Internal errors are logged and
// replaced by a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Request failed.", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error: processing failed"
	}
	WriteJSON(w, status, errorBody{Error: msg})
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}

// DecodeJSON reads a JSON request body into dst. Failures wrap
// services.ErrInvalidRequest.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("%w: could not parse JSON: %v", services.ErrInvalidRequest, err)
	}
	return nil
}
