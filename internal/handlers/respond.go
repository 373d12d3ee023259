package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}

// statusForError maps service errors onto HTTP status codes
func statusForError(err error) int {
	var transportErr *services.TransportError
	switch {
	case errors.Is(err, models.ErrSyncDisabled),
		errors.Is(err, models.ErrNoSyncState),
		errors.Is(err, models.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrConflictNotFound),
		errors.Is(err, models.ErrMutationNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmptyUserID),
		errors.Is(err, models.ErrInvalidResolution),
		errors.Is(err, models.ErrUnknownEntity):
		return http.StatusBadRequest
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
