package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/services"
)

// ConflictHandler handles conflict review endpoints
type ConflictHandler struct {
	conflicts *services.ConflictService
	logger    *observability.Logger
}

// NewConflictHandler creates a new ConflictHandler
func NewConflictHandler(conflicts *services.ConflictService, logger *observability.Logger) *ConflictHandler {
	return &ConflictHandler{
		conflicts: conflicts,
		logger:    logger.WithField("component", "conflict_handler"),
	}
}

// List returns open conflicts
// GET /api/sync/conflicts
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.conflicts.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if views == nil {
		views = []models.ConflictView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// Get returns the preview of one conflict
// GET /api/sync/conflicts/{opId}
func (h *ConflictHandler) Get(w http.ResponseWriter, r *http.Request) {
	preview, err := h.conflicts.Preview(r.Context(), chi.URLParam(r, "opId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// KeepMine re-queues the local mutation against the server version.
// Without a body the version recorded with the conflict is used.
// POST /api/sync/conflicts/{opId}/keep-mine
func (h *ConflictHandler) KeepMine(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "opId")

	var req models.ResolveConflictRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	serverVersion := req.ServerVersion
	if serverVersion == nil {
		preview, err := h.conflicts.Preview(r.Context(), opID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		serverVersion = preview.ServerVersion
	}

	resolved, err := h.conflicts.ResolveConflictKeepMine(r.Context(), opID, serverVersion)
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("Keep mine failed for %s: %v", opID, err)
		writeServiceError(w, err)
		return
	}
	if !resolved {
		writeServiceError(w, models.ErrMutationNotFound)
		return
	}
	writeJSON(w, http.StatusOK, models.ResolveOneResponse{OpID: opID, Resolved: true})
}

// KeepServer drops the local mutation and applies the server state
// POST /api/sync/conflicts/{opId}/keep-server
func (h *ConflictHandler) KeepServer(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "opId")

	resolved, err := h.conflicts.ResolveConflictKeepServer(r.Context(), opID)
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("Keep server failed for %s: %v", opID, err)
		writeServiceError(w, err)
		return
	}
	if !resolved {
		writeServiceError(w, models.ErrMutationNotFound)
		return
	}
	writeJSON(w, http.StatusOK, models.ResolveOneResponse{OpID: opID, Resolved: true})
}

// ResolveAll applies one choice to every open conflict
// POST /api/sync/conflicts/resolve-all
func (h *ConflictHandler) ResolveAll(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveAllRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	choice, err := models.ParseConflictResolution(req.Choice)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.conflicts.ResolveAll(r.Context(), choice)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AutoResolve resolves the low-risk conflicts and leaves the rest for review
// POST /api/sync/conflicts/auto-resolve
func (h *ConflictHandler) AutoResolve(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.conflicts.AutoResolveLowRisk(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.AutoResolveResponse{Resolved: resolved})
}
