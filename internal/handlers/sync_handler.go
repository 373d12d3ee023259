package handlers

import (
	"net/http"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/services"
)

// maxOutboxItems caps the outbox listing
const maxOutboxItems = 500

// SyncHandler handles sync status and control endpoints
type SyncHandler struct {
	coordinator *services.SyncCoordinator
	bootstrap   *services.BootstrapService
	outbox      *services.OutboxService
	conflicts   *services.ConflictService
	logger      *observability.Logger
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(
	coordinator *services.SyncCoordinator,
	bootstrap *services.BootstrapService,
	outbox *services.OutboxService,
	conflicts *services.ConflictService,
	logger *observability.Logger,
) *SyncHandler {
	return &SyncHandler{
		coordinator: coordinator,
		bootstrap:   bootstrap,
		outbox:      outbox,
		conflicts:   conflicts,
		logger:      logger.WithField("component", "sync_handler"),
	}
}

// Status returns the aggregate sync status
// GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.Status(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Errorf("Failed to load sync status: %v", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Run triggers a sync cycle and waits for it to finish
// POST /api/sync/run
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.coordinator.SyncNow(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Warnf("Sync run failed: %v", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Enable turns sync on for a user, switching accounts if needed
// POST /api/sync/enable
func (h *SyncHandler) Enable(w http.ResponseWriter, r *http.Request) {
	var req models.EnableSyncRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switched, err := h.bootstrap.SetSyncEnabled(r.Context(), true, req.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status, err := h.coordinator.Status(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.EnableSyncResponse{AccountSwitched: switched, Status: status})
}

// Disable turns sync off; local data and the outbox are kept
// POST /api/sync/disable
func (h *SyncHandler) Disable(w http.ResponseWriter, r *http.Request) {
	if _, err := h.bootstrap.SetSyncEnabled(r.Context(), false, ""); err != nil {
		writeServiceError(w, err)
		return
	}

	status, err := h.coordinator.Status(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Outbox lists pending mutations in push order
// GET /api/sync/outbox
func (h *SyncHandler) Outbox(w http.ResponseWriter, r *http.Request) {
	items, err := h.outbox.ListItems(r.Context(), maxOutboxItems)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Audit returns the conflict resolution audit trail
// GET /api/sync/audit
func (h *SyncHandler) Audit(w http.ResponseWriter, r *http.Request) {
	events, err := h.conflicts.AuditLog(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []*models.SyncConflictTelemetryEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
