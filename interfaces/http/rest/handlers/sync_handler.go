package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"prism-backend/application/services"
)

// SyncHandler exposes the backend synchronization operations.
type SyncHandler struct {
	service *services.GraphService
	logger  *zap.Logger
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(service *services.GraphService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{service: service, logger: logger}
}

// Sync handles POST /sync.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Sync(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Push handles POST /push.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Push(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Status handles GET /sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.HasUnpushedChanges(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"unpushed_changes": pending,
		"backend":          h.service.Backend().Type(),
		"read_only":        h.service.Backend().IsReadOnly(),
		"realtime":         h.service.Backend().SupportsRealtime(),
	})
}
