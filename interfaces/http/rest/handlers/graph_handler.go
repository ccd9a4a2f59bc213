package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"prism-backend/application/services"
)

// GraphHandler serves the aggregated graph view and the user list.
type GraphHandler struct {
	service *services.GraphService
	logger  *zap.Logger
}

// NewGraphHandler creates a graph handler.
func NewGraphHandler(service *services.GraphService, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{service: service, logger: logger}
}

// GetGraph handles GET /graph.
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	graph, err := h.service.GetGraph(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, graph)
}

// ListUsers handles GET /users.
func (h *GraphHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

// ReclaimOrphans handles POST /maintenance/reclaim-orphans.
func (h *GraphHandler) ReclaimOrphans(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.ReclaimOrphans(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"reclaimed": count})
}
