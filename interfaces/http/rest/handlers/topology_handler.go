package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"prism-backend/application/services"
	"prism-backend/domain/core/valueobjects"
	"prism-backend/interfaces/http/rest/middleware"
)

// TopologyHandler exposes the structural edit gestures. The front end has
// already resolved pointer gestures to node identifiers by the time these
// endpoints are called.
type TopologyHandler struct {
	service *services.GraphService
	logger  *zap.Logger
}

// NewTopologyHandler creates a topology handler.
func NewTopologyHandler(service *services.GraphService, logger *zap.Logger) *TopologyHandler {
	return &TopologyHandler{service: service, logger: logger}
}

// IntermediaryRequest is the body for POST /topology/intermediary.
type IntermediaryRequest struct {
	SourceID string  `json:"source_id" validate:"required"`
	TargetID string  `json:"target_id" validate:"required"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// MakeIntermediaryRequest is the body for POST /topology/make-intermediary.
type MakeIntermediaryRequest struct {
	DraggingID string `json:"dragging_id" validate:"required"`
	SourceID   string `json:"source_id" validate:"required"`
	TargetID   string `json:"target_id" validate:"required"`
}

// ConnectRequest is the body for POST /topology/connect.
type ConnectRequest struct {
	ChildID     string `json:"child_id" validate:"required"`
	NewParentID string `json:"new_parent_id" validate:"required"`
}

// DisconnectRequest is the body for POST /topology/disconnect.
type DisconnectRequest struct {
	ParentID string `json:"parent_id" validate:"required"`
	ChildID  string `json:"child_id" validate:"required"`
}

// CreateIntermediary handles POST /topology/intermediary.
func (h *TopologyHandler) CreateIntermediary(w http.ResponseWriter, r *http.Request) {
	var req IntermediaryRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	pos, err := valueobjects.NewPosition(req.X, req.Y)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	user := middleware.UserFrom(r.Context())
	nodeID, err := h.service.Editor().CreateIntermediary(r.Context(), req.SourceID, req.TargetID, pos, user)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": nodeID})
}

// MakeIntermediary handles POST /topology/make-intermediary.
func (h *TopologyHandler) MakeIntermediary(w http.ResponseWriter, r *http.Request) {
	var req MakeIntermediaryRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	moved, err := h.service.Editor().MakeIntermediary(r.Context(), req.DraggingID, req.SourceID, req.TargetID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"moved": moved})
}

// Connect handles POST /topology/connect.
func (h *TopologyHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	if err := h.service.Editor().ConnectNodes(r.Context(), req.ChildID, req.NewParentID); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondMessage(w, http.StatusOK, "nodes connected")
}

// Disconnect handles POST /topology/disconnect.
func (h *TopologyHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req DisconnectRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	cut, err := h.service.Editor().DisconnectEdge(r.Context(), req.ParentID, req.ChildID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"disconnected": cut})
}
