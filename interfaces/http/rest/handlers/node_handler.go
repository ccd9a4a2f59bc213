package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"prism-backend/application/services"
	"prism-backend/domain/core/valueobjects"
	"prism-backend/interfaces/http/rest/middleware"
)

// NodeHandler handles shared node CRUD and the encumbrance queries.
type NodeHandler struct {
	service *services.GraphService
	logger  *zap.Logger
}

// NewNodeHandler creates a node handler.
func NewNodeHandler(service *services.GraphService, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{service: service, logger: logger}
}

// CreateNodeRequest is the body for POST /nodes.
type CreateNodeRequest struct {
	Label    string  `json:"label" validate:"required,min=1,max=500"`
	ParentID string  `json:"parent_id,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// UpdateNodeRequest is the body for PATCH /nodes/{nodeID}. Nil fields are
// left unchanged.
type UpdateNodeRequest struct {
	Label        *string        `json:"label,omitempty" validate:"omitempty,min=1,max=500"`
	Description  *string        `json:"description,omitempty"`
	ParentID     *string        `json:"parent_id,omitempty"`
	ClearParent  bool           `json:"clear_parent,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

func forceFlag(r *http.Request) bool {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return force
}

// CreateNode handles POST /nodes.
func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
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
	nodeID, err := h.service.AddNode(r.Context(), user, req.Label, req.ParentID, pos)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": nodeID})
}

// UpdateNode handles PATCH /nodes/{nodeID}.
func (h *NodeHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	var req UpdateNodeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	nodeID := chi.URLParam(r, "nodeID")
	user := middleware.UserFrom(r.Context())
	err := h.service.UpdateSharedNode(r.Context(), user, nodeID, services.NodeUpdate{
		Label:        req.Label,
		Description:  req.Description,
		ParentID:     req.ParentID,
		ClearParent:  req.ClearParent,
		CustomFields: req.CustomFields,
	}, forceFlag(r))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondMessage(w, http.StatusOK, "node updated")
}

// DeleteNode handles DELETE /nodes/{nodeID}. Encumbered nodes are refused
// with 409 unless ?force=true.
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	user := middleware.UserFrom(r.Context())

	if err := h.service.DeleteNode(r.Context(), user, nodeID, forceFlag(r)); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondMessage(w, http.StatusOK, "node deleted")
}

// ExternalUsers handles GET /nodes/{nodeID}/external-users.
func (h *NodeHandler) ExternalUsers(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	user := middleware.UserFrom(r.Context())

	external, err := h.service.ExternalUsers(r.Context(), user, nodeID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"external_users": external,
		"encumbered":     len(external) > 0,
	})
}

// CheckPermission handles GET /nodes/{nodeID}/permission.
func (h *NodeHandler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	user := middleware.UserFrom(r.Context())

	allowed, external, err := h.service.CheckEditPermission(r.Context(), user, nodeID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"allowed":        allowed,
		"external_users": external,
	})
}
