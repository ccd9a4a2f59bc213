package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"prism-backend/application/ports"
	"prism-backend/application/services"
	"prism-backend/interfaces/http/rest/middleware"
)

// VoteHandler handles the acting user's own vote records.
type VoteHandler struct {
	service *services.GraphService
	logger  *zap.Logger
}

// NewVoteHandler creates a vote handler.
func NewVoteHandler(service *services.GraphService, logger *zap.Logger) *VoteHandler {
	return &VoteHandler{service: service, logger: logger}
}

// SetVoteRequest is the body for PUT /nodes/{nodeID}/vote. Interested nil
// with clear_vote set resets the vote to pending; notes nil leaves notes
// unchanged and an empty string clears them.
type SetVoteRequest struct {
	Interested *bool   `json:"interested,omitempty"`
	ClearVote  bool    `json:"clear_vote,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

// SetVote handles PUT /nodes/{nodeID}/vote.
func (h *VoteHandler) SetVote(w http.ResponseWriter, r *http.Request) {
	var req SetVoteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	nodeID := chi.URLParam(r, "nodeID")
	user := middleware.UserFrom(r.Context())
	err := h.service.SetVote(r.Context(), user, nodeID, ports.VoteUpdate{
		Interested: req.Interested,
		ClearVote:  req.ClearVote,
		Notes:      req.Notes,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondMessage(w, http.StatusOK, "vote recorded")
}

// RemoveVote handles DELETE /nodes/{nodeID}/vote.
func (h *VoteHandler) RemoveVote(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	user := middleware.UserFrom(r.Context())

	if err := h.service.RemoveVote(r.Context(), user, nodeID); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondMessage(w, http.StatusOK, "vote reset to pending")
}
