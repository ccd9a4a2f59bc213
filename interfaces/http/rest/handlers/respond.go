// Package handlers implements the REST endpoints over GraphService.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"prism-backend/application/services"
	pkgerrors "prism-backend/pkg/errors"
)

var validate = validator.New()

type errorResponse struct {
	Error         string `json:"error"`
	ExternalUsers any    `json:"external_users,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// respondError maps the error taxonomy to HTTP status codes. Encumbrance
// refusals are conflicts carrying the external-user list so the front end
// can ask for confirmation.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var enc *services.EncumbranceError
	if errors.As(err, &enc) {
		respondJSON(w, http.StatusConflict, errorResponse{
			Error:         enc.Error(),
			ExternalUsers: enc.ExternalUsers,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case pkgerrors.IsValidation(err):
		status = http.StatusBadRequest
	case pkgerrors.IsNotFound(err):
		status = http.StatusNotFound
	case pkgerrors.IsPermissionDenied(err):
		status = http.StatusForbidden
	case pkgerrors.IsRemoteUnavailable(err):
		status = http.StatusBadGateway
	case pkgerrors.IsVCSConflict(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return pkgerrors.NewValidation("invalid request body: " + err.Error())
	}
	if err := validate.Struct(v); err != nil {
		return pkgerrors.NewValidation("validation error: " + err.Error())
	}
	return nil
}
