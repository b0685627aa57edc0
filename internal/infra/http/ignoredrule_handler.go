package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/domain/suppression"
	"github.com/repohawk/scanner/pkg/logger"
)

// IgnoredRuleHandler exposes finding suppression. Ignore and restore are
// idempotent by fingerprint; neither touches the finding records themselves.
type IgnoredRuleHandler struct {
	rules  *suppression.Service
	logger *logger.Logger
}

// NewIgnoredRuleHandler creates an ignored-rule handler.
func NewIgnoredRuleHandler(rules *suppression.Service, log *logger.Logger) *IgnoredRuleHandler {
	return &IgnoredRuleHandler{rules: rules, logger: log}
}

type ignoreRequest struct {
	Fingerprint string `json:"fingerprint"`
	Reason      string `json:"reason,omitempty"`
	UserID      string `json:"user_id"`
}

// Ignore handles POST /api/v1/projects/{projectID}/ignored-rules.
func (h *IgnoredRuleHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	projectID, err := shared.IDFromString(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid project id")
		return
	}

	var req ignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	if req.Fingerprint == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION", "fingerprint is required")
		return
	}
	userID, err := shared.IDFromString(req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid user id")
		return
	}

	if err := h.rules.Ignore(r.Context(), projectID, req.Fingerprint, req.Reason, userID); err != nil {
		h.logger.Error("failed to ignore finding", "error", err, "project_id", projectID)
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// Restore handles DELETE /api/v1/projects/{projectID}/ignored-rules/{fingerprint}.
func (h *IgnoredRuleHandler) Restore(w http.ResponseWriter, r *http.Request) {
	projectID, err := shared.IDFromString(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid project id")
		return
	}
	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION", "fingerprint is required")
		return
	}

	if err := h.rules.Restore(r.Context(), projectID, fingerprint); err != nil {
		h.logger.Error("failed to restore finding", "error", err, "project_id", projectID)
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
