package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/repohawk/scanner/internal/app"
	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

// ScanHandler exposes scan triggering and inspection.
type ScanHandler struct {
	scans    *app.ScanService
	findings finding.Repository
	logger   *logger.Logger
}

// NewScanHandler creates a scan handler.
func NewScanHandler(scans *app.ScanService, findings finding.Repository, log *logger.Logger) *ScanHandler {
	return &ScanHandler{scans: scans, findings: findings, logger: log}
}

type triggerScanRequest struct {
	UserID         string `json:"user_id"`
	RepoFullName   string `json:"repo_full_name"`
	Branch         string `json:"branch"`
	CommitSHA      string `json:"commit_sha,omitempty"`
	InstallationID *int64 `json:"installation_id,omitempty"`
}

type scanResponse struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id"`
	Kind         string        `json:"kind"`
	RepoFullName string        `json:"repo_full_name"`
	Branch       string        `json:"branch"`
	CommitSHA    string        `json:"commit_sha,omitempty"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Summary      *scan.Summary `json:"summary,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

func toScanResponse(sc *scan.Scan) scanResponse {
	return scanResponse{
		ID:           sc.ID.String(),
		ProjectID:    sc.ProjectID.String(),
		Kind:         string(sc.Kind),
		RepoFullName: sc.RepoFullName,
		Branch:       sc.Branch,
		CommitSHA:    sc.CommitSHA,
		Status:       string(sc.Status),
		Error:        sc.Error,
		Summary:      sc.Summary,
		CreatedAt:    sc.CreatedAt,
		StartedAt:    sc.StartedAt,
		FinishedAt:   sc.FinishedAt,
	}
}

// Trigger handles POST /api/v1/projects/{projectID}/scans.
func (h *ScanHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	projectID, err := shared.IDFromString(chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid project id")
		return
	}

	var req triggerScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	userID, err := shared.IDFromString(req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid user id")
		return
	}

	kind := scan.KindInitial
	if req.CommitSHA != "" {
		kind = scan.KindCommit
	}

	sc, err := h.scans.Trigger(r.Context(), app.TriggerInput{
		ProjectID:      projectID,
		UserID:         userID,
		Kind:           kind,
		RepoFullName:   req.RepoFullName,
		Branch:         req.Branch,
		CommitSHA:      req.CommitSHA,
		InstallationID: req.InstallationID,
	})
	if err != nil {
		if errors.Is(err, shared.ErrValidation) {
			respondDomainError(w, err)
			return
		}
		h.logger.Error("failed to trigger scan", "error", err, "project_id", projectID)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to trigger scan")
		return
	}

	respondJSON(w, http.StatusAccepted, toScanResponse(sc))
}

// Get handles GET /api/v1/scans/{scanID}.
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	scanID, err := shared.IDFromString(chi.URLParam(r, "scanID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid scan id")
		return
	}

	sc, err := h.scans.Get(r.Context(), scanID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toScanResponse(sc))
}

// ListFindings handles GET /api/v1/scans/{scanID}/findings.
func (h *ScanHandler) ListFindings(w http.ResponseWriter, r *http.Request) {
	scanID, err := shared.IDFromString(chi.URLParam(r, "scanID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid scan id")
		return
	}

	if _, err := h.scans.Get(r.Context(), scanID); err != nil {
		respondDomainError(w, err)
		return
	}

	findings, err := h.findings.ListByScan(r.Context(), scanID)
	if err != nil {
		h.logger.Error("failed to list findings", "error", err, "scan_id", scanID)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list findings")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  findings,
		"total": len(findings),
	})
}
