package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/repohawk/scanner/internal/app"
	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

// WebhookHandler turns GitHub push events into commit scans. The webhook URL
// is configured per project and carries the project and user identity as
// query parameters; GitHub itself only authenticates via the HMAC signature.
type WebhookHandler struct {
	scans  *app.ScanService
	secret string
	logger *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(scans *app.ScanService, webhookSecret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{scans: scans, secret: webhookSecret, logger: log}
}

// pushEvent is the subset of GitHub's push payload we consume.
type pushEvent struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
	Repo  struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// HandleGitHub handles POST /webhooks/github.
func (h *WebhookHandler) HandleGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "failed to read body")
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("webhook signature verification failed",
			"event", r.Header.Get("X-GitHub-Event"),
		)
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event != "push" {
		// Acknowledge everything else so GitHub does not mark us failing.
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": event})
		return
	}

	projectID, err := shared.IDFromString(r.URL.Query().Get("project_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "missing or invalid project_id")
		return
	}
	userID, err := shared.IDFromString(r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "missing or invalid user_id")
		return
	}

	var push pushEvent
	if err := json.Unmarshal(body, &push); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION", "invalid push payload")
		return
	}

	branch := strings.TrimPrefix(push.Ref, "refs/heads/")
	if branch == push.Ref || push.After == "" || isZeroSHA(push.After) {
		// Tag pushes and branch deletions carry nothing scannable.
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not a branch head update"})
		return
	}

	var installationID *int64
	if push.Installation != nil {
		installationID = &push.Installation.ID
	}

	sc, err := h.scans.Trigger(r.Context(), app.TriggerInput{
		ProjectID:      projectID,
		UserID:         userID,
		Kind:           scan.KindCommit,
		RepoFullName:   push.Repo.FullName,
		Branch:         branch,
		CommitSHA:      push.After,
		InstallationID: installationID,
	})
	if err != nil {
		h.logger.Error("failed to trigger scan from webhook", "error", err, "repo", push.Repo.FullName)
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"scan_id": sc.ID.String()})
}

// verifySignature checks the X-Hub-Signature-256 HMAC over the raw body.
func (h *WebhookHandler) verifySignature(body []byte, header string) bool {
	if h.secret == "" || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(header, "sha256=")))
}

func isZeroSHA(sha string) bool {
	for _, c := range sha {
		if c != '0' {
			return false
		}
	}
	return true
}
