package gitrepo

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/pkg/crypto"
	"github.com/repohawk/scanner/pkg/domain/credential"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

// TokenSource resolves the credential for a scan request. Installation
// tokens come first; a stored user OAuth token is the fallback. A failed
// decryption of the stored token counts as having no credential.
type TokenSource struct {
	appID      int64
	privateKey *rsa.PrivateKey
	apiBase    string
	httpClient *http.Client
	creds      credential.Repository
	enc        crypto.Encryptor
	logger     *logger.Logger
}

// NewTokenSource creates a TokenSource. The GitHub App private key is
// optional; without it only user OAuth tokens are usable.
func NewTokenSource(cfg *config.GitHubConfig, creds credential.Repository, enc crypto.Encryptor, log *logger.Logger) (*TokenSource, error) {
	ts := &TokenSource{
		appID:      cfg.AppID,
		apiBase:    cfg.APIBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		creds:      creds,
		enc:        enc,
		logger:     log,
	}

	if cfg.AppID != 0 && cfg.PrivateKeyPath != "" {
		pem, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read GitHub App private key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse GitHub App private key: %w", err)
		}
		ts.privateKey = key
	}

	return ts, nil
}

// AccessRequest identifies what the token must be able to clone.
type AccessRequest struct {
	RepoFullName   string
	InstallationID *int64
	UserID         shared.ID
}

// Token returns a token able to clone the repository, or ErrNoCredential.
func (t *TokenSource) Token(ctx context.Context, req AccessRequest) (string, error) {
	if req.InstallationID != nil && t.privateKey != nil {
		token, err := t.installationToken(ctx, *req.InstallationID)
		if err == nil {
			return token, nil
		}
		t.logger.Warn("installation token mint failed, trying user credential",
			"installation_id", *req.InstallationID,
			"error", err,
		)
	}

	cred, err := t.creds.GetByUserAndKind(ctx, req.UserID, credential.KindGitHubOAuth, "")
	if err != nil {
		if shared.IsNotFound(err) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("failed to load user credential: %w", err)
	}

	token, err := crypto.Open(t.enc, cred.Secret)
	if err != nil {
		t.logger.Warn("stored credential could not be decrypted", "user_id", req.UserID)
		return "", ErrNoCredential
	}
	return token, nil
}

// appJWT mints the short-lived RS256 JWT that authenticates the App itself.
// iat is backdated 60s to absorb clock skew against GitHub.
func (t *TokenSource) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%d", t.appID),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(t.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}

// installationToken exchanges the app JWT for an installation access token.
func (t *TokenSource) installationToken(ctx context.Context, installationID int64) (string, error) {
	appJWT, err := t.appJWT()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", t.apiBase, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("installation token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("installation token request returned %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode installation token response: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("installation token response missing token")
	}
	return body.Token, nil
}
