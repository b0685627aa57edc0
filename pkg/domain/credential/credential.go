// Package credential holds stored secrets that scans draw on at runtime:
// user OAuth tokens for repository access and per-user model API keys.
// Secrets are encrypted before they reach the repository layer.
package credential

import (
	"time"

	"github.com/repohawk/scanner/pkg/domain/shared"
)

// Kind identifies what a credential grants access to.
type Kind string

const (
	// KindGitHubOAuth is a user OAuth token used as the clone fallback when
	// no GitHub App installation covers the repository.
	KindGitHubOAuth Kind = "github_oauth"

	// KindLLMAPIKey is a user-supplied model API key for triage.
	KindLLMAPIKey Kind = "llm_api_key"
)

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindGitHubOAuth, KindLLMAPIKey:
		return true
	default:
		return false
	}
}

// Credential is a stored secret owned by a user. Secret carries the
// encrypted value with its "enc:v1:" prefix; plaintext never reaches
// persistence.
type Credential struct {
	ID        shared.ID `json:"id"`
	UserID    shared.ID `json:"user_id"`
	Kind      Kind      `json:"kind"`
	// Provider qualifies llm_api_key credentials ("claude", "openai").
	// Empty for OAuth tokens.
	Provider  string    `json:"provider,omitempty"`
	Secret    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a credential record.
func New(userID shared.ID, kind Kind, provider, secret string) (*Credential, error) {
	if userID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "user id is required", shared.ErrValidation)
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("VALIDATION", "unknown credential kind", shared.ErrValidation)
	}
	if secret == "" {
		return nil, shared.NewDomainError("VALIDATION", "secret is required", shared.ErrValidation)
	}
	if kind == KindLLMAPIKey && provider == "" {
		return nil, shared.NewDomainError("VALIDATION", "provider is required for model API keys", shared.ErrValidation)
	}

	now := time.Now().UTC()
	return &Credential{
		ID:        shared.NewID(),
		UserID:    userID,
		Kind:      kind,
		Provider:  provider,
		Secret:    secret,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
