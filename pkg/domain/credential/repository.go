package credential

import (
	"context"

	"github.com/repohawk/scanner/pkg/domain/shared"
)

// Repository persists credentials. One row per (user, kind, provider);
// storing again replaces the secret.
type Repository interface {
	// Upsert stores or replaces a credential.
	Upsert(ctx context.Context, c *Credential) error

	// GetByUserAndKind returns the credential for a user, or
	// shared.ErrNotFound. Provider narrows llm_api_key lookups and is
	// ignored for other kinds.
	GetByUserAndKind(ctx context.Context, userID shared.ID, kind Kind, provider string) (*Credential, error)

	// Delete removes a credential. Missing rows are not an error.
	Delete(ctx context.Context, userID shared.ID, kind Kind, provider string) error
}
