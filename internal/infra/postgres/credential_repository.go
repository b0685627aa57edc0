package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/repohawk/scanner/pkg/domain/credential"
	"github.com/repohawk/scanner/pkg/domain/shared"
)

// CredentialRepository implements credential.Repository using PostgreSQL.
// Secrets arrive already encrypted; this layer never sees plaintext.
type CredentialRepository struct {
	db *DB
}

var _ credential.Repository = (*CredentialRepository)(nil)

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert stores or replaces a credential for (user, kind, provider).
func (r *CredentialRepository) Upsert(ctx context.Context, c *credential.Credential) error {
	query := `
		INSERT INTO credentials (id, user_id, kind, provider, secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, kind, provider)
		DO UPDATE SET secret = EXCLUDED.secret, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		c.ID.String(),
		c.UserID.String(),
		string(c.Kind),
		c.Provider,
		c.Secret,
		c.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetByUserAndKind returns the credential for a user.
func (r *CredentialRepository) GetByUserAndKind(ctx context.Context, userID shared.ID, kind credential.Kind, provider string) (*credential.Credential, error) {
	query := `
		SELECT id, user_id, kind, provider, secret, created_at, updated_at
		FROM credentials
		WHERE user_id = $1 AND kind = $2
	`
	args := []any{userID.String(), string(kind)}
	if kind == credential.KindLLMAPIKey {
		query += " AND provider = $3"
		args = append(args, provider)
	}

	var (
		c                 credential.Credential
		idStr, userStr, k string
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&idStr, &userStr, &k, &c.Provider, &c.Secret, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "credential not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	if c.ID, err = shared.IDFromString(idStr); err != nil {
		return nil, fmt.Errorf("invalid credential id: %w", err)
	}
	if c.UserID, err = shared.IDFromString(userStr); err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	c.Kind = credential.Kind(k)

	return &c, nil
}

// Delete removes a credential. Missing rows are not an error.
func (r *CredentialRepository) Delete(ctx context.Context, userID shared.ID, kind credential.Kind, provider string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE user_id = $1 AND kind = $2 AND provider = $3",
		userID.String(), string(kind), provider,
	)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
