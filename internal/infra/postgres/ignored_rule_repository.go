package postgres

import (
	"context"
	"fmt"

	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/domain/suppression"
)

// IgnoredRuleRepository implements suppression.Repository using PostgreSQL.
type IgnoredRuleRepository struct {
	db *DB
}

var _ suppression.Repository = (*IgnoredRuleRepository)(nil)

// NewIgnoredRuleRepository creates a new IgnoredRuleRepository.
func NewIgnoredRuleRepository(db *DB) *IgnoredRuleRepository {
	return &IgnoredRuleRepository{db: db}
}

// Upsert stores a rule. Re-ignoring an already-ignored fingerprint updates
// the reason and keeps a single row, which is what makes the user action
// idempotent.
func (r *IgnoredRuleRepository) Upsert(ctx context.Context, rule *suppression.IgnoredRule) error {
	query := `
		INSERT INTO ignored_rules (id, project_id, fingerprint, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, fingerprint)
		DO UPDATE SET reason = EXCLUDED.reason, created_by = EXCLUDED.created_by
	`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID.String(),
		rule.ProjectID.String(),
		rule.Fingerprint,
		nullString(rule.Reason),
		rule.CreatedBy.String(),
		rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ignored rule: %w", err)
	}
	return nil
}

// Delete removes the rule for a fingerprint. Zero rows affected is fine;
// restoring a finding that was never ignored is a no-op.
func (r *IgnoredRuleRepository) Delete(ctx context.Context, projectID shared.ID, fingerprint string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM ignored_rules WHERE project_id = $1 AND fingerprint = $2",
		projectID.String(), fingerprint,
	)
	if err != nil {
		return fmt.Errorf("failed to delete ignored rule: %w", err)
	}
	return nil
}

// ListFingerprints returns all suppressed fingerprints for a project.
func (r *IgnoredRuleRepository) ListFingerprints(ctx context.Context, projectID shared.ID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT fingerprint FROM ignored_rules WHERE project_id = $1",
		projectID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ignored rules: %w", err)
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fingerprints = append(fingerprints, fp)
	}
	return fingerprints, rows.Err()
}
