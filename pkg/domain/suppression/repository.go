package suppression

import (
	"context"

	"github.com/repohawk/scanner/pkg/domain/shared"
)

// Repository persists ignored rules.
type Repository interface {
	// Upsert stores a rule; storing the same (project, fingerprint) twice
	// keeps a single row and is not an error.
	Upsert(ctx context.Context, rule *IgnoredRule) error

	// Delete removes the rule for a fingerprint. Deleting a rule that does
	// not exist is not an error.
	Delete(ctx context.Context, projectID shared.ID, fingerprint string) error

	// ListFingerprints returns all suppressed fingerprints for a project.
	ListFingerprints(ctx context.Context, projectID shared.ID) ([]string, error)
}
