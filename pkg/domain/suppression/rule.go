// Package suppression provides fingerprint-based finding suppression: a
// user decision that a given finding identity should never again be
// reported for a project.
package suppression

import (
	"fmt"
	"time"

	"github.com/repohawk/scanner/pkg/domain/shared"
)

// IgnoredRule records a suppressed finding identity for a project. Rules are
// keyed by (project, fingerprint); creating one that already exists and
// deleting one that does not are both no-ops, which makes the user-facing
// ignore/restore actions idempotent.
type IgnoredRule struct {
	ID          shared.ID
	ProjectID   shared.ID
	Fingerprint string
	Reason      string
	CreatedBy   shared.ID
	CreatedAt   time.Time
}

// NewIgnoredRule creates a suppression rule for a finding fingerprint.
func NewIgnoredRule(projectID shared.ID, fingerprint, reason string, createdBy shared.ID) (*IgnoredRule, error) {
	if projectID.IsZero() {
		return nil, fmt.Errorf("%w: project id is required", shared.ErrValidation)
	}
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", shared.ErrValidation)
	}

	return &IgnoredRule{
		ID:          shared.NewID(),
		ProjectID:   projectID,
		Fingerprint: fingerprint,
		Reason:      reason,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
