package suppression

import (
	"context"

	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/shared"
)

// Filter drops findings whose fingerprint matches a suppressed set. It
// returns the kept findings and the number dropped, which the scan summary
// reports as ignored_findings so suppression stays visible to the user.
func Filter(findings []finding.Finding, suppressed []string) ([]finding.Finding, int) {
	if len(suppressed) == 0 {
		return findings, 0
	}

	set := make(map[string]struct{}, len(suppressed))
	for _, fp := range suppressed {
		set[fp] = struct{}{}
	}

	kept := make([]finding.Finding, 0, len(findings))
	ignored := 0
	for _, f := range findings {
		if _, ok := set[f.Fingerprint()]; ok {
			ignored++
			continue
		}
		kept = append(kept, f)
	}
	return kept, ignored
}

// Service exposes the ignore/restore user actions.
type Service struct {
	repo Repository
}

// NewService creates a suppression service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Ignore suppresses a finding identity for a project. Idempotent: ignoring
// an already-ignored fingerprint leaves a single rule in place.
func (s *Service) Ignore(ctx context.Context, projectID shared.ID, fingerprint, reason string, userID shared.ID) error {
	rule, err := NewIgnoredRule(projectID, fingerprint, reason, userID)
	if err != nil {
		return err
	}
	return s.repo.Upsert(ctx, rule)
}

// Restore removes the suppression for a finding identity. Idempotent:
// restoring a fingerprint that is not suppressed is a no-op.
func (s *Service) Restore(ctx context.Context, projectID shared.ID, fingerprint string) error {
	return s.repo.Delete(ctx, projectID, fingerprint)
}

// Fingerprints returns the suppressed set consulted by every scan.
func (s *Service) Fingerprints(ctx context.Context, projectID shared.ID) ([]string, error) {
	return s.repo.ListFingerprints(ctx, projectID)
}
