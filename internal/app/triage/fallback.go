package triage

import (
	"time"

	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/shared"
)

// Fallback maps raw tool findings straight through without model triage.
// Used when no model credential is configured or the agent loop degrades.
// Pure data transformation, structurally unable to fail.
func Fallback(input Input) *Result {
	out := make([]finding.Finding, 0, len(input.RawFindings))
	for _, f := range input.RawFindings {
		if f.ID.IsZero() {
			f.ID = shared.NewID()
		}
		f.ScanID = input.ScanID
		f.ProjectID = input.ProjectID
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		f.Normalize()
		out = append(out, f)
	}
	return &Result{Findings: out}
}
