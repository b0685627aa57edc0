// Package finding provides the canonical security finding entity and its
// severity and identity rules.
package finding

import (
	"fmt"
	"time"

	"github.com/repohawk/scanner/pkg/domain/shared"
)

// Severity represents finding severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	default:
		return false
	}
}

// SeverityFromScore derives severity from a CVSS base score. The numeric
// score is authoritative; any severity label a tool or model supplied
// independently is discarded when a score is present.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Type categorizes what kind of issue a finding describes.
type Type string

const (
	TypeSAST       Type = "sast"
	TypeSecret     Type = "secret"
	TypeDependency Type = "dependency"
	TypeConfig     Type = "config"
	TypeLogic      Type = "logic"
)

// IsValid checks if the type is valid.
func (t Type) IsValid() bool {
	switch t {
	case TypeSAST, TypeSecret, TypeDependency, TypeConfig, TypeLogic:
		return true
	default:
		return false
	}
}

// Finding is one triaged security issue. Findings are append-only: they are
// created once per scan and never edited, only superseded by a later scan or
// suppressed via an ignored rule.
type Finding struct {
	ID          shared.ID `json:"id"`
	ScanID      shared.ID `json:"scan_id"`
	ProjectID   shared.ID `json:"project_id"`
	Severity    Severity  `json:"severity"`
	Type        Type      `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FilePath    string    `json:"file_path,omitempty"`
	StartLine   int       `json:"start_line,omitempty"`
	EndLine     int       `json:"end_line,omitempty"`
	CWEID       string    `json:"cwe_id,omitempty"`
	CVEID       string    `json:"cve_id,omitempty"`
	CVSSScore   *float64  `json:"cvss_score,omitempty"`
	CVSSVector  string    `json:"cvss_vector,omitempty"`
	Tool        string    `json:"tool"`
	RuleID      string    `json:"rule_id,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Normalize enforces the severity invariants on the finding: when a CVSS
// score is present, severity is re-derived from it regardless of what the
// producing tool or model assigned; otherwise an invalid or empty severity
// collapses to info.
func (f *Finding) Normalize() {
	if f.CVSSScore != nil {
		f.Severity = SeverityFromScore(*f.CVSSScore)
		return
	}
	if !f.Severity.IsValid() {
		f.Severity = SeverityInfo
	}
}

// Validate checks the minimal shape required to persist a finding.
func (f *Finding) Validate() error {
	if f.Title == "" {
		return fmt.Errorf("%w: title is required", shared.ErrValidation)
	}
	if f.Tool == "" {
		return fmt.Errorf("%w: tool is required", shared.ErrValidation)
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("%w: invalid severity %q", shared.ErrValidation, f.Severity)
	}
	if f.CVSSScore != nil && (*f.CVSSScore < 0 || *f.CVSSScore > 10) {
		return fmt.Errorf("%w: cvss score out of range", shared.ErrValidation)
	}
	return nil
}
