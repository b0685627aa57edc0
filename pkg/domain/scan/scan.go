// Package scan provides the persisted scan execution record and its
// lifecycle state machine.
package scan

import (
	"time"

	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/shared"
)

// Status represents scan lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true for completed or failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind distinguishes the two scan job shapes.
type Kind string

const (
	KindInitial Kind = "initial"
	KindCommit  Kind = "commit"
)

// IsValid checks if the kind is valid.
func (k Kind) IsValid() bool {
	return k == KindInitial || k == KindCommit
}

// TriageMode records how findings were produced.
type TriageMode string

const (
	// TriageModeAgentic means the agent loop produced the final finding set.
	TriageModeAgentic TriageMode = "agentic"
	// TriageModeFallback means raw tool output was mapped directly, either
	// because no model credential was configured or the loop degraded.
	TriageModeFallback TriageMode = "fallback"
)

// Summary is the per-scan result rollup stored with the record.
type Summary struct {
	Critical        int        `json:"critical"`
	High            int        `json:"high"`
	Medium          int        `json:"medium"`
	Low             int        `json:"low"`
	Info            int        `json:"info"`
	TotalFindings   int        `json:"total_findings"`
	IgnoredFindings int        `json:"ignored_findings"`
	TriageMode      TriageMode `json:"triage_mode,omitempty"`
	Degraded        bool       `json:"degraded,omitempty"`
}

// Add counts one finding into the summary.
func (s *Summary) Add(sev finding.Severity) {
	switch sev {
	case finding.SeverityCritical:
		s.Critical++
	case finding.SeverityHigh:
		s.High++
	case finding.SeverityMedium:
		s.Medium++
	case finding.SeverityLow:
		s.Low++
	default:
		s.Info++
	}
	s.TotalFindings++
}

// Scan is the persisted execution record for one scan job. It is created in
// state queued at enqueue time and thereafter mutated only by the single
// worker that claimed the job.
type Scan struct {
	ID             shared.ID
	ProjectID      shared.ID
	UserID         shared.ID
	Kind           Kind
	RepoFullName   string
	Branch         string
	CommitSHA      string
	InstallationID *int64
	Status         Status
	Error          string
	Summary        *Summary
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// New creates a scan record in state queued.
func New(projectID, userID shared.ID, kind Kind, repoFullName, branch string) (*Scan, error) {
	if projectID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "project_id is required", shared.ErrValidation)
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("VALIDATION", "invalid scan kind", shared.ErrValidation)
	}
	if repoFullName == "" {
		return nil, shared.NewDomainError("VALIDATION", "repo_full_name is required", shared.ErrValidation)
	}
	if branch == "" {
		return nil, shared.NewDomainError("VALIDATION", "branch is required", shared.ErrValidation)
	}

	return &Scan{
		ID:           shared.NewID(),
		ProjectID:    projectID,
		UserID:       userID,
		Kind:         kind,
		RepoFullName: repoFullName,
		Branch:       branch,
		Status:       StatusQueued,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Start transitions queued -> running.
func (s *Scan) Start() error {
	if s.Status != StatusQueued {
		return shared.NewDomainError("CONFLICT", "scan is not queued", shared.ErrConflict)
	}
	now := time.Now().UTC()
	s.Status = StatusRunning
	s.StartedAt = &now
	return nil
}

// Complete transitions running -> completed with a findings summary.
func (s *Scan) Complete(summary Summary) error {
	if s.Status != StatusRunning {
		return shared.NewDomainError("CONFLICT", "scan is not running", shared.ErrConflict)
	}
	now := time.Now().UTC()
	s.Status = StatusCompleted
	s.Summary = &summary
	s.FinishedAt = &now
	return nil
}

// Fail transitions queued or running -> failed with a human-readable error.
// Failing from queued covers jobs whose retries exhausted before the handler
// ever reached running.
func (s *Scan) Fail(msg string) error {
	if s.Status.IsTerminal() {
		return shared.NewDomainError("CONFLICT", "scan already finished", shared.ErrConflict)
	}
	now := time.Now().UTC()
	s.Status = StatusFailed
	s.Error = msg
	s.FinishedAt = &now
	return nil
}

// Duration returns the wall-clock execution time, zero until finished.
func (s *Scan) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}
