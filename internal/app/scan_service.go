package app

import (
	"context"
	"fmt"

	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

// ScanEnqueuer puts a scan job on the durable queue.
type ScanEnqueuer interface {
	EnqueueScan(ctx context.Context, sc *scan.Scan) error
}

// ScanService creates scan records and hands them to the queue. Execution
// itself lives in the pipeline; this service only owns the enqueue side.
type ScanService struct {
	scans    scan.Repository
	enqueuer ScanEnqueuer
	logger   *logger.Logger
}

// NewScanService creates a scan service.
func NewScanService(scans scan.Repository, enqueuer ScanEnqueuer, log *logger.Logger) *ScanService {
	return &ScanService{
		scans:    scans,
		enqueuer: enqueuer,
		logger:   log.With("service", "scan"),
	}
}

// TriggerInput describes a requested scan.
type TriggerInput struct {
	ProjectID      shared.ID
	UserID         shared.ID
	Kind           scan.Kind
	RepoFullName   string
	Branch         string
	CommitSHA      string
	InstallationID *int64
}

// Trigger creates the scan record in state queued and enqueues its job. The
// record is created first so a crash between the two steps leaves a visible
// queued scan for the recovery path rather than an untracked job.
func (s *ScanService) Trigger(ctx context.Context, in TriggerInput) (*scan.Scan, error) {
	sc, err := scan.New(in.ProjectID, in.UserID, in.Kind, in.RepoFullName, in.Branch)
	if err != nil {
		return nil, err
	}
	sc.CommitSHA = in.CommitSHA
	sc.InstallationID = in.InstallationID

	if in.Kind == scan.KindCommit && in.CommitSHA == "" {
		return nil, shared.NewDomainError("VALIDATION", "commit scans require a commit sha", shared.ErrValidation)
	}

	if err := s.scans.Create(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to create scan record: %w", err)
	}
	if err := s.enqueuer.EnqueueScan(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to enqueue scan: %w", err)
	}

	s.logger.Info("scan triggered",
		"scan_id", sc.ID,
		"project_id", sc.ProjectID,
		"kind", sc.Kind,
		"repo", sc.RepoFullName,
		"branch", sc.Branch,
	)
	return sc, nil
}

// Get returns a scan record.
func (s *ScanService) Get(ctx context.Context, id shared.ID) (*scan.Scan, error) {
	return s.scans.GetByID(ctx, id)
}
