// Package scanpipeline orchestrates one scan from claim to terminal state:
// acquire the repository, fan out the analyzers and the dependency scan,
// triage, suppress, persist.
package scanpipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/repohawk/scanner/internal/app/triage"
	"github.com/repohawk/scanner/internal/infra/analyzers"
	"github.com/repohawk/scanner/internal/infra/gitrepo"
	"github.com/repohawk/scanner/internal/infra/llm"
	"github.com/repohawk/scanner/internal/metrics"
	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/domain/suppression"
	"github.com/repohawk/scanner/pkg/logger"
)

// WorkspaceAcquirer materializes the requested ref on local disk.
type WorkspaceAcquirer interface {
	Acquire(ctx context.Context, req gitrepo.Request) (*gitrepo.Workspace, error)
}

// DependencyScanner resolves manifest dependencies to known vulnerabilities.
type DependencyScanner interface {
	Scan(ctx context.Context, repoPath string) ([]finding.Finding, error)
}

// ProviderFactory resolves the scan owner's model provider.
type ProviderFactory interface {
	ForUser(ctx context.Context, userID shared.ID) (llm.Provider, error)
}

// Triager runs the agentic triage loop.
type Triager interface {
	Triage(ctx context.Context, provider llm.Provider, input triage.Input) (*triage.Result, error)
}

// Service executes scan jobs. One Execute call is one full pipeline run; the
// worker that claims a job is the sole writer for its scan record until it
// reaches a terminal state.
type Service struct {
	scans       scan.Repository
	findings    finding.Repository
	suppression *suppression.Service
	acquirer    WorkspaceAcquirer
	runners     []analyzers.Runner
	deps        DependencyScanner
	providers   ProviderFactory
	engine      Triager
	logger      *logger.Logger
}

// NewService creates a scan pipeline service.
func NewService(
	scans scan.Repository,
	findings finding.Repository,
	supp *suppression.Service,
	acquirer WorkspaceAcquirer,
	runners []analyzers.Runner,
	deps DependencyScanner,
	providers ProviderFactory,
	engine Triager,
	log *logger.Logger,
) *Service {
	return &Service{
		scans:       scans,
		findings:    findings,
		suppression: supp,
		acquirer:    acquirer,
		runners:     runners,
		deps:        deps,
		providers:   providers,
		engine:      engine,
		logger:      log.With("component", "scanpipeline"),
	}
}

// Execute runs the scan to a terminal state. A returned error means the queue
// should retry (or skip retrying, when permanent); a nil return means the job
// is finished, including the discard cases.
func (s *Service) Execute(ctx context.Context, scanID shared.ID) error {
	log := s.logger.With("scan_id", scanID)

	sc, err := s.scans.GetByID(ctx, scanID)
	if err != nil {
		if shared.IsNotFound(err) {
			log.Info("scan record gone before execution, discarding job")
			return nil
		}
		return fmt.Errorf("failed to load scan: %w", err)
	}
	if sc.Status.IsTerminal() {
		log.Info("scan already finished, discarding redelivered job", "status", sc.Status)
		return nil
	}

	// A redelivered job after a worker crash arrives in state running; the
	// record is ours again, keep going.
	if sc.Status == scan.StatusQueued {
		if err := sc.Start(); err != nil {
			return err
		}
		if err := s.scans.UpdateStatus(ctx, sc.ID, scan.StatusRunning, nil, ""); err != nil {
			return fmt.Errorf("failed to mark scan running: %w", err)
		}
	}

	metrics.ScansInProgress.Inc()
	defer metrics.ScansInProgress.Dec()
	start := time.Now()

	err = s.run(ctx, sc, log)
	metrics.ScanDuration.WithLabelValues(string(sc.Kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		if IsPermanent(err) {
			// No retry will fix this; record the terminal failure now.
			s.fail(ctx, sc, err.Error(), log)
		}
		return err
	}
	return nil
}

// Fail marks the scan failed with the given message. The worker calls this
// when queue retries are exhausted; failing from queued is allowed because
// retries can run out before a handler ever reaches running.
func (s *Service) Fail(ctx context.Context, scanID shared.ID, msg string) error {
	sc, err := s.scans.GetByID(ctx, scanID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil
		}
		return err
	}
	if sc.Status.IsTerminal() {
		return nil
	}
	s.fail(ctx, sc, msg, s.logger.With("scan_id", scanID))
	return nil
}

func (s *Service) run(ctx context.Context, sc *scan.Scan, log *logger.Logger) error {
	ws, err := s.acquirer.Acquire(ctx, gitrepo.Request{
		RepoFullName:   sc.RepoFullName,
		Branch:         sc.Branch,
		CommitSHA:      sc.CommitSHA,
		InstallationID: sc.InstallationID,
		UserID:         sc.UserID,
	})
	if err != nil {
		if errors.Is(err, gitrepo.ErrNoCredential) || errors.Is(err, gitrepo.ErrRefNotFound) {
			return Permanent(err)
		}
		return fmt.Errorf("failed to acquire repository: %w", err)
	}
	// The working copy goes away no matter how this scan ends.
	defer ws.Release()

	log.Info("workspace acquired", "commit_sha", ws.CommitSHA)

	raw := s.collect(ctx, ws.Path, log)

	input := triage.Input{
		ScanID:      sc.ID,
		ProjectID:   sc.ProjectID,
		RepoPath:    ws.Path,
		RawFindings: raw,
	}
	result, mode, degraded := s.triage(ctx, sc, input, log)

	suppressed, err := s.suppression.Fingerprints(ctx, sc.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load ignored rules: %w", err)
	}
	kept, ignored := suppression.Filter(result.Findings, suppressed)
	if ignored > 0 {
		metrics.FindingsSuppressed.Add(float64(ignored))
	}

	summary := scan.Summary{
		IgnoredFindings: ignored,
		TriageMode:      mode,
		Degraded:        degraded,
	}
	for i := range kept {
		summary.Add(kept[i].Severity)
		metrics.FindingsTotal.WithLabelValues(string(kept[i].Severity), string(kept[i].Type)).Inc()
	}

	// The owning project may have been deleted while we were scanning. If
	// the record is gone, all work product is discarded without error.
	exists, err := s.scans.Exists(ctx, sc.ID)
	if err != nil {
		return fmt.Errorf("failed to re-check scan existence: %w", err)
	}
	if !exists {
		log.Info("scan record deleted mid-flight, discarding results")
		return nil
	}

	if len(kept) > 0 {
		if err := s.findings.CreateBatch(ctx, kept); err != nil {
			return fmt.Errorf("failed to persist findings: %w", err)
		}
	}

	if err := sc.Complete(summary); err != nil {
		return err
	}
	if err := s.scans.UpdateStatus(ctx, sc.ID, scan.StatusCompleted, sc.Summary, ""); err != nil {
		return fmt.Errorf("failed to mark scan completed: %w", err)
	}

	metrics.ScansTotal.WithLabelValues(string(sc.Kind), string(scan.StatusCompleted)).Inc()
	log.Info("scan completed",
		"findings", summary.TotalFindings,
		"ignored", ignored,
		"triage_mode", mode,
		"degraded", degraded,
	)
	return nil
}

// collect fans out the analyzers and the dependency scan concurrently and
// merges their output. Every failure here is tool-local and soft: a broken
// analyzer contributes zero findings, never a scan failure.
func (s *Service) collect(ctx context.Context, repoPath string, log *logger.Logger) []finding.Finding {
	results := make([][]finding.Finding, len(s.runners)+1)

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range s.runners {
		i, r := i, r
		g.Go(func() error {
			findings, err := r.Run(gctx, repoPath)
			if err != nil {
				log.Warn("analyzer failed, continuing without its results",
					"tool", r.Name(), "error", err)
				return nil
			}
			results[i] = findings
			return nil
		})
	}
	g.Go(func() error {
		findings, err := s.deps.Scan(gctx, repoPath)
		if err != nil {
			log.Warn("dependency scan failed, continuing without its results", "error", err)
			return nil
		}
		results[len(s.runners)] = findings
		return nil
	})
	// Goroutines swallow their own errors; Wait is only a join point.
	_ = g.Wait()

	var merged []finding.Finding
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged
}

// triage runs the agent loop when the owner has a configured provider and
// falls back to the raw mapping otherwise. Loop failures degrade, they never
// propagate: partial results beat no results.
func (s *Service) triage(ctx context.Context, sc *scan.Scan, input triage.Input, log *logger.Logger) (*triage.Result, scan.TriageMode, bool) {
	provider, err := s.providers.ForUser(ctx, sc.UserID)
	if err != nil {
		if !errors.Is(err, llm.ErrProviderNotConfigured) {
			log.Warn("model provider unavailable, falling back to raw mapping", "error", err)
		}
		metrics.TriageRunsTotal.WithLabelValues("none", string(scan.TriageModeFallback)).Inc()
		return triage.Fallback(input), scan.TriageModeFallback, false
	}

	result, err := s.engine.Triage(ctx, provider, input)
	if err != nil {
		log.Warn("triage loop degraded to raw mapping", "provider", provider.Name(), "error", err)
		metrics.TriageRunsTotal.WithLabelValues(provider.Name(), string(scan.TriageModeFallback)).Inc()
		return triage.Fallback(input), scan.TriageModeFallback, true
	}

	metrics.TriageRunsTotal.WithLabelValues(provider.Name(), string(scan.TriageModeAgentic)).Inc()
	return result, scan.TriageModeAgentic, false
}

func (s *Service) fail(ctx context.Context, sc *scan.Scan, msg string, log *logger.Logger) {
	if err := sc.Fail(msg); err != nil {
		log.Error("invalid failure transition", "error", err)
		return
	}
	if err := s.scans.UpdateStatus(ctx, sc.ID, scan.StatusFailed, nil, msg); err != nil {
		if !shared.IsNotFound(err) {
			log.Error("failed to record scan failure", "error", err)
		}
		return
	}
	metrics.ScansTotal.WithLabelValues(string(sc.Kind), string(scan.StatusFailed)).Inc()
	log.Info("scan failed", "error", msg)
}
