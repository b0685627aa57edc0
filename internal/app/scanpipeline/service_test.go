package scanpipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repohawk/scanner/internal/app/triage"
	"github.com/repohawk/scanner/internal/infra/analyzers"
	"github.com/repohawk/scanner/internal/infra/gitrepo"
	"github.com/repohawk/scanner/internal/infra/llm"
	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/domain/suppression"
	"github.com/repohawk/scanner/pkg/logger"
)

// fakeScanRepo is an in-memory scan.Repository with switches for the
// mid-flight deletion scenarios.
type fakeScanRepo struct {
	mu                sync.Mutex
	scans             map[shared.ID]*scan.Scan
	deleteOnCheck     bool // simulate project deletion between start and persist
	failCompletedOnce bool // fail the first completed write, as a dropped connection would
	statusWrites      []scan.Status
}

func newFakeScanRepo(scans ...*scan.Scan) *fakeScanRepo {
	r := &fakeScanRepo{scans: make(map[shared.ID]*scan.Scan)}
	for _, s := range scans {
		r.scans[s.ID] = s
	}
	return r
}

func (r *fakeScanRepo) Create(_ context.Context, s *scan.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[s.ID] = s
	return nil
}

func (r *fakeScanRepo) GetByID(_ context.Context, id shared.ID) (*scan.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r *fakeScanRepo) Exists(_ context.Context, id shared.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteOnCheck {
		delete(r.scans, id)
		return false, nil
	}
	_, ok := r.scans[id]
	return ok, nil
}

func (r *fakeScanRepo) UpdateStatus(_ context.Context, id shared.ID, status scan.Status, summary *scan.Summary, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status == scan.StatusCompleted && r.failCompletedOnce {
		r.failCompletedOnce = false
		return errors.New("write tcp: connection reset by peer")
	}
	s, ok := r.scans[id]
	if !ok {
		return shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}
	s.Status = status
	s.Summary = summary
	s.Error = errMsg
	r.statusWrites = append(r.statusWrites, status)
	return nil
}

func (r *fakeScanRepo) ListStuck(context.Context, time.Time) ([]*scan.Scan, error) {
	return nil, nil
}

type fakeFindingRepo struct {
	mu      sync.Mutex
	batches [][]finding.Finding
}

func (r *fakeFindingRepo) CreateBatch(_ context.Context, findings []finding.Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(findings) == 0 {
		return nil
	}
	// replace-per-scan, matching the repository contract
	kept := r.batches[:0:0]
	for _, b := range r.batches {
		if len(b) == 0 || b[0].ScanID != findings[0].ScanID {
			kept = append(kept, b)
		}
	}
	r.batches = append(kept, findings)
	return nil
}

func (r *fakeFindingRepo) ListByScan(context.Context, shared.ID) ([]finding.Finding, error) {
	return nil, nil
}

func (r *fakeFindingRepo) GetByID(context.Context, shared.ID) (*finding.Finding, error) {
	return nil, shared.ErrNotFound
}

func (r *fakeFindingRepo) persisted() []finding.Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []finding.Finding
	for _, b := range r.batches {
		all = append(all, b...)
	}
	return all
}

type fakeRuleRepo struct {
	fingerprints []string
}

func (r *fakeRuleRepo) Upsert(context.Context, *suppression.IgnoredRule) error { return nil }
func (r *fakeRuleRepo) Delete(context.Context, shared.ID, string) error        { return nil }

func (r *fakeRuleRepo) ListFingerprints(context.Context, shared.ID) ([]string, error) {
	return r.fingerprints, nil
}

type fakeAcquirer struct {
	err       error
	workspace *gitrepo.Workspace
	recreate  bool // re-create the directory, as a fresh clone would
}

func (a *fakeAcquirer) Acquire(context.Context, gitrepo.Request) (*gitrepo.Workspace, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.recreate {
		if err := os.MkdirAll(a.workspace.Path, 0o755); err != nil {
			return nil, err
		}
	}
	return a.workspace, nil
}

type fakeRunner struct {
	name     string
	findings []finding.Finding
	err      error
}

func (r *fakeRunner) Name() string { return r.name }

func (r *fakeRunner) Run(context.Context, string) ([]finding.Finding, error) {
	return r.findings, r.err
}

type fakeDeps struct {
	findings []finding.Finding
	err      error
}

func (d *fakeDeps) Scan(context.Context, string) ([]finding.Finding, error) {
	return d.findings, d.err
}

type fakeProviderFactory struct {
	provider llm.Provider
	err      error
}

func (f *fakeProviderFactory) ForUser(context.Context, shared.ID) (llm.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

type fakeTriager struct {
	result *triage.Result
	err    error
	input  triage.Input
}

func (t *fakeTriager) Triage(_ context.Context, _ llm.Provider, input triage.Input) (*triage.Result, error) {
	t.input = input
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

type nopProvider struct{}

func (nopProvider) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{}, nil
}
func (nopProvider) Name() string  { return "claude" }
func (nopProvider) Model() string { return "test" }

type fixture struct {
	svc      *Service
	scans    *fakeScanRepo
	findings *fakeFindingRepo
	rules    *fakeRuleRepo
	acquirer *fakeAcquirer
	triager  *fakeTriager
	factory  *fakeProviderFactory
	sc       *scan.Scan
	wsPath   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sc, err := scan.New(shared.NewID(), shared.NewID(), scan.KindInitial, "acme/api", "main")
	require.NoError(t, err)

	wsDir, err := os.MkdirTemp(t.TempDir(), "scan-*")
	require.NoError(t, err)

	f := &fixture{
		scans:    newFakeScanRepo(sc),
		findings: &fakeFindingRepo{},
		rules:    &fakeRuleRepo{},
		acquirer: &fakeAcquirer{workspace: &gitrepo.Workspace{Path: wsDir, CommitSHA: "abc1234"}},
		triager:  &fakeTriager{result: &triage.Result{}},
		factory:  &fakeProviderFactory{provider: nopProvider{}},
		sc:       sc,
		wsPath:   wsDir,
	}
	f.svc = NewService(
		f.scans,
		f.findings,
		suppression.NewService(f.rules),
		f.acquirer,
		[]analyzers.Runner{
			&fakeRunner{name: "semgrep", findings: []finding.Finding{
				{Title: "sqli", Tool: "semgrep", RuleID: "go.sqli", FilePath: "db.go", Severity: finding.SeverityHigh, Type: finding.TypeSAST},
			}},
			&fakeRunner{name: "ast-grep", err: errors.New("binary not found")},
		},
		&fakeDeps{findings: []finding.Finding{
			{Title: "vulnerable dep", Tool: "osv", CVEID: "CVE-2024-1111", Severity: finding.SeverityMedium, Type: finding.TypeDependency},
		}},
		f.factory,
		f.triager,
		logger.NewNop(),
	)
	return f
}

func TestExecuteCompletesWithAgenticTriage(t *testing.T) {
	f := newFixture(t)
	score := 9.8
	f.triager.result = &triage.Result{Findings: []finding.Finding{
		{
			ID: shared.NewID(), ScanID: f.sc.ID, ProjectID: f.sc.ProjectID,
			Title: "confirmed sqli", Tool: "semgrep", RuleID: "go.sqli",
			Severity: finding.SeverityCritical, Type: finding.TypeSAST, CVSSScore: &score,
		},
	}}

	require.NoError(t, f.svc.Execute(context.Background(), f.sc.ID))

	got, err := f.scans.GetByID(context.Background(), f.sc.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusCompleted, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 1, got.Summary.TotalFindings)
	assert.Equal(t, 1, got.Summary.Critical)
	assert.Equal(t, scan.TriageModeAgentic, got.Summary.TriageMode)
	assert.False(t, got.Summary.Degraded)

	assert.Len(t, f.findings.persisted(), 1)
	// queued -> running -> completed
	assert.Equal(t, []scan.Status{scan.StatusRunning, scan.StatusCompleted}, f.scans.statusWrites)

	// raw output from both healthy tools reached the triager
	assert.Len(t, f.triager.input.RawFindings, 2)
}

func TestExecuteRedeliveryDoesNotDuplicateFindings(t *testing.T) {
	f := newFixture(t)
	f.acquirer.recreate = true
	f.scans.failCompletedOnce = true
	score := 9.8
	f.triager.result = &triage.Result{Findings: []finding.Finding{
		{
			ID: shared.NewID(), ScanID: f.sc.ID, ProjectID: f.sc.ProjectID,
			Title: "confirmed sqli", Tool: "semgrep", RuleID: "go.sqli",
			Severity: finding.SeverityCritical, Type: finding.TypeSAST, CVSSScore: &score,
		},
	}}

	// first delivery: the batch commits, then the completed write fails
	err := f.svc.Execute(context.Background(), f.sc.ID)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
	require.Len(t, f.findings.persisted(), 1)

	// the queue redelivers; the scan is still running, so the pipeline
	// re-runs end to end and persists a second batch for the same scan
	require.NoError(t, f.svc.Execute(context.Background(), f.sc.ID))

	got, err := f.scans.GetByID(context.Background(), f.sc.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusCompleted, got.Status)

	all := f.findings.persisted()
	require.Len(t, all, 1)
	assert.Equal(t, "confirmed sqli", all[0].Title)
	seen := make(map[string]bool)
	for _, pf := range all {
		assert.False(t, seen[pf.Fingerprint()], "finding %q stored twice", pf.Title)
		seen[pf.Fingerprint()] = true
	}
}

func TestExecuteWorkspaceReleasedOnFailure(t *testing.T) {
	f := newFixture(t)
	f.triager.err = errors.New("model unreachable")
	f.factory.provider = nopProvider{}

	require.NoError(t, f.svc.Execute(context.Background(), f.sc.ID))

	_, err := os.Stat(f.wsPath)
	assert.True(t, os.IsNotExist(err), "workspace must be removed after the scan")
}

func TestExecuteNoCredentialIsPermanent(t *testing.T) {
	f := newFixture(t)
	f.acquirer.err = gitrepo.ErrNoCredential

	err := f.svc.Execute(context.Background(), f.sc.ID)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	got, _ := f.scans.GetByID(context.Background(), f.sc.ID)
	assert.Equal(t, scan.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "credential")
}

func TestExecuteTransientAcquireErrorRetries(t *testing.T) {
	f := newFixture(t)
	f.acquirer.err = errors.New("dial tcp: connection refused")

	err := f.svc.Execute(context.Background(), f.sc.ID)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	// not marked failed: the queue owns the retry
	got, _ := f.scans.GetByID(context.Background(), f.sc.ID)
	assert.Equal(t, scan.StatusRunning, got.Status)
}

func TestExecuteFallsBackWithoutProvider(t *testing.T) {
	f := newFixture(t)
	f.factory.provider = nil
	f.factory.err = llm.ErrProviderNotConfigured

	require.NoError(t, f.svc.Execute(context.Background(), f.sc.ID))

	got, _ := f.scans.GetByID(context.Background(), f.sc.ID)
	require.NotNil(t, got.Summary)
	assert.Equal(t, scan.TriageModeFallback, got.Summary.TriageMode)
	// missing credential is configuration, not degradation
	assert.False(t, got.Summary.Degraded)
	// raw findings from the healthy analyzer and the dep scan flow through
	assert.Equal(t, 2, got.Summary.TotalFindings)
}

func TestExecuteDegradesOnTriageFailure(t *testing.T) {
	f := newFixture(t)
	f.triager.err = triage.ErrExhausted

	require.NoError(t, f.svc.Execute(context.Background(), f.sc.ID))

	got, _ := f.scans.GetByID(context.Background(), f.sc.ID)
	assert.Equal(t, scan.StatusCompleted, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, scan.TriageModeFallback, got.Summary.TriageMode)
	assert.True(t, got.Summary.Degraded)
}

func TestExecuteSuppressionFilters(t *testing.T) {
	f := newFixture(t)
	suppressed := finding.Finding{
		Title: "sqli", Tool: "semgrep", RuleID: "go.sqli", FilePath: "db.go",
		Severity: finding.SeverityHigh, Type: finding.TypeSAST,
	}
	f.rules.fingerprints = []string{suppressed.Fingerprint()}
	f.factory.err = llm.ErrProviderNotConfigured

	require.NoError(t, f.svc.Execute(context.Background(), f.sc.ID))

	got, _ := f.scans.GetByID(context.Background(), f.sc.ID)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 1, got.Summary.TotalFindings)
	assert.Equal(t, 1, got.Summary.IgnoredFindings)
	for _, pf := range f.findings.persisted() {
		assert.NotEqual(t, "sqli", pf.Title)
	}
}

func TestExecuteDiscardsOnMidFlightDeletion(t *testing.T) {
	f := newFixture(t)
	f.scans.deleteOnCheck = true

	require.NoError(t, f.svc.Execute(context.Background(), f.sc.ID))

	// nothing persisted, no terminal write attempted after deletion
	assert.Empty(t, f.findings.persisted())
	assert.Equal(t, []scan.Status{scan.StatusRunning}, f.scans.statusWrites)
}

func TestExecuteDiscardsMissingAndTerminalScans(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown scan id", func(t *testing.T) {
		require.NoError(t, f.svc.Execute(context.Background(), shared.NewID()))
	})

	t.Run("already completed", func(t *testing.T) {
		require.NoError(t, f.sc.Start())
		require.NoError(t, f.sc.Complete(scan.Summary{}))
		require.NoError(t, f.scans.Create(context.Background(), f.sc))

		require.NoError(t, f.svc.Execute(context.Background(), f.sc.ID))
		assert.Empty(t, f.findings.persisted())
	})
}

func TestFailMarksScanFailed(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Fail(context.Background(), f.sc.ID, "retries exhausted: clone timeout"))

	got, _ := f.scans.GetByID(context.Background(), f.sc.ID)
	assert.Equal(t, scan.StatusFailed, got.Status)
	assert.Equal(t, "retries exhausted: clone timeout", got.Error)

	t.Run("idempotent on terminal scans", func(t *testing.T) {
		require.NoError(t, f.svc.Fail(context.Background(), f.sc.ID, "another error"))
		got, _ := f.scans.GetByID(context.Background(), f.sc.ID)
		assert.Equal(t, "retries exhausted: clone timeout", got.Error)
	})

	t.Run("missing scan is not an error", func(t *testing.T) {
		require.NoError(t, f.svc.Fail(context.Background(), shared.NewID(), "whatever"))
	})
}
