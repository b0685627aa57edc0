package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/internal/metrics"
	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/logger"
)

// AstGrepRunner runs ast-grep scan with the discovered rule configs.
// Unlike semgrep there is no hosted registry fallback: without local rules
// ast-grep relies on an sgconfig.yml in the repository itself, and a repo
// without one simply yields nothing.
type AstGrepRunner struct {
	cfg    *config.ScannerConfig
	logger *logger.Logger
}

var _ Runner = (*AstGrepRunner)(nil)

// NewAstGrepRunner creates an ast-grep runner.
func NewAstGrepRunner(cfg *config.ScannerConfig, log *logger.Logger) *AstGrepRunner {
	return &AstGrepRunner{cfg: cfg, logger: log}
}

// Name implements Runner.
func (r *AstGrepRunner) Name() string { return "ast-grep" }

// astGrepMatch is one entry of `ast-grep scan --json`. Lines are 0-based in
// the tool's output.
type astGrepMatch struct {
	RuleID   string `json:"ruleId"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file"`
	Range    struct {
		Start struct {
			Line int `json:"line"`
		} `json:"start"`
		End struct {
			Line int `json:"line"`
		} `json:"end"`
	} `json:"range"`
}

// Run implements Runner.
func (r *AstGrepRunner) Run(ctx context.Context, repoPath string) ([]finding.Finding, error) {
	args := []string{"scan", "--json=compact"}
	for _, c := range discoverRules(r.cfg.RulesDir, "ast-grep", r.logger) {
		args = append(args, "--rule-file", c)
	}
	args = append(args, ".")

	start := time.Now()
	out, err := runTool(ctx, r.cfg, repoPath, r.cfg.AstGrepBin, args...)
	metrics.AnalyzerDuration.WithLabelValues("ast-grep").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalyzerRunsTotal.WithLabelValues("ast-grep", "error").Inc()
		return nil, err
	}

	var matches []astGrepMatch
	if err := json.Unmarshal(out, &matches); err != nil {
		metrics.AnalyzerRunsTotal.WithLabelValues("ast-grep", "error").Inc()
		return nil, fmt.Errorf("ast-grep produced invalid json: %w", err)
	}

	findings := make([]finding.Finding, 0, len(matches))
	for _, m := range matches {
		findings = append(findings, mapAstGrepMatch(m))
	}

	metrics.AnalyzerRunsTotal.WithLabelValues("ast-grep", "ok").Inc()
	return findings, nil
}

func mapAstGrepMatch(m astGrepMatch) finding.Finding {
	title := m.Message
	if title == "" {
		title = m.RuleID
	}
	return finding.Finding{
		Severity:    mapToolSeverity(m.Severity),
		Type:        classifyRule(m.RuleID),
		Title:       title,
		Description: m.Message,
		FilePath:    m.File,
		StartLine:   m.Range.Start.Line + 1,
		EndLine:     m.Range.End.Line + 1,
		Tool:        "ast-grep",
		RuleID:      m.RuleID,
	}
}
