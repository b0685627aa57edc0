package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/internal/metrics"
	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/logger"
)

// SemgrepRunner runs semgrep with the discovered rule configs, or
// `--config auto` when no local rules exist.
type SemgrepRunner struct {
	cfg    *config.ScannerConfig
	logger *logger.Logger
}

var _ Runner = (*SemgrepRunner)(nil)

// NewSemgrepRunner creates a semgrep runner.
func NewSemgrepRunner(cfg *config.ScannerConfig, log *logger.Logger) *SemgrepRunner {
	return &SemgrepRunner{cfg: cfg, logger: log}
}

// Name implements Runner.
func (r *SemgrepRunner) Name() string { return "semgrep" }

// semgrepOutput is the subset of semgrep's JSON report we consume.
type semgrepOutput struct {
	Results []semgrepResult `json:"results"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type semgrepResult struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
	} `json:"start"`
	End struct {
		Line int `json:"line"`
	} `json:"end"`
	Extra struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Metadata struct {
			CWE        json.RawMessage `json:"cwe"`
			Confidence string          `json:"confidence"`
		} `json:"metadata"`
	} `json:"extra"`
}

// Run implements Runner.
func (r *SemgrepRunner) Run(ctx context.Context, repoPath string) ([]finding.Finding, error) {
	args := []string{"scan", "--json", "--quiet"}
	configs := discoverRules(r.cfg.RulesDir, "semgrep", r.logger)
	if len(configs) == 0 {
		args = append(args, "--config", "auto")
	} else {
		for _, c := range configs {
			args = append(args, "--config", c)
		}
	}
	args = append(args, ".")

	start := time.Now()
	out, err := runTool(ctx, r.cfg, repoPath, r.cfg.SemgrepBin, args...)
	metrics.AnalyzerDuration.WithLabelValues("semgrep").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalyzerRunsTotal.WithLabelValues("semgrep", "error").Inc()
		return nil, err
	}

	var report semgrepOutput
	if err := json.Unmarshal(out, &report); err != nil {
		metrics.AnalyzerRunsTotal.WithLabelValues("semgrep", "error").Inc()
		return nil, fmt.Errorf("semgrep produced invalid json: %w", err)
	}

	for _, e := range report.Errors {
		r.logger.Warn("semgrep reported a scan error", "message", e.Message)
	}

	findings := make([]finding.Finding, 0, len(report.Results))
	for _, res := range report.Results {
		findings = append(findings, mapSemgrepResult(res))
	}

	metrics.AnalyzerRunsTotal.WithLabelValues("semgrep", "ok").Inc()
	return findings, nil
}

func mapSemgrepResult(res semgrepResult) finding.Finding {
	f := finding.Finding{
		Severity:    mapToolSeverity(res.Extra.Severity),
		Type:        classifyRule(res.CheckID),
		Title:       ruleTitle(res.CheckID),
		Description: res.Extra.Message,
		FilePath:    res.Path,
		StartLine:   res.Start.Line,
		EndLine:     res.End.Line,
		CWEID:       firstCWE(res.Extra.Metadata.CWE),
		Tool:        "semgrep",
		RuleID:      res.CheckID,
	}
	if c := mapConfidence(res.Extra.Metadata.Confidence); c != nil {
		f.Confidence = c
	}
	return f
}

// firstCWE extracts the first CWE identifier. Semgrep metadata carries it
// as either a string or a list of strings.
func firstCWE(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return normalizeCWE(single)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return normalizeCWE(list[0])
	}
	return ""
}

// normalizeCWE reduces "CWE-89: SQL Injection" style values to "CWE-89".
func normalizeCWE(s string) string {
	if i := strings.Index(s, ":"); i > 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ruleTitle turns a dotted semgrep rule id into a readable title.
func ruleTitle(checkID string) string {
	parts := strings.Split(checkID, ".")
	last := parts[len(parts)-1]
	return strings.ReplaceAll(last, "-", " ")
}

func classifyRule(checkID string) finding.Type {
	if strings.Contains(checkID, "secret") || strings.Contains(checkID, "hardcoded-credential") {
		return finding.TypeSecret
	}
	return finding.TypeSAST
}

func mapConfidence(s string) *float64 {
	var v float64
	switch strings.ToUpper(s) {
	case "HIGH":
		v = 0.9
	case "MEDIUM":
		v = 0.6
	case "LOW":
		v = 0.3
	default:
		return nil
	}
	return &v
}
