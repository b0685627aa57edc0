// Package triage drives the agentic finding-triage loop: a bounded
// conversation with a language model that alternates between reasoning and
// sandboxed tool calls against the scan workspace, ending in a structured
// finding list.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/internal/infra/llm"
	"github.com/repohawk/scanner/internal/metrics"
	"github.com/repohawk/scanner/pkg/cvss"
	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

// ErrExhausted means the loop ran out of iterations or correction attempts
// without producing parseable output. Callers degrade to the raw mapping.
var ErrExhausted = errors.New("triage loop exhausted without structured output")

const (
	defaultMaxIterations = 25
	maxToolResultBytes   = 8 << 10
	maxTranscriptBytes   = 256 << 10
	triageTemperature    = 0.1
	triageMaxTokens      = 4000
)

// Input is everything the loop needs for one scan.
type Input struct {
	ScanID    shared.ID
	ProjectID shared.ID
	RepoPath  string

	// RawFindings is the merged analyzer and dependency output.
	RawFindings []finding.Finding
}

// Result is the triaged finding set.
type Result struct {
	Findings   []finding.Finding
	Iterations int
}

// Engine runs the triage loop. It is stateless across scans; the provider is
// per-user and supplied by the caller.
type Engine struct {
	cfg    *config.TriageConfig
	logger *logger.Logger
}

// NewEngine creates a triage engine.
func NewEngine(cfg *config.TriageConfig, log *logger.Logger) *Engine {
	return &Engine{cfg: cfg, logger: log.With("component", "triage")}
}

// Triage runs the agent loop to completion. Model transport errors and
// iteration exhaustion are returned to the caller, which falls back to raw
// mapping; they never fail a scan.
func (e *Engine) Triage(ctx context.Context, provider llm.Provider, input Input) (*Result, error) {
	maxIterations := e.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	tools, err := newToolbox(input.RepoPath, e.logger)
	if err != nil {
		return nil, err
	}

	log := e.logger.With("scan_id", input.ScanID, "provider", provider.Name())
	start := time.Now()

	conv := []llm.Message{
		{Role: llm.RoleUser, Content: buildContext(input.RepoPath, input.RawFindings)},
	}
	defs := toolDefinitions()
	corrected := false

	for iter := 1; iter <= maxIterations; iter++ {
		resp, err := provider.Chat(ctx, llm.ChatRequest{
			System:      systemPrompt,
			Messages:    conv,
			Tools:       defs,
			MaxTokens:   triageMaxTokens,
			Temperature: triageTemperature,
		})
		if err != nil {
			return nil, fmt.Errorf("triage model call failed: %w", err)
		}

		conv = append(conv, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if resp.StopReason == "tool_use" && len(resp.ToolCalls) > 0 {
			results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
			for _, call := range resp.ToolCalls {
				res := tools.dispatch(ctx, call)
				res.Content = capToolResult(res.Content)
				results = append(results, res)
			}
			conv = append(conv, llm.Message{Role: llm.RoleUser, ToolResults: results})
			conv = boundTranscript(conv)
			continue
		}

		findings, parseErr := parseModelFindings(resp.Content)
		if parseErr == nil {
			metrics.TriageIterations.Observe(float64(iter))
			log.Info("triage completed",
				"iterations", iter,
				"findings", len(findings),
				"duration", time.Since(start),
			)
			return &Result{Findings: e.normalize(input, findings), Iterations: iter}, nil
		}

		if !corrected {
			corrected = true
			log.Debug("model emitted prose, sending corrective instruction", "iteration", iter)
			conv = append(conv, llm.Message{Role: llm.RoleUser, Content: correctiveInstruction})
			continue
		}
		break
	}

	// Last resort: one call in strict structured-output mode, no tools. The
	// transcript can already end on a user turn (tool results at the
	// iteration cap, or the corrective retry); roles must keep alternating,
	// so the instruction is folded into that turn instead of appended.
	if last := &conv[len(conv)-1]; last.Role == llm.RoleUser {
		if last.Content != "" {
			last.Content += "\n\n"
		}
		last.Content += correctiveInstruction
	} else {
		conv = append(conv, llm.Message{Role: llm.RoleUser, Content: correctiveInstruction})
	}
	resp, err := provider.Chat(ctx, llm.ChatRequest{
		System:      systemPrompt,
		Messages:    conv,
		MaxTokens:   triageMaxTokens,
		Temperature: triageTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("triage model call failed: %w", err)
	}
	findings, parseErr := parseModelFindings(resp.Content)
	if parseErr != nil {
		log.Warn("triage produced no parseable output", "error", parseErr)
		return nil, ErrExhausted
	}

	metrics.TriageIterations.Observe(float64(maxIterations))
	return &Result{Findings: e.normalize(input, findings), Iterations: maxIterations}, nil
}

// modelFinding is the JSON shape the system prompt demands.
type modelFinding struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Type        string   `json:"type"`
	FilePath    string   `json:"file_path"`
	StartLine   int      `json:"start_line"`
	EndLine     int      `json:"end_line"`
	CWEID       string   `json:"cwe_id"`
	CVEID       string   `json:"cve_id"`
	CVSSScore   *float64 `json:"cvss_score"`
	CVSSVector  string   `json:"cvss_vector"`
	Confidence  *float64 `json:"confidence"`
	Tool        string   `json:"tool"`
	RuleID      string   `json:"rule_id"`
}

// parseModelFindings extracts the finding array from model output, tolerating
// markdown fences and a {"findings": [...]} wrapper that JSON mode sometimes
// produces.
func parseModelFindings(content string) ([]modelFinding, error) {
	s := strings.TrimSpace(content)
	if s == "" {
		return nil, fmt.Errorf("empty response")
	}

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	if strings.HasPrefix(s, "{") {
		var wrapper struct {
			Findings []modelFinding `json:"findings"`
		}
		if err := json.Unmarshal([]byte(s), &wrapper); err == nil {
			return wrapper.Findings, nil
		}
	}

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var findings []modelFinding
	if err := json.Unmarshal([]byte(s[start:end+1]), &findings); err != nil {
		return nil, fmt.Errorf("malformed finding array: %v", err)
	}
	return findings, nil
}

// normalize maps model output onto domain findings. The numeric CVSS score is
// authoritative for severity regardless of the label the model assigned; a
// vector without a score is scored mechanically.
func (e *Engine) normalize(input Input, raw []modelFinding) []finding.Finding {
	out := make([]finding.Finding, 0, len(raw))
	for _, mf := range raw {
		if mf.Title == "" {
			continue
		}

		f := finding.Finding{
			ID:          shared.NewID(),
			ScanID:      input.ScanID,
			ProjectID:   input.ProjectID,
			Severity:    finding.Severity(strings.ToLower(mf.Severity)),
			Type:        finding.Type(strings.ToLower(mf.Type)),
			Title:       mf.Title,
			Description: mf.Description,
			FilePath:    mf.FilePath,
			StartLine:   mf.StartLine,
			EndLine:     mf.EndLine,
			CWEID:       mf.CWEID,
			CVEID:       mf.CVEID,
			CVSSScore:   mf.CVSSScore,
			CVSSVector:  mf.CVSSVector,
			Confidence:  mf.Confidence,
			Tool:        mf.Tool,
			RuleID:      mf.RuleID,
			CreatedAt:   time.Now().UTC(),
		}
		if f.Tool == "" {
			f.Tool = "triage"
		}
		if !f.Type.IsValid() {
			f.Type = finding.TypeSAST
		}
		if f.CVSSScore == nil && f.CVSSVector != "" {
			if score, err := cvss.ScoreFromVector(f.CVSSVector); err == nil {
				f.CVSSScore = &score
			} else {
				e.logger.Debug("model supplied unparseable cvss vector", "vector", f.CVSSVector)
				f.CVSSVector = ""
			}
		}
		f.Normalize()
		out = append(out, f)
	}
	return out
}

func capToolResult(s string) string {
	if len(s) <= maxToolResultBytes {
		return s
	}
	return s[:maxToolResultBytes] + "\n... (output truncated)"
}

// boundTranscript keeps the conversation under the byte budget by eliding the
// oldest tool results first. The initial context message and the most recent
// turns always survive.
func boundTranscript(conv []llm.Message) []llm.Message {
	total := 0
	for _, m := range conv {
		total += len(m.Content)
		for _, tr := range m.ToolResults {
			total += len(tr.Content)
		}
	}
	if total <= maxTranscriptBytes {
		return conv
	}

	for i := 1; i < len(conv)-2 && total > maxTranscriptBytes; i++ {
		for j := range conv[i].ToolResults {
			tr := &conv[i].ToolResults[j]
			if tr.Content == "" || tr.Content == elidedToolResult {
				continue
			}
			total -= len(tr.Content) - len(elidedToolResult)
			tr.Content = elidedToolResult
			if total <= maxTranscriptBytes {
				break
			}
		}
	}
	return conv
}

const elidedToolResult = "(result elided to fit the context window; call the tool again if needed)"
