// Package analyzers runs static analysis tools against a repository
// checkout and maps their native output onto findings. Tool failures are
// soft: a broken or missing analyzer yields zero findings, never a failed
// scan.
package analyzers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/pkg/domain/finding"
)

// Runner executes one analysis tool against a checkout.
type Runner interface {
	// Name identifies the tool in findings and logs.
	Name() string

	// Run executes the tool and returns mapped findings. Errors are
	// advisory: the caller logs them and proceeds with what it has.
	Run(ctx context.Context, repoPath string) ([]finding.Finding, error)
}

// errOutputLimit aborts a subprocess whose stdout exceeds the configured cap.
var errOutputLimit = errors.New("analyzers: tool output limit exceeded")

// limitedBuffer collects subprocess output up to a byte cap. Exceeding the
// cap fails the write, which kills the pipe and surfaces as a run error.
type limitedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.max {
		return 0, errOutputLimit
	}
	return b.buf.Write(p)
}

// runTool execs an analyzer binary with a timeout and bounded output.
// Nonzero exit is not an error by itself: several tools exit nonzero when
// they find issues, so callers decide based on whether stdout parses.
func runTool(ctx context.Context, cfg *config.ScannerConfig, dir, bin string, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.ToolTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, bin, args...)
	cmd.Dir = dir

	stdout := &limitedBuffer{max: cfg.MaxOutputBytes}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cctx.Err() != nil {
		return nil, fmt.Errorf("%s timed out after %s", bin, cfg.ToolTimeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stdout.buf.Len() > 0 {
			// Tool ran and produced output; the exit code is its verdict,
			// not a failure.
			return stdout.buf.Bytes(), nil
		}
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", bin, err, truncate(stderr.String(), 512))
	}

	return stdout.buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// mapToolSeverity converts the ERROR/WARNING/INFO scale shared by semgrep
// and ast-grep. These severities only matter on the fallback path; agentic
// triage re-derives severity from CVSS.
func mapToolSeverity(s string) finding.Severity {
	switch s {
	case "ERROR", "error":
		return finding.SeverityHigh
	case "WARNING", "warning":
		return finding.SeverityMedium
	default:
		return finding.SeverityLow
	}
}
