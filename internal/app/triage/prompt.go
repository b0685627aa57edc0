package triage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/repohawk/scanner/pkg/domain/finding"
)

const (
	treeMaxDepth     = 4
	treeMaxEntries   = 400
	snippetMaxLines  = 200
	snippetMaxFiles  = 20
	findingsMaxLines = 100
)

const systemPrompt = `You are a senior application security engineer reviewing a source repository.

You receive raw output from static analysis and dependency scanning. Your job is to triage it: confirm true positives, discard false positives, and look for issues the mechanical tools cannot see, such as logic flaws, authorization bypasses, and hardcoded secrets.

You may call the provided tools to read files, list directories, and search the code. Investigate before you conclude; verify that a flagged line is actually reachable and exploitable in context.

Rules:
- Never report issues in test files, test fixtures, or example code.
- Never report stylistic or purely informational nits.
- A vulnerability behind authentication must not be rated as if it were pre-authentication.
- Prefer an empty report over a noisy one.
- Assign a CVSS 3.1 vector and base score to every finding where applicable.

When your investigation is complete, respond with ONLY a JSON array of findings (an empty array [] is a valid and often correct answer). No prose before or after. Each finding:
{
  "title": "short description",
  "description": "what the issue is, why it is exploitable, and how to fix it",
  "severity": "critical|high|medium|low|info",
  "type": "sast|secret|dependency|config|logic",
  "file_path": "path/relative/to/repo",
  "start_line": 1,
  "end_line": 1,
  "cwe_id": "CWE-89",
  "cve_id": "",
  "cvss_score": 9.8,
  "cvss_vector": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H",
  "confidence": 0.9,
  "tool": "originating tool, or empty for issues you found yourself",
  "rule_id": "originating rule id, if any"
}`

const correctiveInstruction = `Your previous response was not a JSON array. Respond with ONLY the JSON array of findings now. An empty array [] is acceptable. No explanation, no markdown fences.`

// buildContext assembles the initial user message: repository tree, the raw
// tool findings, and snippets of every file a raw finding points at.
func buildContext(repoPath string, raw []finding.Finding) string {
	var b strings.Builder

	b.WriteString("# Repository structure\n\n")
	b.WriteString(buildTree(repoPath))

	b.WriteString("\n# Raw scanner findings\n\n")
	if len(raw) == 0 {
		b.WriteString("The scanners reported no findings. Review the repository for issues they cannot detect.\n")
	} else {
		b.WriteString(formatRawFindings(raw))
	}

	snippets := buildSnippets(repoPath, raw)
	if snippets != "" {
		b.WriteString("\n# Referenced source files\n\n")
		b.WriteString(snippets)
	}

	b.WriteString("\nTriage the findings above. Use the tools to investigate, then emit the final JSON array.\n")
	return b.String()
}

func buildTree(root string) string {
	var b strings.Builder
	entries := 0

	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > treeMaxDepth || entries >= treeMaxEntries {
			return
		}
		children, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range children {
			name := e.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			if _, skip := skippedTreeDirs[name]; skip && e.IsDir() {
				continue
			}
			if entries >= treeMaxEntries {
				b.WriteString(strings.Repeat("  ", depth) + "...\n")
				return
			}
			entries++
			indent := strings.Repeat("  ", depth)
			if e.IsDir() {
				b.WriteString(indent + name + "/\n")
				walk(filepath.Join(dir, name), depth+1)
			} else {
				b.WriteString(indent + name + "\n")
			}
		}
	}
	walk(root, 0)

	if b.Len() == 0 {
		return "(empty repository)\n"
	}
	return b.String()
}

func formatRawFindings(raw []finding.Finding) string {
	var b strings.Builder
	for i, f := range raw {
		if i >= findingsMaxLines {
			fmt.Fprintf(&b, "... and %d more findings\n", len(raw)-i)
			break
		}
		fmt.Fprintf(&b, "%d. [%s", i+1, f.Tool)
		if f.RuleID != "" {
			fmt.Fprintf(&b, "/%s", f.RuleID)
		}
		fmt.Fprintf(&b, "] %s: %s", f.Severity, f.Title)
		if f.FilePath != "" {
			fmt.Fprintf(&b, " (%s:%d)", f.FilePath, f.StartLine)
		}
		if f.CVEID != "" {
			fmt.Fprintf(&b, " [%s]", f.CVEID)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// buildSnippets returns the opening lines of each file the raw findings
// reference, deduplicated and bounded to keep the prompt within budget.
func buildSnippets(root string, raw []finding.Finding) string {
	seen := make(map[string]struct{})
	var paths []string
	for _, f := range raw {
		if f.FilePath == "" {
			continue
		}
		if _, ok := seen[f.FilePath]; ok {
			continue
		}
		seen[f.FilePath] = struct{}{}
		paths = append(paths, f.FilePath)
	}
	sort.Strings(paths)
	if len(paths) > snippetMaxFiles {
		paths = paths[:snippetMaxFiles]
	}

	var b strings.Builder
	for _, rel := range paths {
		abs := filepath.Join(root, filepath.Clean("/"+rel))
		f, err := os.Open(abs)
		if err != nil {
			continue
		}

		fmt.Fprintf(&b, "## %s\n```\n", rel)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lines := 0
		for scanner.Scan() && lines < snippetMaxLines {
			lines++
			fmt.Fprintf(&b, "%d: %s\n", lines, scanner.Text())
		}
		if scanner.Scan() {
			b.WriteString("... (truncated)\n")
		}
		b.WriteString("```\n\n")
		f.Close()
	}
	return b.String()
}
