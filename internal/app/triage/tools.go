package triage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/repohawk/scanner/internal/infra/llm"
	"github.com/repohawk/scanner/internal/metrics"
	"github.com/repohawk/scanner/pkg/logger"
)

const (
	maxReadLines      = 200
	maxSearchMatches  = 50
	searchTimeout     = 10 * time.Second
	maxSearchFileSize = 1 << 20
)

// toolbox executes the model's tool calls against the scan workspace. Every
// path argument is resolved and checked against the repository root before
// any filesystem access; the repo contents are attacker-controlled, so a
// crafted ../ or absolute path must never reach outside the workspace.
type toolbox struct {
	root   string
	logger *logger.Logger
}

func newToolbox(repoPath string, log *logger.Logger) (*toolbox, error) {
	root, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo path: %w", err)
	}
	return &toolbox{root: root, logger: log}, nil
}

// toolDefinitions is the closed set of tools offered to the model.
func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a file from the repository. Returns line-numbered content. Large files are windowed; pass start_line to page through them.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Path relative to the repository root"},
					"start_line": {"type": "integer", "description": "First line to return (1-based, default 1)"},
					"end_line": {"type": "integer", "description": "Last line to return (default start_line+199)"}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        "list_directory",
			Description: "List the immediate children of a repository directory. Hidden files and dependency directories are omitted.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Directory path relative to the repository root, empty for the root"}
				}
			}`),
		},
		{
			Name:        "search_code",
			Description: "Regex search across the repository. Returns at most 50 matches as path:line:text.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern": {"type": "string", "description": "Regular expression to search for"},
					"file_glob": {"type": "string", "description": "Optional glob restricting which files are searched, e.g. *.go"}
				},
				"required": ["pattern"]
			}`),
		},
	}
}

// dispatch runs one tool call. Failures come back as error-flagged results,
// never as Go errors: the model can recover from a bad path or pattern, the
// loop cannot recover from an aborted turn.
func (t *toolbox) dispatch(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	var content string
	var err error

	switch call.Name {
	case "read_file":
		content, err = t.readFile(call.Arguments)
	case "list_directory":
		content, err = t.listDirectory(call.Arguments)
	case "search_code":
		content, err = t.searchCode(ctx, call.Arguments)
	default:
		err = fmt.Errorf("unknown tool %q; available tools: read_file, list_directory, search_code", call.Name)
	}

	if err != nil {
		metrics.TriageToolCallsTotal.WithLabelValues(call.Name, "error").Inc()
		t.logger.Debug("triage tool call failed", "tool", call.Name, "error", err)
		return llm.ToolResult{CallID: call.ID, Content: "error: " + err.Error(), IsError: true}
	}
	metrics.TriageToolCallsTotal.WithLabelValues(call.Name, "ok").Inc()
	return llm.ToolResult{CallID: call.ID, Content: content}
}

// resolve maps a model-supplied path into the workspace, rejecting anything
// that lands outside the root.
func (t *toolbox) resolve(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(t.root, path))
	if err != nil {
		return "", fmt.Errorf("invalid path %q", path)
	}
	if abs != t.root && !strings.HasPrefix(abs, t.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q is outside the repository", path)
	}

	// A symlink inside the repo can still point outside it.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path %q does not exist", path)
		}
		return "", fmt.Errorf("invalid path %q", path)
	}
	realRoot, err := filepath.EvalSymlinks(t.root)
	if err != nil {
		return "", fmt.Errorf("invalid path %q", path)
	}
	if real != realRoot && !strings.HasPrefix(real, realRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q is outside the repository", path)
	}
	return real, nil
}

type readFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (t *toolbox) readFile(raw json.RawMessage) (string, error) {
	var args readFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid read_file arguments: %v", err)
	}
	if args.Path == "" {
		return "", fmt.Errorf("read_file requires a path")
	}

	abs, err := t.resolve(args.Path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("path %q does not exist", args.Path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q is a directory, use list_directory", args.Path)
	}

	start := args.StartLine
	if start < 1 {
		start = 1
	}
	end := args.EndLine
	if end < start {
		end = start + maxReadLines - 1
	}
	if end-start+1 > maxReadLines {
		end = start + maxReadLines - 1
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("failed to open %q", args.Path)
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	truncated := false
	for scanner.Scan() {
		lineNo++
		if lineNo < start {
			continue
		}
		if lineNo > end {
			truncated = true
			break
		}
		fmt.Fprintf(&b, "%d: %s\n", lineNo, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read %q: %v", args.Path, err)
	}
	if lineNo == 0 || (start > lineNo && !truncated) {
		return fmt.Sprintf("(no content in line range %d-%d)", start, end), nil
	}
	if truncated {
		fmt.Fprintf(&b, "... (truncated, continue from line %d)\n", end+1)
	}
	return b.String(), nil
}

type listDirectoryArgs struct {
	Path string `json:"path"`
}

// skippedTreeDirs are dependency and build output directories that carry no
// signal for triage and would drown the transcript.
var skippedTreeDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	".venv":        {},
	"venv":         {},
	"dist":         {},
	"build":        {},
	"target":       {},
	"__pycache__":  {},
}

func (t *toolbox) listDirectory(raw json.RawMessage) (string, error) {
	var args listDirectoryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid list_directory arguments: %v", err)
	}

	abs, err := t.resolve(args.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("failed to list %q", args.Path)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, skip := skippedTreeDirs[name]; skip && e.IsDir() {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty)", nil
	}
	return strings.Join(names, "\n"), nil
}

type searchCodeArgs struct {
	Pattern  string `json:"pattern"`
	FileGlob string `json:"file_glob"`
}

func (t *toolbox) searchCode(ctx context.Context, raw json.RawMessage) (string, error) {
	var args searchCodeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid search_code arguments: %v", err)
	}
	if args.Pattern == "" {
		return "", fmt.Errorf("search_code requires a pattern")
	}

	matches, err := t.ripgrep(ctx, args)
	if err != nil {
		// rg missing or broken; fall back to a walk so the tool always works.
		t.logger.Debug("ripgrep unavailable, using regexp walk", "error", err)
		matches, err = t.regexpWalk(args)
		if err != nil {
			return "", err
		}
	}

	if len(matches) == 0 {
		return "(no matches)", nil
	}
	truncated := false
	if len(matches) > maxSearchMatches {
		matches = matches[:maxSearchMatches]
		truncated = true
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (more matches, only the first %d shown)", maxSearchMatches)
	}
	return out, nil
}

func (t *toolbox) ripgrep(ctx context.Context, args searchCodeArgs) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	cmdArgs := []string{"--no-heading", "--line-number", "--max-count", "5", "-e", args.Pattern}
	if args.FileGlob != "" {
		cmdArgs = append(cmdArgs, "--glob", args.FileGlob)
	}
	cmdArgs = append(cmdArgs, ".")

	cmd := exec.CommandContext(cctx, "rg", cmdArgs...)
	cmd.Dir = t.root
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if cctx.Err() != nil {
		return nil, fmt.Errorf("search timed out")
	}
	if err != nil {
		// exit 1 means no matches, anything else means rg itself failed
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}

	var matches []string
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		matches = append(matches, scanner.Text())
		if len(matches) > maxSearchMatches {
			break
		}
	}
	return matches, nil
}

// regexpWalk is the pure-Go search path used when ripgrep is not installed.
func (t *toolbox) regexpWalk(args searchCodeArgs) ([]string, error) {
	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %v", err)
	}

	var matches []string
	err = filepath.WalkDir(t.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != t.root {
				return filepath.SkipDir
			}
			if _, skip := skippedTreeDirs[name]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) > maxSearchMatches {
			return filepath.SkipAll
		}
		if args.FileGlob != "" {
			if ok, _ := filepath.Match(args.FileGlob, name); !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxSearchFileSize {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		rel, _ := filepath.Rel(t.root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, i+1, line))
				if len(matches) > maxSearchMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %v", err)
	}
	return matches, nil
}
