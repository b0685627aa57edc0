package depscan

import (
	"bufio"
	"bytes"
	"strings"
)

// pipExtractor parses requirements.txt. Only exact pins ("name==version")
// are usable; ranges and editable installs are skipped.
type pipExtractor struct{}

func (e *pipExtractor) Filename() string  { return "requirements.txt" }
func (e *pipExtractor) Ecosystem() string { return "PyPI" }
func (e *pipExtractor) Lockfile() bool    { return false }

func (e *pipExtractor) Extract(data []byte) ([]Package, error) {
	var pkgs []Package
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		// strip trailing comments and environment markers
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		name, version, found := strings.Cut(line, "==")
		if !found {
			continue
		}
		// drop extras: "requests[security]==2.0.0"
		if i := strings.Index(name, "["); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimSpace(name)
		version = strings.TrimSpace(version)
		if name == "" || version == "" || strings.ContainsAny(version, "*<>") {
			continue
		}
		pkgs = append(pkgs, Package{Name: name, Version: version, Ecosystem: "PyPI"})
	}
	return pkgs, scanner.Err()
}
