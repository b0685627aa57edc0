package depscan

import (
	"bufio"
	"bytes"
	"strings"
)

// goModExtractor parses go.mod require directives. Go modules always pin an
// exact version, so the manifest is as good as a lockfile.
type goModExtractor struct{}

func (e *goModExtractor) Filename() string  { return "go.mod" }
func (e *goModExtractor) Ecosystem() string { return "Go" }
func (e *goModExtractor) Lockfile() bool    { return true }

func (e *goModExtractor) Extract(data []byte) ([]Package, error) {
	var pkgs []Package
	inBlock := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "//"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		switch {
		case line == "require (":
			inBlock = true
			continue
		case inBlock && line == ")":
			inBlock = false
			continue
		}

		fields := strings.Fields(line)
		switch {
		case inBlock && len(fields) == 2:
			// inside a require block: "path version"
		case !inBlock && len(fields) == 3 && fields[0] == "require":
			fields = fields[1:]
		default:
			continue
		}

		path, version := fields[0], fields[1]
		if !strings.HasPrefix(version, "v") {
			continue
		}
		pkgs = append(pkgs, Package{Name: path, Version: strings.TrimPrefix(version, "v"), Ecosystem: "Go"})
	}
	return pkgs, scanner.Err()
}
