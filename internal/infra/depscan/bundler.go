package depscan

import (
	"bufio"
	"bytes"
	"strings"
)

// bundlerExtractor parses Gemfile.lock. The GEM specs section pins every
// resolved gem as "    name (version)".
type bundlerExtractor struct{}

func (e *bundlerExtractor) Filename() string  { return "Gemfile.lock" }
func (e *bundlerExtractor) Ecosystem() string { return "RubyGems" }
func (e *bundlerExtractor) Lockfile() bool    { return true }

func (e *bundlerExtractor) Extract(data []byte) ([]Package, error) {
	var pkgs []Package
	inGem, inSpecs := false, false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()

		switch strings.TrimSpace(line) {
		case "GEM":
			inGem = true
			inSpecs = false
			continue
		case "specs:":
			inSpecs = inGem
			continue
		}
		if line != "" && !strings.HasPrefix(line, " ") {
			// new top-level section (PLATFORMS, DEPENDENCIES, ...)
			inGem, inSpecs = false, false
			continue
		}
		if !inSpecs {
			continue
		}

		// top-level gems sit at 4 spaces; their transitive deps at 6 have
		// version ranges, not pins
		if !strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "      ") {
			continue
		}

		name, rest, found := strings.Cut(strings.TrimSpace(line), " ")
		if !found || !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
			continue
		}
		version := strings.Trim(rest, "()")
		if version == "" || strings.ContainsAny(version, "<>=~ ") {
			continue
		}
		pkgs = append(pkgs, Package{Name: name, Version: version, Ecosystem: "RubyGems"})
	}
	return pkgs, scanner.Err()
}
