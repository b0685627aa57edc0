// Package depscan resolves declared dependencies against the OSV
// vulnerability database. Manifest parsing is best-effort: a file that does
// not parse is logged and skipped, never fatal to the scan.
package depscan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/repohawk/scanner/internal/metrics"
	"github.com/repohawk/scanner/pkg/logger"
)

// Package is one declared dependency at a concrete version.
type Package struct {
	Name      string
	Version   string
	Ecosystem string // OSV ecosystem name: "npm", "PyPI", "Go", "RubyGems"
}

// Extractor parses one manifest format.
type Extractor interface {
	// Filename is the base name this extractor handles.
	Filename() string

	// Ecosystem is the OSV ecosystem the packages belong to.
	Ecosystem() string

	// Lockfile reports whether this format pins exact versions. Within a
	// directory, lockfile packages supersede manifest packages of the same
	// ecosystem.
	Lockfile() bool

	// Extract parses the file contents.
	Extract(data []byte) ([]Package, error)
}

// DefaultExtractors returns the supported manifest formats.
func DefaultExtractors() []Extractor {
	return []Extractor{
		&npmLockExtractor{},
		&npmExtractor{},
		&pipExtractor{},
		&goModExtractor{},
		&bundlerExtractor{},
	}
}

// skippedDirs are never walked for manifests: they hold installed
// dependencies, not declarations.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
}

// ExtractAll walks the checkout and returns every declared dependency.
// When a directory has both a manifest and a lockfile for the same
// ecosystem, only the lockfile's pinned versions are kept.
func ExtractAll(repoPath string, extractors []Extractor, log *logger.Logger) []Package {
	byName := make(map[string]Extractor, len(extractors))
	for _, e := range extractors {
		byName[e.Filename()] = e
	}

	// dir+ecosystem pairs where a lockfile produced packages
	type dirEco struct{ dir, eco string }
	locked := make(map[dirEco]bool)
	type extracted struct {
		dir  string
		ext  Extractor
		pkgs []Package
	}
	var results []extracted

	_ = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		ext, ok := byName[d.Name()]
		if !ok {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("failed to read manifest", "path", path, "error", err)
			return nil
		}

		pkgs, err := ext.Extract(data)
		if err != nil {
			log.Warn("failed to parse manifest", "path", path, "error", err)
			return nil
		}

		dir := filepath.Dir(path)
		if ext.Lockfile() && len(pkgs) > 0 {
			locked[dirEco{dir, ext.Ecosystem()}] = true
		}
		results = append(results, extracted{dir: dir, ext: ext, pkgs: pkgs})
		return nil
	})

	var all []Package
	seen := make(map[Package]bool)
	for _, r := range results {
		if !r.ext.Lockfile() && locked[dirEco{r.dir, r.ext.Ecosystem()}] {
			continue
		}
		for _, p := range r.pkgs {
			if p.Name == "" || p.Version == "" || seen[p] {
				continue
			}
			seen[p] = true
			all = append(all, p)
			metrics.DependenciesExtracted.WithLabelValues(p.Ecosystem).Inc()
		}
	}

	if len(all) > 0 {
		log.Info(fmt.Sprintf("extracted %d dependencies", len(all)))
	}
	return all
}
