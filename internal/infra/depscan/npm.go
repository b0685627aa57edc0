package depscan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// npmExtractor parses package.json. Declared ranges are trimmed to their
// base version; ranges with no concrete base ("*", "latest", "||") are
// skipped because OSV needs a version to match against.
type npmExtractor struct{}

func (e *npmExtractor) Filename() string  { return "package.json" }
func (e *npmExtractor) Ecosystem() string { return "npm" }
func (e *npmExtractor) Lockfile() bool    { return false }

func (e *npmExtractor) Extract(data []byte) ([]Package, error) {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("invalid package.json: %w", err)
	}

	var pkgs []Package
	for _, deps := range []map[string]string{manifest.Dependencies, manifest.DevDependencies} {
		for name, rng := range deps {
			if v, ok := concreteVersion(rng); ok {
				pkgs = append(pkgs, Package{Name: name, Version: v, Ecosystem: "npm"})
			}
		}
	}
	return pkgs, nil
}

// concreteVersion strips range operators and reports whether what remains
// looks like an exact version.
func concreteVersion(rng string) (string, bool) {
	v := strings.TrimSpace(rng)
	v = strings.TrimLeft(v, "^~=v")
	if v == "" || strings.ContainsAny(v, " <>|*") || strings.HasSuffix(v, ".x") {
		return "", false
	}
	if v[0] < '0' || v[0] > '9' {
		return "", false
	}
	return v, true
}

// npmLockExtractor parses package-lock.json v2/v3, which pins the exact
// installed tree.
type npmLockExtractor struct{}

func (e *npmLockExtractor) Filename() string  { return "package-lock.json" }
func (e *npmLockExtractor) Ecosystem() string { return "npm" }
func (e *npmLockExtractor) Lockfile() bool    { return true }

func (e *npmLockExtractor) Extract(data []byte) ([]Package, error) {
	var lock struct {
		LockfileVersion int `json:"lockfileVersion"`
		// v2/v3 format: path -> entry
		Packages map[string]struct {
			Version string `json:"version"`
			Link    bool   `json:"link"`
		} `json:"packages"`
		// v1 format
		Dependencies map[string]struct {
			Version string `json:"version"`
		} `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("invalid package-lock.json: %w", err)
	}

	var pkgs []Package
	for path, entry := range lock.Packages {
		if path == "" || entry.Version == "" || entry.Link {
			continue
		}
		// "node_modules/@scope/name" or nested "a/node_modules/b"
		name := path
		if i := strings.LastIndex(path, "node_modules/"); i >= 0 {
			name = path[i+len("node_modules/"):]
		}
		pkgs = append(pkgs, Package{Name: name, Version: entry.Version, Ecosystem: "npm"})
	}
	if len(pkgs) > 0 {
		return pkgs, nil
	}

	for name, entry := range lock.Dependencies {
		if entry.Version != "" {
			pkgs = append(pkgs, Package{Name: name, Version: entry.Version, Ecosystem: "npm"})
		}
	}
	return pkgs, nil
}
