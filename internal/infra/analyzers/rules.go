package analyzers

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/repohawk/scanner/pkg/logger"
)

// ruleManifest is the rules.yaml shape: a list of rule config paths,
// relative to the manifest's directory.
type ruleManifest struct {
	Configs []string `yaml:"configs"`
}

// discoverRules looks for a per-tool rules.yaml manifest along the search
// path and returns the absolute config paths it names. No manifest, or a
// manifest that fails to parse, means the tool runs with its built-in
// configuration.
func discoverRules(rulesDir, tool string, log *logger.Logger) []string {
	searchPath := []string{
		filepath.Join(rulesDir, tool),
		filepath.Join("/etc/repohawk/rules", tool),
		filepath.Join("rules", tool),
	}

	for _, dir := range searchPath {
		manifest := filepath.Join(dir, "rules.yaml")
		data, err := os.ReadFile(manifest)
		if err != nil {
			continue
		}

		var m ruleManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			log.Warn("rule manifest is not valid yaml, using built-in rules",
				"tool", tool,
				"manifest", manifest,
				"error", err,
			)
			return nil
		}

		var configs []string
		for _, c := range m.Configs {
			p := c
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, p)
			}
			if _, err := os.Stat(p); err != nil {
				log.Warn("rule config listed in manifest is missing",
					"tool", tool,
					"config", p,
				)
				continue
			}
			configs = append(configs, p)
		}
		if len(configs) > 0 {
			log.Info(fmt.Sprintf("loaded %d rule configs", len(configs)), "tool", tool, "dir", dir)
			return configs
		}
	}

	return nil
}
