package depscan

import (
	"context"
	"fmt"

	"github.com/repohawk/scanner/pkg/cvss"
	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/logger"
)

// Service ties extraction and OSV resolution into one scan step.
type Service struct {
	extractors []Extractor
	osv        *OSVClient
	logger     *logger.Logger
}

// NewService creates a dependency scan service.
func NewService(osv *OSVClient, log *logger.Logger) *Service {
	return &Service{
		extractors: DefaultExtractors(),
		osv:        osv,
		logger:     log,
	}
}

// Scan extracts declared dependencies from the checkout and maps known
// vulnerabilities onto findings.
func (s *Service) Scan(ctx context.Context, repoPath string) ([]finding.Finding, error) {
	pkgs := ExtractAll(repoPath, s.extractors, s.logger)
	if len(pkgs) == 0 {
		return nil, nil
	}

	vulns, err := s.osv.Query(ctx, pkgs)
	if err != nil {
		return nil, err
	}

	var findings []finding.Finding
	for idx, list := range vulns {
		for i := range list {
			findings = append(findings, MapVulnerability(pkgs[idx], &list[i]))
		}
	}
	return findings, nil
}

// MapVulnerability converts one OSV record for one package into a finding.
// Severity comes from the CVSS vector when the record carries one; records
// without a vector land as medium, a known unknown.
func MapVulnerability(pkg Package, vuln *Vulnerability) finding.Finding {
	title := fmt.Sprintf("%s@%s: %s", pkg.Name, pkg.Version, vuln.Summary)
	if vuln.Summary == "" {
		title = fmt.Sprintf("%s@%s: %s", pkg.Name, pkg.Version, vuln.ID)
	}

	desc := vuln.Details
	if fixed := vuln.FixedVersion(); fixed != "" {
		desc = fmt.Sprintf("%s\n\nFixed in version %s.", desc, fixed)
	}

	f := finding.Finding{
		Severity:    finding.SeverityMedium,
		Type:        finding.TypeDependency,
		Title:       title,
		Description: desc,
		CVEID:       vuln.CVEAlias(),
		Tool:        "osv",
		RuleID:      vuln.ID,
	}

	if vector := vuln.CVSSVector(); vector != "" {
		if score, err := cvss.ScoreFromVector(vector); err == nil {
			f.CVSSScore = &score
			f.CVSSVector = vector
		}
	}
	f.Normalize()
	return f
}
