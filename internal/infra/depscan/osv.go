package depscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/internal/metrics"
	"github.com/repohawk/scanner/pkg/logger"
)

// osvBatchLimit is the maximum queries per /v1/querybatch request.
const osvBatchLimit = 1000

// Vulnerability is the subset of an OSV record we consume.
type Vulnerability struct {
	ID       string   `json:"id"`
	Summary  string   `json:"summary"`
	Details  string   `json:"details"`
	Aliases  []string `json:"aliases"`
	Severity []struct {
		Type  string `json:"type"`  // "CVSS_V3", "CVSS_V2", ...
		Score string `json:"score"` // a CVSS vector string
	} `json:"severity"`
	Affected []struct {
		Ranges []struct {
			Type   string `json:"type"`
			Events []struct {
				Introduced string `json:"introduced,omitempty"`
				Fixed      string `json:"fixed,omitempty"`
			} `json:"events"`
		} `json:"ranges"`
	} `json:"affected"`
}

// CVSSVector returns the CVSS v3 vector string, if any.
func (v *Vulnerability) CVSSVector() string {
	for _, s := range v.Severity {
		if s.Type == "CVSS_V3" {
			return s.Score
		}
	}
	return ""
}

// CVEAlias returns the first CVE identifier among the aliases.
func (v *Vulnerability) CVEAlias() string {
	for _, a := range v.Aliases {
		if len(a) > 4 && a[:4] == "CVE-" {
			return a
		}
	}
	return ""
}

// FixedVersion returns the first fixed version across affected ranges.
func (v *Vulnerability) FixedVersion() string {
	for _, aff := range v.Affected {
		for _, r := range aff.Ranges {
			for _, e := range r.Events {
				if e.Fixed != "" {
					return e.Fixed
				}
			}
		}
	}
	return ""
}

// OSVClient queries the OSV batch API and hydrates vulnerability records.
// Requests are rate-limited; we are a guest on a public service.
type OSVClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewOSVClient creates an OSV client.
func NewOSVClient(cfg *config.OSVConfig, log *logger.Logger) *OSVClient {
	return &OSVClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:     log,
	}
}

// Query returns known vulnerabilities per package, indexed by position in
// pkgs. An unreachable database yields an empty result: dependency findings
// degrade to nothing rather than failing the scan.
func (c *OSVClient) Query(ctx context.Context, pkgs []Package) (map[int][]Vulnerability, error) {
	if len(pkgs) == 0 {
		return nil, nil
	}

	ids := make(map[int][]string)
	for start := 0; start < len(pkgs); start += osvBatchLimit {
		end := min(start+osvBatchLimit, len(pkgs))
		if err := c.queryBatch(ctx, pkgs[start:end], start, ids); err != nil {
			c.logger.Warn("osv batch query failed, skipping dependency findings", "error", err)
			metrics.OSVQueriesTotal.WithLabelValues("error").Inc()
			return nil, nil
		}
	}
	metrics.OSVQueriesTotal.WithLabelValues("ok").Inc()

	// hydrate each distinct vuln once
	cache := make(map[string]*Vulnerability)
	result := make(map[int][]Vulnerability)
	for idx, vulnIDs := range ids {
		for _, id := range vulnIDs {
			vuln, ok := cache[id]
			if !ok {
				var err error
				vuln, err = c.getVuln(ctx, id)
				if err != nil {
					c.logger.Warn("failed to hydrate vulnerability", "id", id, "error", err)
					continue
				}
				cache[id] = vuln
			}
			result[idx] = append(result[idx], *vuln)
		}
	}
	return result, nil
}

func (c *OSVClient) queryBatch(ctx context.Context, pkgs []Package, offset int, out map[int][]string) error {
	type pkgRef struct {
		Name      string `json:"name"`
		Ecosystem string `json:"ecosystem"`
	}
	type query struct {
		Package pkgRef `json:"package"`
		Version string `json:"version"`
	}
	reqBody := struct {
		Queries []query `json:"queries"`
	}{}
	for _, p := range pkgs {
		reqBody.Queries = append(reqBody.Queries, query{
			Package: pkgRef{Name: p.Name, Ecosystem: p.Ecosystem},
			Version: p.Version,
		})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	var respBody struct {
		Results []struct {
			Vulns []struct {
				ID string `json:"id"`
			} `json:"vulns"`
		} `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/querybatch", body, &respBody); err != nil {
		return err
	}

	for i, res := range respBody.Results {
		for _, v := range res.Vulns {
			out[offset+i] = append(out[offset+i], v.ID)
		}
	}
	return nil
}

func (c *OSVClient) getVuln(ctx context.Context, id string) (*Vulnerability, error) {
	var vuln Vulnerability
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/vulns/"+id, nil, &vuln); err != nil {
		return nil, err
	}
	return &vuln, nil
}

func (c *OSVClient) do(ctx context.Context, method, url string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("osv returned %d for %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
