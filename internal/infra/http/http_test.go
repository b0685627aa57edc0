package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repohawk/scanner/internal/app"
	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/domain/suppression"
	"github.com/repohawk/scanner/pkg/logger"
)

const testWebhookSecret = "test-webhook-secret"

type memScanRepo struct {
	mu    sync.Mutex
	scans map[shared.ID]*scan.Scan
}

func newMemScanRepo() *memScanRepo {
	return &memScanRepo{scans: make(map[shared.ID]*scan.Scan)}
}

func (r *memScanRepo) Create(_ context.Context, s *scan.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[s.ID] = s
	return nil
}

func (r *memScanRepo) GetByID(_ context.Context, id shared.ID) (*scan.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}
	return s, nil
}

func (r *memScanRepo) Exists(_ context.Context, id shared.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.scans[id]
	return ok, nil
}

func (r *memScanRepo) UpdateStatus(_ context.Context, id shared.ID, status scan.Status, summary *scan.Summary, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return shared.ErrNotFound
	}
	s.Status = status
	s.Summary = summary
	s.Error = errMsg
	return nil
}

func (r *memScanRepo) ListStuck(context.Context, time.Time) ([]*scan.Scan, error) {
	return nil, nil
}

type memFindingRepo struct {
	byScan map[shared.ID][]finding.Finding
}

func (r *memFindingRepo) CreateBatch(context.Context, []finding.Finding) error { return nil }

func (r *memFindingRepo) ListByScan(_ context.Context, scanID shared.ID) ([]finding.Finding, error) {
	return r.byScan[scanID], nil
}

func (r *memFindingRepo) GetByID(context.Context, shared.ID) (*finding.Finding, error) {
	return nil, shared.ErrNotFound
}

type memRuleRepo struct {
	mu    sync.Mutex
	rules map[string]*suppression.IgnoredRule
}

func newMemRuleRepo() *memRuleRepo {
	return &memRuleRepo{rules: make(map[string]*suppression.IgnoredRule)}
}

func (r *memRuleRepo) Upsert(_ context.Context, rule *suppression.IgnoredRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Fingerprint] = rule
	return nil
}

func (r *memRuleRepo) Delete(_ context.Context, _ shared.ID, fingerprint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, fingerprint)
	return nil
}

func (r *memRuleRepo) ListFingerprints(context.Context, shared.ID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var fps []string
	for fp := range r.rules {
		fps = append(fps, fp)
	}
	return fps, nil
}

type nopEnqueuer struct{}

func (nopEnqueuer) EnqueueScan(context.Context, *scan.Scan) error { return nil }

type env struct {
	server   *httptest.Server
	scanRepo *memScanRepo
	ruleRepo *memRuleRepo
	findings *memFindingRepo
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logger.NewNop()

	scanRepo := newMemScanRepo()
	ruleRepo := newMemRuleRepo()
	findings := &memFindingRepo{byScan: make(map[shared.ID][]finding.Finding)}
	scanSvc := app.NewScanService(scanRepo, nopEnqueuer{}, log)

	srv := NewServer(
		&config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ShutdownTimeout: time.Second,
			MaxBodySize:     1 << 20,
		},
		Handlers{
			Scans:        NewScanHandler(scanSvc, findings, log),
			IgnoredRules: NewIgnoredRuleHandler(suppression.NewService(ruleRepo), log),
			Webhooks:     NewWebhookHandler(scanSvc, testWebhookSecret, log),
			Health:       NewHealthHandler(nil),
		},
		log,
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &env{server: ts, scanRepo: scanRepo, ruleRepo: ruleRepo, findings: findings}
}

func TestTriggerScanEndpoint(t *testing.T) {
	e := newEnv(t)
	projectID := shared.NewID()

	body, _ := json.Marshal(triggerScanRequest{
		UserID:       shared.NewID().String(),
		RepoFullName: "acme/api",
		Branch:       "main",
	})
	resp, err := http.Post(
		e.server.URL+"/api/v1/projects/"+projectID.String()+"/scans",
		"application/json",
		bytes.NewReader(body),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created scanResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "queued", created.Status)
	assert.Equal(t, "initial", created.Kind)
	assert.Equal(t, projectID.String(), created.ProjectID)

	t.Run("round trip via GET", func(t *testing.T) {
		resp, err := http.Get(e.server.URL + "/api/v1/scans/" + created.ID)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("unknown scan is 404", func(t *testing.T) {
		resp, err := http.Get(e.server.URL + "/api/v1/scans/" + shared.NewID().String())
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid project id is 400", func(t *testing.T) {
		resp, err := http.Post(e.server.URL+"/api/v1/projects/garbage/scans", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestIgnoredRuleEndpoints(t *testing.T) {
	e := newEnv(t)
	projectID := shared.NewID()
	base := e.server.URL + "/api/v1/projects/" + projectID.String() + "/ignored-rules"

	body, _ := json.Marshal(ignoreRequest{
		Fingerprint: "abc123",
		Reason:      "false positive in generated code",
		UserID:      shared.NewID().String(),
	})

	// ignoring twice is idempotent
	for i := 0; i < 2; i++ {
		resp, err := http.Post(base, "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	assert.Len(t, e.ruleRepo.rules, 1)

	req, err := http.NewRequest(http.MethodDelete, base+"/abc123", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, e.ruleRepo.rules)

	// restoring a rule that does not exist is still 204
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestGitHubWebhook(t *testing.T) {
	e := newEnv(t)
	projectID, userID := shared.NewID(), shared.NewID()
	url := fmt.Sprintf("%s/webhooks/github?project_id=%s&user_id=%s", e.server.URL, projectID, userID)

	push := map[string]any{
		"ref":          "refs/heads/main",
		"after":        "0123456789abcdef0123456789abcdef01234567",
		"repository":   map[string]string{"full_name": "acme/api"},
		"installation": map[string]int64{"id": 4242},
	}
	body, _ := json.Marshal(push)

	newRequest := func(t *testing.T, sig string) *http.Request {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-Hub-Signature-256", sig)
		return req
	}

	t.Run("valid push triggers commit scan", func(t *testing.T) {
		resp, err := http.DefaultClient.Do(newRequest(t, signBody(body)))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var out map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		scanID, err := shared.IDFromString(out["scan_id"])
		require.NoError(t, err)

		sc, err := e.scanRepo.GetByID(context.Background(), scanID)
		require.NoError(t, err)
		assert.Equal(t, scan.KindCommit, sc.Kind)
		assert.Equal(t, "main", sc.Branch)
		assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", sc.CommitSHA)
		require.NotNil(t, sc.InstallationID)
		assert.Equal(t, int64(4242), *sc.InstallationID)
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		resp, err := http.DefaultClient.Do(newRequest(t, "sha256=deadbeef"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing signature is rejected", func(t *testing.T) {
		resp, err := http.DefaultClient.Do(newRequest(t, ""))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("non-push events are acknowledged", func(t *testing.T) {
		req := newRequest(t, signBody(body))
		req.Header.Set("X-GitHub-Event", "ping")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("branch deletion is ignored", func(t *testing.T) {
		del := map[string]any{
			"ref":        "refs/heads/gone",
			"after":      "0000000000000000000000000000000000000000",
			"repository": map[string]string{"full_name": "acme/api"},
		}
		delBody, _ := json.Marshal(del)
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(delBody))
		require.NoError(t, err)
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-Hub-Signature-256", signBody(delBody))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

type failingCheck struct{ err error }

func (c failingCheck) HealthCheck(context.Context) error { return c.err }

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := NewHealthHandler(map[string]HealthChecker{
			"postgres": failingCheck{},
			"redis":    failingCheck{},
		})
		rec := httptest.NewRecorder()
		h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("dependency down", func(t *testing.T) {
		h := NewHealthHandler(map[string]HealthChecker{
			"postgres": failingCheck{},
			"redis":    failingCheck{err: errors.New("connection refused")},
		})
		rec := httptest.NewRecorder()
		h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var out struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "degraded", out.Status)
		assert.Equal(t, "unhealthy", out.Checks["redis"])
	})
}
