package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeAttrRedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("minted token",
		"installation_token", "ghs_abc123",
		"github_app_private_key", "-----BEGIN RSA-----",
		"scan_id", "s-1",
	)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "[REDACTED]", rec["installation_token"])
	assert.Equal(t, "[REDACTED]", rec["github_app_private_key"])
	assert.Equal(t, "s-1", rec["scan_id"])
}

func TestSanitizeAttrPartialMatch(t *testing.T) {
	a := sanitizeAttr(nil, slog.String("user_llm_api_key", "sk-ant-xyz"))
	assert.Equal(t, "[REDACTED]", a.Value.String())

	a = sanitizeAttr(nil, slog.String("repo_full_name", "acme/widgets"))
	assert.Equal(t, "acme/widgets", a.Value.String())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info("quiet")
	log.Warn("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestSamplingThreshold(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
		Sampling: SamplingConfig{
			Enabled:   true,
			Tick:      time.Hour,
			Threshold: 5,
			Rate:      0, // drop everything past the threshold
			ErrorRate: 1.0,
		},
	})

	for i := 0; i < 20; i++ {
		log.Info("repeated parse warning")
	}
	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 5, lines)

	// warn-level records bypass the drop via ErrorRate
	buf.Reset()
	for i := 0; i < 20; i++ {
		log.Warn("repeated failure")
	}
	assert.Equal(t, 20, strings.Count(buf.String(), "\n"))
}

func TestFromContextFallback(t *testing.T) {
	log := NewNop()
	ctx := ToContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
