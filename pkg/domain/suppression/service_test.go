package suppression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/shared"
)

// memoryRepo is an in-memory Repository for tests, keyed like the postgres
// implementation: one row per (project, fingerprint).
type memoryRepo struct {
	rules map[string]*IgnoredRule
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rules: make(map[string]*IgnoredRule)}
}

func (m *memoryRepo) key(projectID shared.ID, fp string) string {
	return projectID.String() + "/" + fp
}

func (m *memoryRepo) Upsert(_ context.Context, rule *IgnoredRule) error {
	m.rules[m.key(rule.ProjectID, rule.Fingerprint)] = rule
	return nil
}

func (m *memoryRepo) Delete(_ context.Context, projectID shared.ID, fp string) error {
	delete(m.rules, m.key(projectID, fp))
	return nil
}

func (m *memoryRepo) ListFingerprints(_ context.Context, projectID shared.ID) ([]string, error) {
	var out []string
	for _, r := range m.rules {
		if r.ProjectID.Equals(projectID) {
			out = append(out, r.Fingerprint)
		}
	}
	return out, nil
}

func TestIgnoreRestoreIdempotence(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo)
	projectID := shared.NewID()
	userID := shared.NewID()
	fp := finding.ComputeFingerprint("semgrep", "rule-1", "main.go", "thing")

	// ignore, restore, ignore again: same final state as ignoring once
	require.NoError(t, svc.Ignore(ctx, projectID, fp, "false positive", userID))
	require.NoError(t, svc.Restore(ctx, projectID, fp))
	require.NoError(t, svc.Ignore(ctx, projectID, fp, "false positive", userID))

	fps, err := svc.Fingerprints(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{fp}, fps)

	// double ignore leaves a single rule
	require.NoError(t, svc.Ignore(ctx, projectID, fp, "still fp", userID))
	fps, err = svc.Fingerprints(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, fps, 1)

	// restoring something never ignored is a no-op
	require.NoError(t, svc.Restore(ctx, projectID, "deadbeef"))
}

func TestIgnoreValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())

	err := svc.Ignore(context.Background(), shared.ID{}, "fp", "", shared.NewID())
	assert.ErrorIs(t, err, shared.ErrValidation)

	err = svc.Ignore(context.Background(), shared.NewID(), "", "", shared.NewID())
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestFilter(t *testing.T) {
	mk := func(rule string) finding.Finding {
		return finding.Finding{Tool: "semgrep", RuleID: rule, FilePath: "a.go", Title: rule, Severity: finding.SeverityHigh}
	}
	findings := []finding.Finding{mk("r1"), mk("r2"), mk("r3")}

	t.Run("drops suppressed and counts them", func(t *testing.T) {
		suppressed := []string{findings[1].Fingerprint()}
		kept, ignored := Filter(findings, suppressed)
		assert.Equal(t, 1, ignored)
		require.Len(t, kept, 2)
		assert.Equal(t, "r1", kept[0].RuleID)
		assert.Equal(t, "r3", kept[1].RuleID)
	})

	t.Run("empty suppressed set keeps everything", func(t *testing.T) {
		kept, ignored := Filter(findings, nil)
		assert.Zero(t, ignored)
		assert.Len(t, kept, 3)
	})

	t.Run("suppression survives line and wording changes", func(t *testing.T) {
		moved := mk("r1")
		moved.StartLine = 999
		moved.Description = "new wording from a different model run"
		kept, ignored := Filter([]finding.Finding{moved}, []string{findings[0].Fingerprint()})
		assert.Equal(t, 1, ignored)
		assert.Empty(t, kept)
	})
}
