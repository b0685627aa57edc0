package finding

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes the stable identity of a finding. It is derived from
// (tool, ruleID, filePath, title) only: line numbers shift between commits
// and descriptions vary between model runs without changing what the
// finding is.
func (f *Finding) Fingerprint() string {
	return ComputeFingerprint(f.Tool, f.RuleID, f.FilePath, f.Title)
}

// ComputeFingerprint hashes the identity tuple. Fields are joined with a NUL
// separator so that ("ab","c") and ("a","bc") cannot collide.
func ComputeFingerprint(tool, ruleID, filePath, title string) string {
	h := sha256.New()
	for i, part := range []string{tool, ruleID, filePath, title} {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
