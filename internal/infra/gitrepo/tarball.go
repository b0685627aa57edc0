package gitrepo

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// maxTarballEntrySize caps a single extracted file. Repos with larger files
// are almost certainly shipping artifacts we have no business scanning.
const maxTarballEntrySize = 100 << 20

// tarballClient downloads repository snapshots via the codeload API.
type tarballClient struct {
	apiBase    string
	httpClient *http.Client
}

func newTarballClient(apiBase string) *tarballClient {
	return &tarballClient{
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// download fetches the tarball for a ref and extracts it into dir. It
// returns the commit SHA embedded in the archive's top-level directory name
// when present.
func (c *tarballClient) download(ctx context.Context, dir, fullName, ref, token string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/tarball/%s", c.apiBase, fullName, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tarball request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: tarball for %s@%s", ErrRefNotFound, fullName, ref)
	default:
		return "", fmt.Errorf("tarball request returned %d", resp.StatusCode)
	}

	return extractTarball(resp.Body, dir)
}

// extractTarball unpacks a gzipped tar stream into dir, stripping the
// archive's single top-level directory. Entries that would escape dir are
// rejected.
func extractTarball(r io.Reader, dir string) (string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	var commitSHA string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read tar entry: %w", err)
		}

		top, rel, found := strings.Cut(strings.TrimPrefix(hdr.Name, "./"), "/")
		if commitSHA == "" {
			// GitHub names the top-level dir "{owner}-{repo}-{sha}".
			if i := strings.LastIndex(top, "-"); i >= 0 && len(top)-i-1 >= 7 {
				commitSHA = top[i+1:]
			}
		}
		if !found || rel == "" {
			continue
		}

		target := filepath.Join(absDir, filepath.Clean(rel))
		if !strings.HasPrefix(target, absDir+string(filepath.Separator)) {
			return "", fmt.Errorf("tar entry escapes extraction dir: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", fmt.Errorf("failed to create dir %s: %w", rel, err)
			}
		case tar.TypeReg:
			if hdr.Size > maxTarballEntrySize {
				return "", fmt.Errorf("tar entry too large: %s (%d bytes)", hdr.Name, hdr.Size)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", fmt.Errorf("failed to create parent dir for %s: %w", rel, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return "", fmt.Errorf("failed to create file %s: %w", rel, err)
			}
			if _, err := io.CopyN(f, tr, hdr.Size); err != nil && err != io.EOF {
				f.Close()
				return "", fmt.Errorf("failed to write file %s: %w", rel, err)
			}
			f.Close()
		default:
			// Symlinks and special files are skipped. A symlink pointing
			// outside the checkout would defeat the traversal guard.
		}
	}

	return commitSHA, nil
}
