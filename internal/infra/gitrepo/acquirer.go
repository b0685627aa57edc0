package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

// Request describes the checkout a scan needs.
type Request struct {
	RepoFullName   string // "owner/repo"
	Branch         string
	CommitSHA      string // empty for initial scans: branch head
	InstallationID *int64
	UserID         shared.ID
}

// Acquirer produces workspaces for scan workers.
type Acquirer struct {
	tokens   *TokenSource
	apiBase  string
	workDir  string
	tarballs *tarballClient
	logger   *logger.Logger
}

// NewAcquirer creates an Acquirer. Checkouts are created under workDir.
func NewAcquirer(tokens *TokenSource, apiBase, workDir string, log *logger.Logger) *Acquirer {
	return &Acquirer{
		tokens:   tokens,
		apiBase:  apiBase,
		workDir:  workDir,
		tarballs: newTarballClient(apiBase),
		logger:   log,
	}
}

// Acquire resolves a credential and materializes the requested ref on disk.
// Clone failures that are not auth or ref problems fall back to a tarball
// download, so a host without working git transport can still scan.
func (a *Acquirer) Acquire(ctx context.Context, req Request) (*Workspace, error) {
	token, err := a.tokens.Token(ctx, AccessRequest{
		RepoFullName:   req.RepoFullName,
		InstallationID: req.InstallationID,
		UserID:         req.UserID,
	})
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(a.workDir, "scan-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace dir: %w", err)
	}

	ws, err := a.clone(ctx, dir, req, token)
	if err == nil {
		return ws, nil
	}
	if errors.Is(err, ErrRefNotFound) || isAuthError(err) {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	a.logger.Warn("git clone failed, falling back to tarball",
		"repo", req.RepoFullName,
		"error", err,
	)

	ref := req.CommitSHA
	if ref == "" {
		ref = req.Branch
	}
	sha, terr := a.tarballs.download(ctx, dir, req.RepoFullName, ref, token)
	if terr != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("clone failed (%v) and tarball fallback failed: %w", err, terr)
	}
	if sha == "" {
		sha = req.CommitSHA
	}
	return &Workspace{Path: dir, CommitSHA: sha}, nil
}

func (a *Acquirer) clone(ctx context.Context, dir string, req Request, token string) (*Workspace, error) {
	auth := &githttp.BasicAuth{
		Username: "x-access-token",
		Password: token,
	}

	opts := &git.CloneOptions{
		URL:           a.cloneURL(req.RepoFullName),
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(req.Branch),
		SingleBranch:  true,
	}
	// Branch-head scans only need the tip. A commit scan may target any
	// commit on the branch, so it keeps full branch history and resets.
	if req.CommitSHA == "" {
		opts.Depth = 1
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return nil, classifyCloneError(err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	sha := head.Hash().String()

	if req.CommitSHA != "" && req.CommitSHA != sha {
		wt, err := repo.Worktree()
		if err != nil {
			return nil, fmt.Errorf("failed to open worktree: %w", err)
		}
		err = wt.Reset(&git.ResetOptions{
			Commit: plumbing.NewHash(req.CommitSHA),
			Mode:   git.HardReset,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: commit %s", ErrRefNotFound, req.CommitSHA)
		}
		sha = req.CommitSHA
	}

	return &Workspace{Path: dir, CommitSHA: sha}, nil
}

// cloneURL derives the git host from the API base, so GitHub Enterprise
// deployments work without extra configuration.
func (a *Acquirer) cloneURL(fullName string) string {
	host := "github.com"
	if u, err := url.Parse(a.apiBase); err == nil && u.Host != "" && u.Host != "api.github.com" {
		host = u.Host
	}
	return fmt.Sprintf("https://%s/%s.git", host, fullName)
}

func classifyCloneError(err error) error {
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return fmt.Errorf("%w: %v", ErrRefNotFound, err)
	case errors.Is(err, git.ErrRepositoryNotExists):
		return fmt.Errorf("%w: %v", ErrRefNotFound, err)
	}
	var refSpecErr git.NoMatchingRefSpecError
	if errors.As(err, &refSpecErr) {
		return fmt.Errorf("%w: %v", ErrRefNotFound, err)
	}
	if strings.Contains(err.Error(), "couldn't find remote ref") {
		return fmt.Errorf("%w: %v", ErrRefNotFound, err)
	}
	return err
}

func isAuthError(err error) bool {
	return errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed)
}
