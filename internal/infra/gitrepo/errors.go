// Package gitrepo acquires repository checkouts for scan workers. It mints
// GitHub App installation tokens, falls back to stored user OAuth tokens,
// clones shallowly, and drops to a tarball download when git transport is
// unavailable.
package gitrepo

import "errors"

var (
	// ErrNoCredential means no usable credential exists for the repository.
	// Permanent: retrying the job cannot produce a token.
	ErrNoCredential = errors.New("gitrepo: no credential available")

	// ErrRefNotFound means the requested branch or commit does not exist.
	// Permanent: the ref will not appear on retry.
	ErrRefNotFound = errors.New("gitrepo: ref not found")
)
