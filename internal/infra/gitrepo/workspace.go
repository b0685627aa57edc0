package gitrepo

import (
	"os"
	"sync"
)

// Workspace is a repository checkout on local disk. Callers must Release it
// when the scan finishes, typically via defer immediately after Acquire.
type Workspace struct {
	// Path is the checkout root.
	Path string

	// CommitSHA is the commit actually checked out.
	CommitSHA string

	release sync.Once
	err     error
}

// Release removes the checkout directory. Safe to call multiple times; only
// the first call does work.
func (w *Workspace) Release() error {
	w.release.Do(func() {
		if w.Path != "" {
			w.err = os.RemoveAll(w.Path)
		}
	})
	return w.err
}
