package scan

import (
	"context"
	"time"

	"github.com/repohawk/scanner/pkg/domain/shared"
)

// Repository persists scan execution records.
type Repository interface {
	// Create inserts a new scan record in state queued.
	Create(ctx context.Context, s *Scan) error

	// GetByID returns a scan record.
	GetByID(ctx context.Context, id shared.ID) (*Scan, error)

	// Exists reports whether the scan record still exists. Workers call
	// this before every terminal write: the owning project may have been
	// deleted mid-execution, in which case results are discarded.
	Exists(ctx context.Context, id shared.ID) (bool, error)

	// UpdateStatus persists a lifecycle transition. Summary and errMsg may
	// be zero-valued depending on the target status.
	UpdateStatus(ctx context.Context, id shared.ID, status Status, summary *Summary, errMsg string) error

	// ListStuck returns scans that have been in running state since before
	// the cutoff. Used by the recovery sweep to fail orphans left behind by
	// a crashed worker.
	ListStuck(ctx context.Context, cutoff time.Time) ([]*Scan, error)
}
