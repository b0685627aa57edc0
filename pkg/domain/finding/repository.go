package finding

import (
	"context"

	"github.com/repohawk/scanner/pkg/domain/shared"
)

// Repository persists findings. Findings are append-only from the scanner's
// perspective; there is no update operation.
type Repository interface {
	// CreateBatch persists all findings from one scan in a single
	// transaction, replacing anything already stored for that scan. A
	// redelivered job re-running the pipeline must not duplicate rows.
	CreateBatch(ctx context.Context, findings []Finding) error

	// ListByScan returns the findings persisted for a scan.
	ListByScan(ctx context.Context, scanID shared.ID) ([]Finding, error)

	// GetByID returns a single finding.
	GetByID(ctx context.Context, id shared.ID) (*Finding, error)
}
