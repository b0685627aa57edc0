package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
)

// Task types for the two scan job shapes. The handler dispatches on the type
// name, which carries the scan kind.
const (
	TypeInitialScan = "scan:initial"
	TypeCommitScan  = "scan:commit"
)

var validate = validator.New()

// ScanPayload is the inbound job contract. The scan record is the source of
// truth during execution; the payload exists so a job is self-describing in
// the queue UI and survives a scan-record read failure with useful logs.
type ScanPayload struct {
	ScanID         string `json:"scan_id" validate:"required,uuid4"`
	ProjectID      string `json:"project_id" validate:"required,uuid4"`
	UserID         string `json:"user_id" validate:"required,uuid4"`
	RepoFullName   string `json:"repo_full_name" validate:"required,contains=/"`
	Branch         string `json:"branch" validate:"required"`
	CommitSHA      string `json:"commit_sha,omitempty"`
	InstallationID *int64 `json:"installation_id,omitempty"`
}

// Validate checks the payload shape. Commit scans additionally require the
// commit SHA they pin to.
func (p *ScanPayload) Validate(taskType string) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid scan payload: %w", err)
	}
	if taskType == TypeCommitScan && p.CommitSHA == "" {
		return fmt.Errorf("invalid scan payload: commit scans require commit_sha")
	}
	return nil
}

// newScanTask builds the asynq task for a payload. TaskID pins queue-level
// uniqueness to the scan: re-enqueueing the same scan while a job for it is
// still pending or in flight is rejected by asynq, guaranteeing at most one
// execution per ScanJob.
func newScanTask(taskType string, payload ScanPayload, maxRetries int, timeout time.Duration) (*asynq.Task, error) {
	if err := payload.Validate(taskType); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal scan payload: %w", err)
	}

	return asynq.NewTask(
		taskType,
		data,
		asynq.TaskID("scan:"+payload.ScanID),
		asynq.MaxRetry(maxRetries),
		asynq.Timeout(timeout),
		asynq.Queue(queueScans),
	), nil
}

const queueScans = "scans"
