// Package jobs provides the durable scan queue on asynq: task contracts,
// the enqueue client, and the worker pool that executes scans.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/logger"
)

// Client enqueues scan jobs.
type Client struct {
	client      *asynq.Client
	maxRetries  int
	scanTimeout time.Duration
	logger      *logger.Logger
}

// NewClient creates a job client for enqueueing scans.
func NewClient(redisCfg *config.RedisConfig, workerCfg *config.WorkerConfig, log *logger.Logger) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisCfg.Addr(),
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		}),
		maxRetries:  workerCfg.MaxRetries,
		scanTimeout: workerCfg.ScanTimeout,
		logger:      log.With("component", "job_client"),
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueScan enqueues the job for a scan record. Enqueueing a scan that
// already has a pending or in-flight job is a no-op, not an error: the task
// ID makes the enqueue idempotent per scan.
func (c *Client) EnqueueScan(ctx context.Context, sc *scan.Scan) error {
	taskType := TypeInitialScan
	if sc.Kind == scan.KindCommit {
		taskType = TypeCommitScan
	}

	payload := ScanPayload{
		ScanID:         sc.ID.String(),
		ProjectID:      sc.ProjectID.String(),
		UserID:         sc.UserID.String(),
		RepoFullName:   sc.RepoFullName,
		Branch:         sc.Branch,
		CommitSHA:      sc.CommitSHA,
		InstallationID: sc.InstallationID,
	}

	task, err := newScanTask(taskType, payload, c.maxRetries, c.scanTimeout)
	if err != nil {
		return fmt.Errorf("failed to create scan task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			c.logger.Info("scan already enqueued, skipping duplicate",
				"scan_id", payload.ScanID,
			)
			return nil
		}
		return fmt.Errorf("failed to enqueue scan: %w", err)
	}

	c.logger.Info("scan enqueued",
		"task_id", info.ID,
		"scan_id", payload.ScanID,
		"kind", sc.Kind,
		"queue", info.Queue,
	)
	return nil
}
