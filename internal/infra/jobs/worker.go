package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hibiken/asynq"

	"github.com/repohawk/scanner/internal/app/scanpipeline"
	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/internal/metrics"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

// ScanExecutor runs one scan to a terminal state. Implemented by
// scanpipeline.Service.
type ScanExecutor interface {
	Execute(ctx context.Context, scanID shared.ID) error
	Fail(ctx context.Context, scanID shared.ID, msg string) error
}

// Worker is the scan worker pool: an asynq server whose handlers drive the
// pipeline. Each worker slot executes one scan end to end before claiming
// another.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	executor ScanExecutor
	logger   *logger.Logger
}

// NewWorker creates the scan worker.
func NewWorker(redisCfg *config.RedisConfig, workerCfg *config.WorkerConfig, executor ScanExecutor, log *logger.Logger) *Worker {
	wlog := log.With("component", "worker")

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisCfg.Addr(),
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueScans: 10,
				"default":  1,
			},
			RetryDelayFunc: retryDelay,
			Logger:         asynqLogger{wlog},
		},
	)

	w := &Worker{
		server:   server,
		mux:      asynq.NewServeMux(),
		executor: executor,
		logger:   wlog,
	}
	w.mux.HandleFunc(TypeInitialScan, w.handleScan)
	w.mux.HandleFunc(TypeCommitScan, w.handleScan)
	return w
}

// retryDelay backs off quadratically, (n+1)²·10s for n prior retries.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return time.Duration(math.Pow(float64(n+1), 2)) * 10 * time.Second
}

// Start starts the worker pool.
func (w *Worker) Start() error {
	w.logger.Info("starting scan worker")
	return w.server.Start(w.mux)
}

// Stop shuts the worker down gracefully, letting in-flight scans finish.
func (w *Worker) Stop() {
	w.logger.Info("stopping scan worker")
	w.server.Shutdown()
}

// handleScan executes one scan job. A returned error without SkipRetry means
// asynq re-delivers with backoff; once the final attempt fails the scan is
// marked failed so it is never silently dropped.
func (w *Worker) handleScan(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("malformed scan payload, dropping task", "error", err)
		return fmt.Errorf("unmarshal scan payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(t.Type()); err != nil {
		w.logger.Error("invalid scan payload, dropping task", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	scanID, err := shared.IDFromString(payload.ScanID)
	if err != nil {
		return fmt.Errorf("invalid scan_id: %v: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With("scan_id", payload.ScanID, "repo", payload.RepoFullName)
	log.Info("processing scan job", "type", t.Type())

	execErr := w.executor.Execute(ctx, scanID)
	if execErr == nil {
		return nil
	}

	if scanpipeline.IsPermanent(execErr) {
		// Already recorded as failed by the pipeline; just stop retrying.
		log.Warn("scan failed permanently", "error", execErr)
		return fmt.Errorf("%v: %w", execErr, asynq.SkipRetry)
	}

	retried, rok := asynq.GetRetryCount(ctx)
	maxRetry, mok := asynq.GetMaxRetry(ctx)
	if rok && mok && retried >= maxRetry {
		log.Error("scan retries exhausted", "error", execErr, "attempts", retried+1)
		msg := fmt.Sprintf("retries exhausted: %v", execErr)
		if failErr := w.executor.Fail(ctx, scanID, msg); failErr != nil {
			log.Error("failed to record exhausted scan", "error", failErr)
		}
		return execErr
	}

	metrics.ScanRetriesTotal.Inc()
	log.Warn("scan attempt failed, queue will retry",
		"error", execErr,
		"attempt", retried+1,
		"max_attempts", maxRetry+1,
	)
	return execErr
}

// asynqLogger adapts our logger to asynq's interface.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
