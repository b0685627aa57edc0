// Package app holds application services that sit between the HTTP surface
// and the scan pipeline.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/repohawk/scanner/internal/metrics"
	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/logger"
)

// RecoverySweeper fails scans stuck in running past the cutoff. A worker that
// crashes mid-scan leaves its record in running forever; nothing else may
// write to a running scan, so an age-based sweep is the only way those
// records reach a terminal state.
type RecoverySweeper struct {
	scans    scan.Repository
	cutoff   time.Duration
	interval time.Duration
	cron     *cron.Cron
	logger   *logger.Logger
}

// NewRecoverySweeper creates a sweeper. cutoff is how long a scan may sit in
// running before it is presumed orphaned; it must exceed the worst-case scan
// timeout or the sweep would race live workers.
func NewRecoverySweeper(scans scan.Repository, cutoff, interval time.Duration, log *logger.Logger) *RecoverySweeper {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &RecoverySweeper{
		scans:    scans,
		cutoff:   cutoff,
		interval: interval,
		cron:     cron.New(),
		logger:   log.With("component", "recovery_sweeper"),
	}
}

// Start schedules the sweep and runs one immediately to clean up after a
// restart.
func (s *RecoverySweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule recovery sweep: %w", err)
	}

	s.Sweep(ctx)
	s.cron.Start()
	s.logger.Info("recovery sweeper started", "interval", s.interval, "cutoff", s.cutoff)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *RecoverySweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("recovery sweeper stopped")
}

// Sweep fails every scan that entered running before now-cutoff.
func (s *RecoverySweeper) Sweep(ctx context.Context) {
	stuck, err := s.scans.ListStuck(ctx, time.Now().UTC().Add(-s.cutoff))
	if err != nil {
		s.logger.Error("failed to list stuck scans", "error", err)
		return
	}

	for _, sc := range stuck {
		msg := fmt.Sprintf("scan abandoned: no progress for over %s, worker presumed crashed", s.cutoff)
		if err := sc.Fail(msg); err != nil {
			continue
		}
		if err := s.scans.UpdateStatus(ctx, sc.ID, scan.StatusFailed, nil, msg); err != nil {
			s.logger.Error("failed to fail stuck scan", "scan_id", sc.ID, "error", err)
			continue
		}
		metrics.ScansTotal.WithLabelValues(string(sc.Kind), string(scan.StatusFailed)).Inc()
		s.logger.Warn("failed stuck scan", "scan_id", sc.ID, "started_at", sc.StartedAt)
	}
	if len(stuck) > 0 {
		s.logger.Info("recovery sweep completed", "recovered", len(stuck))
	}
}
