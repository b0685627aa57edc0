package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

type memScanRepo struct {
	mu    sync.Mutex
	scans map[shared.ID]*scan.Scan
}

func newMemScanRepo() *memScanRepo {
	return &memScanRepo{scans: make(map[shared.ID]*scan.Scan)}
}

func (r *memScanRepo) Create(_ context.Context, s *scan.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[s.ID] = s
	return nil
}

func (r *memScanRepo) GetByID(_ context.Context, id shared.ID) (*scan.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}
	return s, nil
}

func (r *memScanRepo) Exists(_ context.Context, id shared.ID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.scans[id]
	return ok, nil
}

func (r *memScanRepo) UpdateStatus(_ context.Context, id shared.ID, status scan.Status, summary *scan.Summary, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return shared.ErrNotFound
	}
	s.Status = status
	s.Summary = summary
	s.Error = errMsg
	return nil
}

func (r *memScanRepo) ListStuck(_ context.Context, cutoff time.Time) ([]*scan.Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stuck []*scan.Scan
	for _, s := range r.scans {
		if s.Status == scan.StatusRunning && s.StartedAt != nil && s.StartedAt.Before(cutoff) {
			stuck = append(stuck, s)
		}
	}
	return stuck, nil
}

type memEnqueuer struct {
	enqueued []*scan.Scan
	err      error
}

func (e *memEnqueuer) EnqueueScan(_ context.Context, sc *scan.Scan) error {
	if e.err != nil {
		return e.err
	}
	e.enqueued = append(e.enqueued, sc)
	return nil
}

func TestScanServiceTrigger(t *testing.T) {
	repo := newMemScanRepo()
	enq := &memEnqueuer{}
	svc := NewScanService(repo, enq, logger.NewNop())

	sc, err := svc.Trigger(context.Background(), TriggerInput{
		ProjectID:    shared.NewID(),
		UserID:       shared.NewID(),
		Kind:         scan.KindInitial,
		RepoFullName: "acme/api",
		Branch:       "main",
	})
	require.NoError(t, err)
	assert.Equal(t, scan.StatusQueued, sc.Status)

	stored, err := repo.GetByID(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusQueued, stored.Status)
	require.Len(t, enq.enqueued, 1)
	assert.Equal(t, sc.ID, enq.enqueued[0].ID)
}

func TestScanServiceTriggerCommitRequiresSHA(t *testing.T) {
	svc := NewScanService(newMemScanRepo(), &memEnqueuer{}, logger.NewNop())

	_, err := svc.Trigger(context.Background(), TriggerInput{
		ProjectID:    shared.NewID(),
		UserID:       shared.NewID(),
		Kind:         scan.KindCommit,
		RepoFullName: "acme/api",
		Branch:       "main",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestScanServiceTriggerEnqueueFailure(t *testing.T) {
	repo := newMemScanRepo()
	enq := &memEnqueuer{err: errors.New("redis down")}
	svc := NewScanService(repo, enq, logger.NewNop())

	_, err := svc.Trigger(context.Background(), TriggerInput{
		ProjectID:    shared.NewID(),
		UserID:       shared.NewID(),
		Kind:         scan.KindInitial,
		RepoFullName: "acme/api",
		Branch:       "main",
	})
	require.Error(t, err)
}

func TestRecoverySweep(t *testing.T) {
	repo := newMemScanRepo()

	stale, err := scan.New(shared.NewID(), shared.NewID(), scan.KindInitial, "acme/old", "main")
	require.NoError(t, err)
	require.NoError(t, stale.Start())
	past := time.Now().UTC().Add(-2 * time.Hour)
	stale.StartedAt = &past
	require.NoError(t, repo.Create(context.Background(), stale))

	fresh, err := scan.New(shared.NewID(), shared.NewID(), scan.KindInitial, "acme/new", "main")
	require.NoError(t, err)
	require.NoError(t, fresh.Start())
	require.NoError(t, repo.Create(context.Background(), fresh))

	sweeper := NewRecoverySweeper(repo, time.Hour, time.Minute, logger.NewNop())
	sweeper.Sweep(context.Background())

	got, _ := repo.GetByID(context.Background(), stale.ID)
	assert.Equal(t, scan.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "abandoned")

	got, _ = repo.GetByID(context.Background(), fresh.ID)
	assert.Equal(t, scan.StatusRunning, got.Status)
}
