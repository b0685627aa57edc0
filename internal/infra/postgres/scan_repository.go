package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/repohawk/scanner/pkg/domain/scan"
	"github.com/repohawk/scanner/pkg/domain/shared"
)

// ScanRepository implements scan.Repository using PostgreSQL.
type ScanRepository struct {
	db *DB
}

var _ scan.Repository = (*ScanRepository)(nil)

// NewScanRepository creates a new ScanRepository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create persists a new scan record.
func (r *ScanRepository) Create(ctx context.Context, s *scan.Scan) error {
	query := `
		INSERT INTO scans (
			id, project_id, user_id, kind,
			repo_full_name, branch, commit_sha, installation_id,
			status, error, summary,
			created_at, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	summary, err := marshalSummary(s.Summary)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		s.ID.String(),
		s.ProjectID.String(),
		s.UserID.String(),
		string(s.Kind),
		s.RepoFullName,
		s.Branch,
		nullString(s.CommitSHA),
		nullInt64(s.InstallationID),
		string(s.Status),
		nullString(s.Error),
		summary,
		s.CreatedAt,
		nullTime(s.StartedAt),
		nullTime(s.FinishedAt),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("ALREADY_EXISTS", "scan already exists", shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create scan: %w", err)
	}

	return nil
}

// GetByID retrieves a scan by ID.
func (r *ScanRepository) GetByID(ctx context.Context, id shared.ID) (*scan.Scan, error) {
	query := r.selectQuery() + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())
	return r.scanFromRow(row)
}

// Exists reports whether the scan record still exists.
func (r *ScanRepository) Exists(ctx context.Context, id shared.ID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM scans WHERE id = $1)", id.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check scan existence: %w", err)
	}
	return exists, nil
}

// UpdateStatus persists a lifecycle transition. Timestamps follow the
// status: started_at is set on running, finished_at on terminal states.
func (r *ScanRepository) UpdateStatus(ctx context.Context, id shared.ID, status scan.Status, summary *scan.Summary, errMsg string) error {
	summaryJSON, err := marshalSummary(summary)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var startedAt, finishedAt sql.NullTime
	switch {
	case status == scan.StatusRunning:
		startedAt = sql.NullTime{Time: now, Valid: true}
	case status.IsTerminal():
		finishedAt = sql.NullTime{Time: now, Valid: true}
	}

	query := `
		UPDATE scans SET
			status = $2,
			summary = COALESCE($3, summary),
			error = COALESCE(NULLIF($4, ''), error),
			started_at = COALESCE($5, started_at),
			finished_at = COALESCE($6, finished_at)
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		id.String(), string(status), summaryJSON, errMsg, startedAt, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update scan status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}
	return nil
}

// ListStuck returns scans running since before the cutoff.
func (r *ScanRepository) ListStuck(ctx context.Context, cutoff time.Time) ([]*scan.Scan, error) {
	query := r.selectQuery() + " WHERE status = $1 AND started_at < $2 ORDER BY started_at"
	rows, err := r.db.QueryContext(ctx, query, string(scan.StatusRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck scans: %w", err)
	}
	defer rows.Close()

	var scans []*scan.Scan
	for rows.Next() {
		s, err := r.scanFromRows(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

func (r *ScanRepository) selectQuery() string {
	return `
		SELECT id, project_id, user_id, kind,
			repo_full_name, branch, commit_sha, installation_id,
			status, error, summary,
			created_at, started_at, finished_at
		FROM scans
	`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ScanRepository) scanFromRow(row rowScanner) (*scan.Scan, error) {
	var (
		s                          scan.Scan
		idStr, projectStr, userStr string
		kind, status               string
		commitSHA, errMsg          sql.NullString
		installationID             sql.NullInt64
		summaryJSON                []byte
		startedAt, finishedAt      sql.NullTime
	)

	err := row.Scan(
		&idStr, &projectStr, &userStr, &kind,
		&s.RepoFullName, &s.Branch, &commitSHA, &installationID,
		&status, &errMsg, &summaryJSON,
		&s.CreatedAt, &startedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	if s.ID, err = shared.IDFromString(idStr); err != nil {
		return nil, fmt.Errorf("invalid scan id: %w", err)
	}
	if s.ProjectID, err = shared.IDFromString(projectStr); err != nil {
		return nil, fmt.Errorf("invalid project id: %w", err)
	}
	if s.UserID, err = shared.IDFromString(userStr); err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	s.Kind = scan.Kind(kind)
	s.Status = scan.Status(status)
	s.CommitSHA = nullStringValue(commitSHA)
	s.Error = nullStringValue(errMsg)
	s.InstallationID = nullInt64Value(installationID)
	s.StartedAt = nullTimeValue(startedAt)
	s.FinishedAt = nullTimeValue(finishedAt)

	if len(summaryJSON) > 0 {
		var summary scan.Summary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scan summary: %w", err)
		}
		s.Summary = &summary
	}

	return &s, nil
}

func (r *ScanRepository) scanFromRows(rows *sql.Rows) (*scan.Scan, error) {
	return r.scanFromRow(rows)
}

func marshalSummary(s *scan.Summary) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan summary: %w", err)
	}
	return b, nil
}
