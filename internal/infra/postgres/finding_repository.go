package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/repohawk/scanner/pkg/domain/finding"
	"github.com/repohawk/scanner/pkg/domain/shared"
)

// FindingRepository implements finding.Repository using PostgreSQL.
type FindingRepository struct {
	db *DB
}

var _ finding.Repository = (*FindingRepository)(nil)

// NewFindingRepository creates a new FindingRepository.
func NewFindingRepository(db *DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// CreateBatch persists all findings from one scan in a single transaction.
// Either the whole batch lands or none of it does; a scan never leaves a
// partial finding set behind. Anything already stored for the scan is
// replaced first: a job redelivered after the batch committed but before
// the scan reached a terminal state re-runs the whole pipeline, and the
// second batch must not stack on the first.
func (r *FindingRepository) CreateBatch(ctx context.Context, findings []finding.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM findings WHERE scan_id = $1", findings[0].ScanID.String(),
		); err != nil {
			return fmt.Errorf("failed to clear previous findings: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO findings (
				id, scan_id, project_id, fingerprint,
				severity, type, title, description,
				file_path, start_line, end_line,
				cwe_id, cve_id, cvss_score, cvss_vector,
				tool, rule_id, confidence, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare finding insert: %w", err)
		}
		defer stmt.Close()

		for i := range findings {
			f := &findings[i]
			_, err := stmt.ExecContext(ctx,
				f.ID.String(),
				f.ScanID.String(),
				f.ProjectID.String(),
				f.Fingerprint(),
				string(f.Severity),
				string(f.Type),
				f.Title,
				f.Description,
				nullString(f.FilePath),
				f.StartLine,
				f.EndLine,
				nullString(f.CWEID),
				nullString(f.CVEID),
				nullFloat64(f.CVSSScore),
				nullString(f.CVSSVector),
				f.Tool,
				nullString(f.RuleID),
				nullFloat64(f.Confidence),
				f.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert finding %s: %w", f.ID, err)
			}
		}
		return nil
	})
}

// ListByScan returns the findings persisted for a scan, most severe first.
func (r *FindingRepository) ListByScan(ctx context.Context, scanID shared.ID) ([]finding.Finding, error) {
	query := r.selectQuery() + `
		WHERE scan_id = $1
		ORDER BY array_position(ARRAY['critical','high','medium','low','info'], severity), created_at
	`
	rows, err := r.db.QueryContext(ctx, query, scanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []finding.Finding
	for rows.Next() {
		f, err := r.findingFromRow(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, *f)
	}
	return findings, rows.Err()
}

// GetByID returns a single finding.
func (r *FindingRepository) GetByID(ctx context.Context, id shared.ID) (*finding.Finding, error) {
	query := r.selectQuery() + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())
	return r.findingFromRow(row)
}

func (r *FindingRepository) selectQuery() string {
	return `
		SELECT id, scan_id, project_id,
			severity, type, title, description,
			file_path, start_line, end_line,
			cwe_id, cve_id, cvss_score, cvss_vector,
			tool, rule_id, confidence, created_at
		FROM findings
	`
}

func (r *FindingRepository) findingFromRow(row rowScanner) (*finding.Finding, error) {
	var (
		f                          finding.Finding
		idStr, scanStr, projectStr string
		severity, typ              string
		filePath, cweID, cveID     sql.NullString
		cvssVector, ruleID         sql.NullString
		cvssScore, confidence      sql.NullFloat64
	)

	err := row.Scan(
		&idStr, &scanStr, &projectStr,
		&severity, &typ, &f.Title, &f.Description,
		&filePath, &f.StartLine, &f.EndLine,
		&cweID, &cveID, &cvssScore, &cvssVector,
		&f.Tool, &ruleID, &confidence, &f.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "finding not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan finding row: %w", err)
	}

	if f.ID, err = shared.IDFromString(idStr); err != nil {
		return nil, fmt.Errorf("invalid finding id: %w", err)
	}
	if f.ScanID, err = shared.IDFromString(scanStr); err != nil {
		return nil, fmt.Errorf("invalid scan id: %w", err)
	}
	if f.ProjectID, err = shared.IDFromString(projectStr); err != nil {
		return nil, fmt.Errorf("invalid project id: %w", err)
	}

	f.Severity = finding.Severity(severity)
	f.Type = finding.Type(typ)
	f.FilePath = nullStringValue(filePath)
	f.CWEID = nullStringValue(cweID)
	f.CVEID = nullStringValue(cveID)
	f.CVSSVector = nullStringValue(cvssVector)
	f.RuleID = nullStringValue(ruleID)
	f.CVSSScore = nullFloat64Value(cvssScore)
	f.Confidence = nullFloat64Value(confidence)

	return &f, nil
}
