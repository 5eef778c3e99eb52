package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/healthmate/internal/domain/reports"
)

const reportColumns = `id, user_id, report_type, url, status, analysis, failure_reason, version, created_at, updated_at`

type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*domain.Report, error) {
	var r domain.Report
	var userID sql.NullString
	if err := row.Scan(
		&r.ID, &userID, &r.ReportType, &r.URL, &r.Status, &r.Analysis, &r.FailureReason,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.UserID = stringPtr(userID)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// Create inserts a new report in the processing state
func (r *ReportRepository) Create(ctx context.Context, in domain.CreateInput) (*domain.Report, error) {
	rep, err := domain.New(domain.ReportID(uuid.NewString()), in, now())
	if err != nil {
		return nil, err
	}

	const q = `
INSERT INTO reports
  (id, user_id, report_type, url, status, analysis, failure_reason, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);
`
	_, err = r.db.ExecContext(ctx, q,
		rep.ID, nullString(rep.UserID), rep.ReportType, rep.URL, rep.Status,
		rep.Analysis, rep.FailureReason, rep.Version, rep.CreatedAt, rep.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return rep, nil
}

// FindByID returns the report or ErrNotFound
func (r *ReportRepository) FindByID(ctx context.Context, id domain.ReportID) (*domain.Report, error) {
	// ids outside uuid syntax would make postgres raise instead of returning no rows
	if _, err := uuid.Parse(string(id)); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	q := `SELECT ` + reportColumns + ` FROM reports WHERE id=$1 LIMIT 1;`
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	return rep, nil
}

// Update applies the patch when the stored version still matches (compare-and-swap).
func (r *ReportRepository) Update(ctx context.Context, id domain.ReportID, expectedVersion int64, p domain.Patch) (*domain.Report, error) {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", domain.ErrVersionConflict, id, current.Version, expectedVersion)
	}
	next, err := current.Apply(p, now())
	if err != nil {
		return nil, err
	}

	const q = `
UPDATE reports
SET status=$1, analysis=$2, failure_reason=$3, version=$4, updated_at=$5
WHERE id=$6 AND version=$7;
`
	res, err := r.db.ExecContext(ctx, q,
		next.Status, next.Analysis, next.FailureReason, next.Version, next.UpdatedAt,
		id, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrVersionConflict, id)
	}
	return next, nil
}

// LatestByUser returns the user's newest reports
func (r *ReportRepository) LatestByUser(ctx context.Context, userID string, limit int) ([]*domain.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + reportColumns + ` FROM reports WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Report{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}
