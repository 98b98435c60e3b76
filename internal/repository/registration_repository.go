package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edubatch/admission-api/internal/models"
	appErrors "github.com/edubatch/admission-api/pkg/errors"
)

// uniqueViolation is the Postgres error code for unique_violation.
const uniqueViolation = "23505"

// activeStudentConstraint is the partial unique index over (student_id)
// restricted to RESERVED/CONFIRMED rows. It is the storage-level backstop
// for "at most one active registration per student": two attempts that both
// pass the in-process check cannot both commit.
const activeStudentConstraint = "uq_registrations_active_student"

// RegistrationRepository handles persistence of registrations.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `id, student_id, batch_id, course_id, status, base_fee, discount_amount, final_payable, coupon_code, payment_ref, created_at, updated_at`

// HasActiveByStudentWithTx probes the global per-student uniqueness rule.
func (r *RegistrationRepository) HasActiveByStudentWithTx(ctx context.Context, tx *sqlx.Tx, studentID string) (bool, error) {
	const query = `SELECT 1 FROM registrations WHERE student_id = $1 AND status IN ('RESERVED','CONFIRMED') LIMIT 1`
	var exists int
	if err := tx.GetContext(ctx, &exists, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active registration: %w", err)
	}
	return true, nil
}

// CountActiveByBatchWithTx re-counts active registrations for a batch. The
// caller holds the batch row lock, so the count cannot be invalidated by a
// concurrent admission before this transaction commits.
func (r *RegistrationRepository) CountActiveByBatchWithTx(ctx context.Context, tx *sqlx.Tx, batchID string) (int, error) {
	const query = `SELECT COUNT(*) FROM registrations WHERE batch_id = $1 AND status IN ('RESERVED','CONFIRMED')`
	var count int
	if err := tx.GetContext(ctx, &count, query, batchID); err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return count, nil
}

// CreateWithTx inserts a registration. A unique violation on the active
// student index means this attempt lost a race it had already passed in
// process, so it maps to the retryable conflict error rather than the
// pre-checked duplicate error.
func (r *RegistrationRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, registration *models.Registration) error {
	const query = `INSERT INTO registrations (id, student_id, batch_id, course_id, status, base_fee, discount_amount, final_payable, coupon_code, payment_ref, created_at, updated_at)
        VALUES (:id, :student_id, :batch_id, :course_id, :status, :base_fee, :discount_amount, :final_payable, :coupon_code, :payment_ref, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, registration); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == activeStudentConstraint {
			return appErrors.Wrap(err, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message)
		}
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

// FindByIDForUpdateWithTx loads a registration under a row lock for status
// transitions.
func (r *RegistrationRepository) FindByIDForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE id = $1 FOR UPDATE`, registrationColumns)
	var registration models.Registration
	if err := tx.GetContext(ctx, &registration, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock registration: %w", err)
	}
	return &registration, nil
}

// UpdateStatusWithTx persists the outcome of a checked transition.
func (r *RegistrationRepository) UpdateStatusWithTx(ctx context.Context, tx *sqlx.Tx, registration *models.Registration) error {
	const query = `UPDATE registrations SET status = $2, payment_ref = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, registration.ID, registration.Status, registration.PaymentRef, registration.UpdatedAt); err != nil {
		return fmt.Errorf("update registration status: %w", err)
	}
	return nil
}

// FindByID returns a registration by identifier.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE id = $1`, registrationColumns)
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find registration by id: %w", err)
	}
	return &registration, nil
}

// FindDetailByID returns a registration with student and batch context.
func (r *RegistrationRepository) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	const query = `SELECT r.id, r.student_id, r.batch_id, r.course_id, r.status, r.base_fee, r.discount_amount, r.final_payable, r.coupon_code, r.payment_ref, r.created_at, r.updated_at,
        s.email AS student_email, s.full_name AS student_name, b.name AS batch_name, c.name AS course_name
        FROM registrations r
        JOIN students s ON s.id = r.student_id
        JOIN batches b ON b.id = r.batch_id
        JOIN courses c ON c.id = r.course_id
        WHERE r.id = $1`
	var detail models.RegistrationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find registration detail: %w", err)
	}
	return &detail, nil
}

// ListByStudent returns all registrations for a student, newest first.
func (r *RegistrationRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE student_id = $1 ORDER BY created_at DESC`, registrationColumns)
	var registrations []models.Registration
	if err := r.db.SelectContext(ctx, &registrations, query, studentID); err != nil {
		return nil, fmt.Errorf("list student registrations: %w", err)
	}
	return registrations, nil
}

// CountByStudentWithStatuses counts the student's registrations in the
// given statuses. Loyalty eligibility reads completed counts through this.
func (r *RegistrationRepository) CountByStudentWithStatuses(ctx context.Context, studentID string, statuses []models.RegistrationStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM registrations WHERE student_id = $1 AND status = ANY($2)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, pq.Array(statusStrings(statuses))); err != nil {
		return 0, fmt.Errorf("count registrations by status: %w", err)
	}
	return count, nil
}

// CountDistinctBatches counts how many of the given batches the student
// holds a registration for in the given statuses. Combo eligibility
// compares this against the required-batch set size.
func (r *RegistrationRepository) CountDistinctBatches(ctx context.Context, studentID string, batchIDs []string, statuses []models.RegistrationStatus) (int, error) {
	const query = `SELECT COUNT(DISTINCT batch_id) FROM registrations WHERE student_id = $1 AND batch_id = ANY($2) AND status = ANY($3)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, pq.Array(batchIDs), pq.Array(statusStrings(statuses))); err != nil {
		return 0, fmt.Errorf("count distinct batches: %w", err)
	}
	return count, nil
}

func statusStrings(statuses []models.RegistrationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
