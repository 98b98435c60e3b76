package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edubatch/admission-api/internal/models"
)

// CouponRepository reads coupons and maintains the append-only usage
// ledger. Ledger writes always run inside the orchestrator's transaction so
// a usage row can never outlive a failed registration.
type CouponRepository struct {
	db *sqlx.DB
}

// NewCouponRepository constructs the repository.
func NewCouponRepository(db *sqlx.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindForUpdateWithTx loads a coupon under a row lock. Codes are stored
// upper-cased and matched case-insensitively. The lock serialises
// concurrent consumers so usage counts read afterwards are stable until
// commit.
func (r *CouponRepository) FindForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, code string) (*models.Coupon, error) {
	const query = `SELECT code, discount_id, usage_limit_total, usage_limit_per_student, active, created_at
        FROM coupons WHERE code = $1 FOR UPDATE`
	var coupon models.Coupon
	if err := tx.GetContext(ctx, &coupon, query, strings.ToUpper(code)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}
	return &coupon, nil
}

// CountTotalWithTx returns the coupon's total consumption count.
func (r *CouponRepository) CountTotalWithTx(ctx context.Context, tx *sqlx.Tx, code string) (int, error) {
	const query = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_code = $1`
	var count int
	if err := tx.GetContext(ctx, &count, query, code); err != nil {
		return 0, fmt.Errorf("count coupon usage: %w", err)
	}
	return count, nil
}

// CountByStudentWithTx returns how often the student has consumed the coupon.
func (r *CouponRepository) CountByStudentWithTx(ctx context.Context, tx *sqlx.Tx, code, studentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_code = $1 AND student_id = $2`
	var count int
	if err := tx.GetContext(ctx, &count, query, code, studentID); err != nil {
		return 0, fmt.Errorf("count coupon usage by student: %w", err)
	}
	return count, nil
}

// AppendWithTx records one consumption. Usage rows are never updated or
// deleted.
func (r *CouponRepository) AppendWithTx(ctx context.Context, tx *sqlx.Tx, usage *models.CouponUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}
	const query = `INSERT INTO coupon_usages (id, coupon_code, student_id, registration_id, used_at)
        VALUES (:id, :coupon_code, :student_id, :registration_id, :used_at)`
	if _, err := tx.NamedExecContext(ctx, query, usage); err != nil {
		return fmt.Errorf("append coupon usage: %w", err)
	}
	return nil
}
