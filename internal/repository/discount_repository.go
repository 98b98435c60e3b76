package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/edubatch/admission-api/internal/models"
)

// DiscountRepository reads discount programs and their targeted
// assignments. Both are administered outside the engine.
type DiscountRepository struct {
	db *sqlx.DB
}

// NewDiscountRepository constructs the repository.
func NewDiscountRepository(db *sqlx.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// FindByID returns a discount by identifier.
func (r *DiscountRepository) FindByID(ctx context.Context, id string) (*models.Discount, error) {
	const query = `SELECT id, name, kind, value_type, value, max_discount_amount, min_base_fee, valid_from, valid_to, active, config
        FROM discounts WHERE id = $1`
	var discount models.Discount
	if err := r.db.GetContext(ctx, &discount, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find discount by id: %w", err)
	}
	return &discount, nil
}

// ListAssignments returns the assignments that could target this
// registration context: the student directly, the batch, or the course.
// Validity windows are checked by the evaluator, not here.
func (r *DiscountRepository) ListAssignments(ctx context.Context, discountID, studentID, batchID, courseID string) ([]models.DiscountAssignment, error) {
	const query = `SELECT id, discount_id, target_type, target_id, valid_from, valid_to FROM discount_assignments
        WHERE discount_id = $1 AND (
            (target_type = 'STUDENT' AND target_id = $2) OR
            (target_type = 'BATCH' AND target_id = $3) OR
            (target_type = 'COURSE' AND target_id = $4)
        )`
	var assignments []models.DiscountAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, discountID, studentID, batchID, courseID); err != nil {
		return nil, fmt.Errorf("list discount assignments: %w", err)
	}
	return assignments, nil
}
