package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/edubatch/admission-api/internal/models"
)

// BatchRepository handles reads of course batches. Batches are administered
// outside the engine; nothing here mutates them.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository constructs the repository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, course_id, name, capacity, fee, active, enroll_start, enroll_end, created_at`

// FindByID returns a batch by identifier.
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*models.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches WHERE id = $1`, batchColumns)
	var batch models.Batch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find batch by id: %w", err)
	}
	return &batch, nil
}

// FindForAdmissionWithTx loads a batch under a row lock. The lock serialises
// concurrent admission attempts against the same batch so the capacity
// re-count that follows cannot race with another insert.
func (r *BatchRepository) FindForAdmissionWithTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches WHERE id = $1 FOR UPDATE`, batchColumns)
	var batch models.Batch
	if err := tx.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock batch for admission: %w", err)
	}
	return &batch, nil
}

// ListAvailability returns batches joined with their course name and live
// active-registration counts for the catalog read side.
func (r *BatchRepository) ListAvailability(ctx context.Context, filter models.BatchFilter) ([]models.BatchAvailability, int, error) {
	base := `FROM batches b
JOIN courses c ON c.id = b.course_id
LEFT JOIN LATERAL (
    SELECT COUNT(*) AS active_count FROM registrations r
    WHERE r.batch_id = b.id AND r.status IN ('RESERVED','CONFIRMED')
) ac ON TRUE`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("b.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.OpenOnly {
		conditions = append(conditions, "b.active", "b.enroll_start <= NOW()", "b.enroll_end > NOW()", "ac.active_count < b.capacity")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT b.id, b.course_id, b.name, b.capacity, b.fee, b.active, b.enroll_start, b.enroll_end, b.created_at,
        c.name AS course_name, ac.active_count, b.capacity - ac.active_count AS remaining_seats
        %s ORDER BY b.enroll_start LIMIT %d OFFSET %d`, base+clause, size, offset)

	var batches []models.BatchAvailability
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list batch availability: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}
	return batches, total, nil
}
