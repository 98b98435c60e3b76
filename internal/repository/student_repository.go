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

// StudentRepository handles persistence of students.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// UpsertByEmailWithTx resolves a student by email inside the caller's
// transaction. Absent students are created; present ones get their mutable
// fields (name, phone) refreshed without touching history. Emails are
// stored lowercased so the unique index matches case-insensitively.
func (r *StudentRepository) UpsertByEmailWithTx(ctx context.Context, tx *sqlx.Tx, email, fullName, phone string) (*models.Student, error) {
	const query = `INSERT INTO students (id, email, full_name, phone, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (email) DO UPDATE SET full_name = EXCLUDED.full_name, phone = EXCLUDED.phone, updated_at = EXCLUDED.updated_at
        RETURNING id, email, full_name, phone, created_at, updated_at`
	var student models.Student
	now := time.Now().UTC()
	if err := tx.GetContext(ctx, &student, query, uuid.NewString(), strings.ToLower(email), fullName, phone, now); err != nil {
		return nil, fmt.Errorf("upsert student: %w", err)
	}
	return &student, nil
}

// FindByID returns a student by identifier.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, email, full_name, phone, created_at, updated_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student by id: %w", err)
	}
	return &student, nil
}

// FindByEmail returns a student by email, matched case-insensitively.
func (r *StudentRepository) FindByEmail(ctx context.Context, email string) (*models.Student, error) {
	const query = `SELECT id, email, full_name, phone, created_at, updated_at FROM students WHERE email = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, strings.ToLower(email)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student by email: %w", err)
	}
	return &student, nil
}
