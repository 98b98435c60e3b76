package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubatch/admission-api/internal/models"
	appErrors "github.com/edubatch/admission-api/pkg/errors"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	t.Cleanup(func() { db.Close() })
	return sqlxDB, mock
}

func beginTx(t *testing.T, db *sqlx.DB, mock sqlmock.Sqlmock) *sqlx.Tx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	return tx
}

func registrationRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "student_id", "batch_id", "course_id", "status", "base_fee", "discount_amount", "final_payable", "coupon_code", "payment_ref", "created_at", "updated_at"}).
		AddRow("reg-1", "student-1", "batch-1", "course-1", "RESERVED", "1000", "100", "900", nil, nil, now, now)
}

func TestHasActiveByStudentWithTx(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM registrations WHERE student_id = $1 AND status IN ('RESERVED','CONFIRMED') LIMIT 1`)).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	active, err := repo.HasActiveByStudentWithTx(context.Background(), tx, "student-1")
	require.NoError(t, err)
	assert.True(t, active)

	mock.ExpectQuery(`SELECT 1 FROM registrations`).
		WithArgs("student-2").
		WillReturnError(sql.ErrNoRows)

	active, err = repo.HasActiveByStudentWithTx(context.Background(), tx, "student-2")
	require.NoError(t, err)
	assert.False(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActiveByBatchWithTx(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM registrations WHERE batch_id = $1 AND status IN ('RESERVED','CONFIRMED')`)).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountActiveByBatchWithTx(context.Background(), tx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestCreateWithTxMapsUniqueViolation(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectExec(`INSERT INTO registrations`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_registrations_active_student"})

	now := time.Now().UTC()
	batch := &models.Batch{ID: "batch-1", CourseID: "course-1", Fee: decimal.NewFromInt(1000)}
	err := repo.CreateWithTx(context.Background(), tx, models.NewRegistration("reg-1", "student-1", batch, decimal.Zero, nil, now))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConcurrencyConflict.Code, appErrors.FromError(err).Code)
}

func TestCreateWithTxPassesOtherErrors(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectExec(`INSERT INTO registrations`).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "fk_registrations_batch"})

	now := time.Now().UTC()
	batch := &models.Batch{ID: "batch-1", CourseID: "course-1", Fee: decimal.NewFromInt(1000)}
	err := repo.CreateWithTx(context.Background(), tx, models.NewRegistration("reg-1", "student-1", batch, decimal.Zero, nil, now))
	require.Error(t, err)
	assert.NotEqual(t, appErrors.ErrConcurrencyConflict.Code, appErrors.FromError(err).Code)
}

func TestCreateWithTxInserts(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectExec(`INSERT INTO registrations`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now().UTC()
	batch := &models.Batch{ID: "batch-1", CourseID: "course-1", Fee: decimal.NewFromInt(1000)}
	require.NoError(t, repo.CreateWithTx(context.Background(), tx, models.NewRegistration("reg-1", "student-1", batch, decimal.NewFromInt(100), nil, now)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDForUpdateWithTx(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectQuery(`SELECT .+ FROM registrations WHERE id = \$1 FOR UPDATE`).
		WithArgs("reg-1").
		WillReturnRows(registrationRows())

	reg, err := repo.FindByIDForUpdateWithTx(context.Background(), tx, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusReserved, reg.Status)
	assert.True(t, reg.FinalPayable.Equal(decimal.NewFromInt(900)))
}

func TestUpdateStatusWithTx(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)
	tx := beginTx(t, db, mock)

	now := time.Now().UTC()
	paymentRef := "pay-123"
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE registrations SET status = $2, payment_ref = $3, updated_at = $4 WHERE id = $1`)).
		WithArgs("reg-1", models.RegistrationStatusConfirmed, &paymentRef, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	reg := &models.Registration{ID: "reg-1", Status: models.RegistrationStatusConfirmed, PaymentRef: &paymentRef, UpdatedAt: now}
	require.NoError(t, repo.UpdateStatusWithTx(context.Background(), tx, reg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDetailByID(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "batch_id", "course_id", "status", "base_fee", "discount_amount", "final_payable", "coupon_code", "payment_ref", "created_at", "updated_at", "student_email", "student_name", "batch_name", "course_name"}).
		AddRow("reg-1", "student-1", "batch-1", "course-1", "CONFIRMED", "1000", "0", "1000", nil, "pay-1", now, now, "jo@example.com", "Jo", "Evening Cohort", "Go Fundamentals")

	mock.ExpectQuery(`(?s)SELECT r\.id, .+ FROM registrations r`).
		WithArgs("reg-1").
		WillReturnRows(rows)

	detail, err := repo.FindDetailByID(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.Equal(t, "jo@example.com", detail.StudentEmail)
	assert.Equal(t, "Go Fundamentals", detail.CourseName)
}

func TestCountByStudentWithStatuses(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM registrations WHERE student_id = $1 AND status = ANY($2)`)).
		WithArgs("student-1", pq.Array([]string{"COMPLETED"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountByStudentWithStatuses(context.Background(), "student-1", []models.RegistrationStatus{models.RegistrationStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCountDistinctBatches(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(DISTINCT batch_id) FROM registrations WHERE student_id = $1 AND batch_id = ANY($2) AND status = ANY($3)`)).
		WithArgs("student-1", pq.Array([]string{"batch-a", "batch-b"}), pq.Array([]string{"COMPLETED", "CONFIRMED"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountDistinctBatches(context.Background(), "student-1", []string{"batch-a", "batch-b"},
		[]models.RegistrationStatus{models.RegistrationStatusCompleted, models.RegistrationStatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
