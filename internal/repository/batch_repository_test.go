package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubatch/admission-api/internal/models"
)

func batchColumnsRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "course_id", "name", "capacity", "fee", "active", "enroll_start", "enroll_end", "created_at"}).
		AddRow("batch-1", "course-1", "Evening Cohort", 30, "1000", true, now.Add(-time.Hour), now.Add(time.Hour), now)
}

func TestBatchFindForAdmissionLocksRow(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewBatchRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectQuery(`SELECT .+ FROM batches WHERE id = \$1 FOR UPDATE`).
		WithArgs("batch-1").
		WillReturnRows(batchColumnsRows())

	batch, err := repo.FindForAdmissionWithTx(context.Background(), tx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 30, batch.Capacity)
	assert.True(t, batch.Active)
}

func TestBatchListAvailability(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewBatchRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "course_id", "name", "capacity", "fee", "active", "enroll_start", "enroll_end", "created_at", "course_name", "active_count", "remaining_seats"}).
		AddRow("batch-1", "course-1", "Evening Cohort", 30, "1000", true, now.Add(-time.Hour), now.Add(time.Hour), now, "Go Fundamentals", 12, 18)

	mock.ExpectQuery(`(?s)SELECT b\.id, .+ LEFT JOIN LATERAL`).
		WithArgs("course-1").
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batches`).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	batches, total, err := repo.ListAvailability(context.Background(), models.BatchFilter{CourseID: "course-1", Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, batches, 1)
	assert.Equal(t, "Go Fundamentals", batches[0].CourseName)
	assert.Equal(t, 18, batches[0].RemainingSeats)
	assert.NoError(t, mock.ExpectationsWereMet())
}
