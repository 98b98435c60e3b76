package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubatch/admission-api/internal/models"
)

func TestCouponFindForUpdateUppercasesCode(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCouponRepository(db)
	tx := beginTx(t, db, mock)

	limit := 100
	rows := sqlmock.NewRows([]string{"code", "discount_id", "usage_limit_total", "usage_limit_per_student", "active", "created_at"}).
		AddRow("WELCOME10", "disc-1", limit, nil, true, time.Now().UTC())

	mock.ExpectQuery(`(?s)SELECT code, discount_id, .+ FROM coupons WHERE code = \$1 FOR UPDATE`).
		WithArgs("WELCOME10").
		WillReturnRows(rows)

	coupon, err := repo.FindForUpdateWithTx(context.Background(), tx, "welcome10")
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", coupon.Code)
	require.NotNil(t, coupon.UsageLimitTotal)
	assert.Equal(t, 100, *coupon.UsageLimitTotal)
	assert.Nil(t, coupon.UsageLimitPerStudent)
}

func TestCouponFindForUpdateNotFound(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCouponRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectQuery(`(?s)SELECT code, discount_id, .+ FROM coupons`).
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindForUpdateWithTx(context.Background(), tx, "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCouponUsageCounts(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCouponRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM coupon_usages WHERE coupon_code = $1`)).
		WithArgs("WELCOME10").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	total, err := repo.CountTotalWithTx(context.Background(), tx, "WELCOME10")
	require.NoError(t, err)
	assert.Equal(t, 42, total)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM coupon_usages WHERE coupon_code = $1 AND student_id = $2`)).
		WithArgs("WELCOME10", "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	used, err := repo.CountByStudentWithTx(context.Background(), tx, "WELCOME10", "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestCouponAppendDefaultsIDAndTimestamp(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCouponRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectExec(`INSERT INTO coupon_usages`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	usage := &models.CouponUsage{CouponCode: "WELCOME10", StudentID: "student-1", RegistrationID: "reg-1"}
	require.NoError(t, repo.AppendWithTx(context.Background(), tx, usage))
	assert.NotEmpty(t, usage.ID)
	assert.False(t, usage.UsedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
