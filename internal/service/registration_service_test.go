package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edubatch/admission-api/internal/models"
	appErrors "github.com/edubatch/admission-api/pkg/errors"
)

type studentStoreStub struct {
	student *models.Student
	err     error
}

func (s *studentStoreStub) UpsertByEmailWithTx(ctx context.Context, tx *sqlx.Tx, email, fullName, phone string) (*models.Student, error) {
	return s.student, s.err
}

type batchStoreStub struct {
	batch *models.Batch
	err   error
}

func (b *batchStoreStub) FindForAdmissionWithTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Batch, error) {
	return b.batch, b.err
}

type registrationStoreStub struct {
	hasActive    bool
	activeCount  int
	createErr    error
	created      *models.Registration
	stored       *models.Registration
	findErr      bool
	updateErr    error
	updated      *models.Registration
	detail       *models.RegistrationDetail
	detailCalled bool
}

func (r *registrationStoreStub) HasActiveByStudentWithTx(ctx context.Context, tx *sqlx.Tx, studentID string) (bool, error) {
	return r.hasActive, nil
}

func (r *registrationStoreStub) CountActiveByBatchWithTx(ctx context.Context, tx *sqlx.Tx, batchID string) (int, error) {
	return r.activeCount, nil
}

func (r *registrationStoreStub) CreateWithTx(ctx context.Context, tx *sqlx.Tx, registration *models.Registration) error {
	r.created = registration
	return r.createErr
}

func (r *registrationStoreStub) FindByIDForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Registration, error) {
	if r.findErr || r.stored == nil {
		return nil, sql.ErrNoRows
	}
	return r.stored, nil
}

func (r *registrationStoreStub) UpdateStatusWithTx(ctx context.Context, tx *sqlx.Tx, registration *models.Registration) error {
	r.updated = registration
	return r.updateErr
}

func (r *registrationStoreStub) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	r.detailCalled = true
	if r.detail != nil {
		return r.detail, nil
	}
	source := r.created
	if source == nil {
		source = r.stored
	}
	if source == nil {
		return nil, sql.ErrNoRows
	}
	return &models.RegistrationDetail{Registration: *source, StudentEmail: "jo@example.com"}, nil
}

type couponLedgerStub struct {
	coupon      *models.Coupon
	findErr     error
	totalUsed   int
	studentUsed int
	appended    *models.CouponUsage
	appendErr   error
	lockedCode  string
}

func (c *couponLedgerStub) FindForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, code string) (*models.Coupon, error) {
	c.lockedCode = code
	if c.findErr != nil {
		return nil, c.findErr
	}
	if c.coupon == nil {
		return nil, sql.ErrNoRows
	}
	return c.coupon, nil
}

func (c *couponLedgerStub) CountTotalWithTx(ctx context.Context, tx *sqlx.Tx, code string) (int, error) {
	return c.totalUsed, nil
}

func (c *couponLedgerStub) CountByStudentWithTx(ctx context.Context, tx *sqlx.Tx, code, studentID string) (int, error) {
	return c.studentUsed, nil
}

func (c *couponLedgerStub) AppendWithTx(ctx context.Context, tx *sqlx.Tx, usage *models.CouponUsage) error {
	c.appended = usage
	return c.appendErr
}

type discountStoreStub struct {
	discount *models.Discount
	err      error
}

func (d *discountStoreStub) FindByID(ctx context.Context, id string) (*models.Discount, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.discount == nil {
		return nil, sql.ErrNoRows
	}
	return d.discount, nil
}

type pipelineStub struct {
	evaluation Evaluation
	err        error
}

func (p *pipelineStub) Evaluate(ctx context.Context, discount *models.Discount, ec EvalContext) (Evaluation, error) {
	return p.evaluation, p.err
}

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (*txProviderMock, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type admissionFixture struct {
	students      *studentStoreStub
	batches       *batchStoreStub
	registrations *registrationStoreStub
	coupons       *couponLedgerStub
	discounts     *discountStoreStub
	pipeline      *pipelineStub
	mock          sqlmock.Sqlmock
	service       *RegistrationService
}

func openBatch() *models.Batch {
	now := time.Now().UTC()
	return &models.Batch{
		ID:          "batch-1",
		CourseID:    "course-1",
		Name:        "Evening Cohort",
		Capacity:    2,
		Fee:         decimal.NewFromInt(1000),
		Active:      true,
		EnrollStart: now.Add(-24 * time.Hour),
		EnrollEnd:   now.Add(24 * time.Hour),
	}
}

func newAdmissionFixture(t *testing.T) *admissionFixture {
	t.Helper()
	tx, mock := newTxProviderMock(t)
	f := &admissionFixture{
		students:      &studentStoreStub{student: &models.Student{ID: "student-1", Email: "jo@example.com", FullName: "Jo"}},
		batches:       &batchStoreStub{batch: openBatch()},
		registrations: &registrationStoreStub{},
		coupons:       &couponLedgerStub{},
		discounts:     &discountStoreStub{},
		pipeline:      &pipelineStub{evaluation: Evaluation{Applicable: true, Amount: decimal.NewFromInt(100)}},
		mock:          mock,
	}
	f.service = NewRegistrationService(
		f.students, f.batches, f.registrations, f.coupons, f.discounts,
		f.pipeline, tx, nil, nil, nil, nil,
	)
	return f
}

func validRequest() RegisterStudentRequest {
	return RegisterStudentRequest{
		Email:    "jo@example.com",
		FullName: "Jo",
		BatchID:  "batch-1",
	}
}

func assertCode(t *testing.T, err error, want *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want.Code, appErrors.FromError(err).Code)
}

func TestCreateRegistrationHappyPath(t *testing.T) {
	f := newAdmissionFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	detail, err := f.service.CreateRegistration(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotNil(t, detail)

	created := f.registrations.created
	require.NotNil(t, created)
	assert.Equal(t, models.RegistrationStatusReserved, created.Status)
	assert.Equal(t, "student-1", created.StudentID)
	assert.True(t, created.BaseFee.Equal(decimal.NewFromInt(1000)))
	assert.True(t, created.DiscountAmount.IsZero())
	assert.True(t, created.FinalPayable.Equal(decimal.NewFromInt(1000)))
	assert.Nil(t, f.coupons.appended)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateRegistrationValidation(t *testing.T) {
	f := newAdmissionFixture(t)

	_, err := f.service.CreateRegistration(context.Background(), RegisterStudentRequest{Email: "not-an-email", FullName: "Jo", BatchID: "batch-1"})
	assertCode(t, err, appErrors.ErrValidation)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateRegistrationDuplicateActive(t *testing.T) {
	f := newAdmissionFixture(t)
	f.registrations.hasActive = true
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.CreateRegistration(context.Background(), validRequest())
	assertCode(t, err, appErrors.ErrDuplicateActiveRegistration)
	assert.Nil(t, f.registrations.created)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateRegistrationBatchNotFound(t *testing.T) {
	f := newAdmissionFixture(t)
	f.batches.batch = nil
	f.batches.err = sql.ErrNoRows
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.CreateRegistration(context.Background(), validRequest())
	assertCode(t, err, appErrors.ErrNotFound)
}

func TestCreateRegistrationBatchInactive(t *testing.T) {
	f := newAdmissionFixture(t)
	f.batches.batch.Active = false
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.CreateRegistration(context.Background(), validRequest())
	assertCode(t, err, appErrors.ErrBatchInactive)
}

func TestCreateRegistrationWindowClosed(t *testing.T) {
	f := newAdmissionFixture(t)
	f.batches.batch.EnrollEnd = time.Now().UTC().Add(-time.Hour)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.CreateRegistration(context.Background(), validRequest())
	assertCode(t, err, appErrors.ErrEnrollmentWindowClosed)
}

func TestCreateRegistrationCapacityExceeded(t *testing.T) {
	f := newAdmissionFixture(t)
	f.registrations.activeCount = 2
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.CreateRegistration(context.Background(), validRequest())
	assertCode(t, err, appErrors.ErrCapacityExceeded)
	assert.Nil(t, f.registrations.created)
}

func TestCreateRegistrationConcurrencyConflictSurfaces(t *testing.T) {
	f := newAdmissionFixture(t)
	f.registrations.createErr = appErrors.Clone(appErrors.ErrConcurrencyConflict, "")
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.CreateRegistration(context.Background(), validRequest())
	assertCode(t, err, appErrors.ErrConcurrencyConflict)
}

func TestCreateRegistrationWithCoupon(t *testing.T) {
	f := newAdmissionFixture(t)
	limit := 10
	f.coupons.coupon = &models.Coupon{Code: "WELCOME10", DiscountID: "disc-1", Active: true, UsageLimitTotal: &limit}
	f.discounts.discount = &models.Discount{ID: "disc-1", Kind: models.DiscountKindGeneric, ValueType: models.DiscountValuePercent, Value: decimal.NewFromInt(10), Active: true}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	req := validRequest()
	req.CouponCode = "WELCOME10"
	detail, err := f.service.CreateRegistration(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, detail)

	created := f.registrations.created
	require.NotNil(t, created)
	assert.True(t, created.DiscountAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, created.FinalPayable.Equal(decimal.NewFromInt(900)))
	require.NotNil(t, created.CouponCode)
	assert.Equal(t, "WELCOME10", *created.CouponCode)

	require.NotNil(t, f.coupons.appended)
	assert.Equal(t, created.ID, f.coupons.appended.RegistrationID)
	assert.Equal(t, "student-1", f.coupons.appended.StudentID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateRegistrationUnknownCoupon(t *testing.T) {
	f := newAdmissionFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	req := validRequest()
	req.CouponCode = "NOPE"
	_, err := f.service.CreateRegistration(context.Background(), req)
	assertCode(t, err, appErrors.ErrCouponInvalid)
	assert.Nil(t, f.registrations.created)
}

func TestCreateRegistrationInactiveCoupon(t *testing.T) {
	f := newAdmissionFixture(t)
	f.coupons.coupon = &models.Coupon{Code: "OLD", DiscountID: "disc-1", Active: false}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	req := validRequest()
	req.CouponCode = "OLD"
	_, err := f.service.CreateRegistration(context.Background(), req)
	assertCode(t, err, appErrors.ErrCouponInvalid)
}

func TestCreateRegistrationExpiredDiscount(t *testing.T) {
	f := newAdmissionFixture(t)
	past := time.Now().UTC().Add(-time.Hour)
	f.coupons.coupon = &models.Coupon{Code: "LATE", DiscountID: "disc-1", Active: true}
	f.discounts.discount = &models.Discount{ID: "disc-1", Kind: models.DiscountKindGeneric, Active: true, ValidTo: &past}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	req := validRequest()
	req.CouponCode = "LATE"
	_, err := f.service.CreateRegistration(context.Background(), req)
	assertCode(t, err, appErrors.ErrCouponInvalid)
}

func TestCreateRegistrationNotApplicableCoupon(t *testing.T) {
	f := newAdmissionFixture(t)
	f.coupons.coupon = &models.Coupon{Code: "COMBO", DiscountID: "disc-1", Active: true}
	f.discounts.discount = &models.Discount{ID: "disc-1", Kind: models.DiscountKindCombo, Active: true}
	f.pipeline.evaluation = Evaluation{Applicable: false, Reason: "student holds 0 of 2 required batches"}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	req := validRequest()
	req.CouponCode = "COMBO"
	_, err := f.service.CreateRegistration(context.Background(), req)
	assertCode(t, err, appErrors.ErrCouponInvalid)
	assert.Contains(t, appErrors.FromError(err).Message, "required batches")
}

func TestCreateRegistrationCouponTotalLimit(t *testing.T) {
	f := newAdmissionFixture(t)
	limit := 5
	f.coupons.coupon = &models.Coupon{Code: "FULL", DiscountID: "disc-1", Active: true, UsageLimitTotal: &limit}
	f.coupons.totalUsed = 5
	f.discounts.discount = &models.Discount{ID: "disc-1", Kind: models.DiscountKindGeneric, ValueType: models.DiscountValueFlat, Value: decimal.NewFromInt(50), Active: true}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	req := validRequest()
	req.CouponCode = "FULL"
	_, err := f.service.CreateRegistration(context.Background(), req)
	assertCode(t, err, appErrors.ErrCouponLimitReached)
	assert.Nil(t, f.coupons.appended)
}

func TestCreateRegistrationCouponPerStudentLimit(t *testing.T) {
	f := newAdmissionFixture(t)
	perStudent := 1
	f.coupons.coupon = &models.Coupon{Code: "ONCE", DiscountID: "disc-1", Active: true, UsageLimitPerStudent: &perStudent}
	f.coupons.studentUsed = 1
	f.discounts.discount = &models.Discount{ID: "disc-1", Kind: models.DiscountKindGeneric, ValueType: models.DiscountValueFlat, Value: decimal.NewFromInt(50), Active: true}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	req := validRequest()
	req.CouponCode = "ONCE"
	_, err := f.service.CreateRegistration(context.Background(), req)
	assertCode(t, err, appErrors.ErrCouponLimitReached)
}

func TestCreateRegistrationMinBaseFee(t *testing.T) {
	f := newAdmissionFixture(t)
	minFee := decimal.NewFromInt(2000)
	f.coupons.coupon = &models.Coupon{Code: "BIG", DiscountID: "disc-1", Active: true}
	f.discounts.discount = &models.Discount{ID: "disc-1", Kind: models.DiscountKindGeneric, Active: true, MinBaseFee: &minFee}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	req := validRequest()
	req.CouponCode = "BIG"
	_, err := f.service.CreateRegistration(context.Background(), req)
	assertCode(t, err, appErrors.ErrCouponInvalid)
}

func TestConfirmPayment(t *testing.T) {
	f := newAdmissionFixture(t)
	now := time.Now().UTC()
	f.registrations.stored = models.NewRegistration("reg-1", "student-1", openBatch(), decimal.Zero, nil, now)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	detail, err := f.service.ConfirmPayment(context.Background(), "reg-1", ConfirmPaymentRequest{PaymentRef: "pay-123"})
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, models.RegistrationStatusConfirmed, f.registrations.updated.Status)
	require.NotNil(t, f.registrations.updated.PaymentRef)
	assert.Equal(t, "pay-123", *f.registrations.updated.PaymentRef)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestConfirmPaymentRequiresReserved(t *testing.T) {
	f := newAdmissionFixture(t)
	now := time.Now().UTC()
	reg := models.NewRegistration("reg-1", "student-1", openBatch(), decimal.Zero, nil, now)
	require.NoError(t, reg.Cancel(now))
	f.registrations.stored = reg
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.ConfirmPayment(context.Background(), "reg-1", ConfirmPaymentRequest{PaymentRef: "pay-123"})
	assertCode(t, err, appErrors.ErrInvalidStateTransition)
}

func TestConfirmPaymentNotFound(t *testing.T) {
	f := newAdmissionFixture(t)
	f.registrations.findErr = true
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.ConfirmPayment(context.Background(), "missing", ConfirmPaymentRequest{PaymentRef: "pay-123"})
	assertCode(t, err, appErrors.ErrNotFound)
}

func TestCancelRegistration(t *testing.T) {
	f := newAdmissionFixture(t)
	now := time.Now().UTC()
	reg := models.NewRegistration("reg-1", "student-1", openBatch(), decimal.Zero, nil, now)
	require.NoError(t, reg.Confirm("pay-1", now))
	f.registrations.stored = reg
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	detail, err := f.service.CancelRegistration(context.Background(), "reg-1")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, models.RegistrationStatusCancelled, f.registrations.updated.Status)
}

func TestCancelRegistrationTwice(t *testing.T) {
	f := newAdmissionFixture(t)
	now := time.Now().UTC()
	reg := models.NewRegistration("reg-1", "student-1", openBatch(), decimal.Zero, nil, now)
	require.NoError(t, reg.Cancel(now))
	f.registrations.stored = reg
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.service.CancelRegistration(context.Background(), "reg-1")
	assertCode(t, err, appErrors.ErrInvalidStateTransition)
}
