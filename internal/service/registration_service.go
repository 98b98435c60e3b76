package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/edubatch/admission-api/internal/models"
	appErrors "github.com/edubatch/admission-api/pkg/errors"
)

type studentUpserter interface {
	UpsertByEmailWithTx(ctx context.Context, tx *sqlx.Tx, email, fullName, phone string) (*models.Student, error)
}

type batchAdmissionReader interface {
	FindForAdmissionWithTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Batch, error)
}

type registrationStore interface {
	HasActiveByStudentWithTx(ctx context.Context, tx *sqlx.Tx, studentID string) (bool, error)
	CountActiveByBatchWithTx(ctx context.Context, tx *sqlx.Tx, batchID string) (int, error)
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, registration *models.Registration) error
	FindByIDForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Registration, error)
	UpdateStatusWithTx(ctx context.Context, tx *sqlx.Tx, registration *models.Registration) error
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
}

type couponLedger interface {
	FindForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, code string) (*models.Coupon, error)
	CountTotalWithTx(ctx context.Context, tx *sqlx.Tx, code string) (int, error)
	CountByStudentWithTx(ctx context.Context, tx *sqlx.Tx, code, studentID string) (int, error)
	AppendWithTx(ctx context.Context, tx *sqlx.Tx, usage *models.CouponUsage) error
}

type discountReader interface {
	FindByID(ctx context.Context, id string) (*models.Discount, error)
}

type discountEvaluator interface {
	Evaluate(ctx context.Context, discount *models.Discount, ec EvalContext) (Evaluation, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type catalogInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

type admissionObserver interface {
	RecordAdmission(outcome string, duration time.Duration)
}

// RegisterStudentRequest describes one registration attempt. GroupSize is
// only consulted by group discounts and is not persisted.
type RegisterStudentRequest struct {
	Email      string `json:"email" validate:"required,email"`
	FullName   string `json:"full_name" validate:"required"`
	Phone      string `json:"phone"`
	BatchID    string `json:"batch_id" validate:"required"`
	CouponCode string `json:"coupon_code"`
	GroupSize  int    `json:"group_size" validate:"omitempty,min=1"`
}

// ConfirmPaymentRequest records an externally produced payment receipt.
type ConfirmPaymentRequest struct {
	PaymentRef string `json:"payment_ref" validate:"required"`
}

// RegistrationService is the admission engine's entry point. Every mutating
// operation runs as one transaction: the student upsert, uniqueness and
// capacity checks, coupon consumption and the registration write commit or
// roll back together.
type RegistrationService struct {
	students      studentUpserter
	batches       batchAdmissionReader
	registrations registrationStore
	coupons       couponLedger
	discounts     discountReader
	pipeline      discountEvaluator
	tx            txProvider
	cache         catalogInvalidator
	metrics       admissionObserver
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewRegistrationService wires the orchestrator. Cache and metrics are
// optional collaborators.
func NewRegistrationService(
	students studentUpserter,
	batches batchAdmissionReader,
	registrations registrationStore,
	coupons couponLedger,
	discounts discountReader,
	pipeline discountEvaluator,
	tx txProvider,
	cache catalogInvalidator,
	metrics admissionObserver,
	validate *validator.Validate,
	logger *zap.Logger,
) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		students:      students,
		batches:       batches,
		registrations: registrations,
		coupons:       coupons,
		discounts:     discounts,
		pipeline:      pipeline,
		tx:            tx,
		cache:         cache,
		metrics:       metrics,
		validator:     validate,
		logger:        logger,
	}
}

// CreateRegistration admits a student into a batch, applying at most one
// discount. Rejections leave no trace; the retryable CONCURRENCY_CONFLICT
// surfaces only when a storage constraint fires at commit time.
func (s *RegistrationService) CreateRegistration(ctx context.Context, req RegisterStudentRequest) (*models.RegistrationDetail, error) {
	start := time.Now()
	detail, err := s.createRegistration(ctx, req)
	s.observe("create", start, err)
	return detail, err
}

func (s *RegistrationService) createRegistration(ctx context.Context, req RegisterStudentRequest) (_ *models.RegistrationDetail, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	now := time.Now().UTC()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	student, err := s.students.UpsertByEmailWithTx(ctx, tx, req.Email, req.FullName, req.Phone)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}

	// The per-student rule is global: one active registration anywhere,
	// not per batch.
	hasActive, err := s.registrations.HasActiveByStudentWithTx(ctx, tx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active registrations")
	}
	if hasActive {
		return nil, appErrors.Clone(appErrors.ErrDuplicateActiveRegistration, "")
	}

	batch, err := s.batches.FindForAdmissionWithTx(ctx, tx, req.BatchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if !batch.Active {
		return nil, appErrors.Clone(appErrors.ErrBatchInactive, "")
	}
	if !batch.WindowOpen(now) {
		return nil, appErrors.Clone(appErrors.ErrEnrollmentWindowClosed, "")
	}

	activeCount, err := s.registrations.CountActiveByBatchWithTx(ctx, tx, batch.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count active registrations")
	}
	if activeCount >= batch.Capacity {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "")
	}

	discountAmount := decimal.Zero
	var coupon *models.Coupon
	var couponCode *string
	if req.CouponCode != "" {
		coupon, discountAmount, err = s.applyCoupon(ctx, tx, req, student.ID, batch, now)
		if err != nil {
			return nil, err
		}
		couponCode = &coupon.Code
	}

	registration := models.NewRegistration(uuid.NewString(), student.ID, batch, discountAmount, couponCode, now)
	if err = s.registrations.CreateWithTx(ctx, tx, registration); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create registration")
	}

	if coupon != nil {
		usage := &models.CouponUsage{
			CouponCode:     coupon.Code,
			StudentID:      student.ID,
			RegistrationID: registration.ID,
			UsedAt:         now,
		}
		if err = s.coupons.AppendWithTx(ctx, tx, usage); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record coupon usage")
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit registration")
	}

	s.invalidateCatalog(ctx)
	s.logger.Info("registration created",
		zap.String("registration_id", registration.ID),
		zap.String("student_id", student.ID),
		zap.String("batch_id", batch.ID),
		zap.String("final_payable", registration.FinalPayable.String()),
	)

	return s.registrations.FindDetailByID(ctx, registration.ID)
}

// applyCoupon validates the coupon chain (coupon -> discount -> pipeline ->
// usage limits) inside the admission transaction. Any defect rejects the
// whole attempt; an expected discount is never silently dropped.
func (s *RegistrationService) applyCoupon(ctx context.Context, tx *sqlx.Tx, req RegisterStudentRequest, studentID string, batch *models.Batch, now time.Time) (*models.Coupon, decimal.Decimal, error) {
	coupon, err := s.coupons.FindForUpdateWithTx(ctx, tx, req.CouponCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, decimal.Zero, appErrors.Clone(appErrors.ErrCouponInvalid, "unknown coupon code")
		}
		return nil, decimal.Zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coupon")
	}
	if !coupon.Active {
		return nil, decimal.Zero, appErrors.Clone(appErrors.ErrCouponInvalid, "coupon is inactive")
	}

	discount, err := s.discounts.FindByID(ctx, coupon.DiscountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, decimal.Zero, appErrors.Clone(appErrors.ErrCouponInvalid, "coupon discount no longer exists")
		}
		return nil, decimal.Zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load discount")
	}
	if !discount.Active {
		return nil, decimal.Zero, appErrors.Clone(appErrors.ErrCouponInvalid, "discount is inactive")
	}
	if !discount.WithinValidity(now) {
		return nil, decimal.Zero, appErrors.Clone(appErrors.ErrCouponInvalid, "discount validity window has passed")
	}
	if discount.MinBaseFee != nil && batch.Fee.LessThan(*discount.MinBaseFee) {
		return nil, decimal.Zero, appErrors.Clone(appErrors.ErrCouponInvalid, "base fee below discount minimum")
	}

	evaluation, err := s.pipeline.Evaluate(ctx, discount, EvalContext{
		StudentID: studentID,
		BatchID:   batch.ID,
		CourseID:  batch.CourseID,
		Now:       now,
		BaseFee:   batch.Fee,
		GroupSize: req.GroupSize,
	})
	if err != nil {
		return nil, decimal.Zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "discount evaluation failed")
	}
	if !evaluation.Applicable {
		return nil, decimal.Zero, appErrors.Clone(appErrors.ErrCouponInvalid, evaluation.Reason)
	}

	// The coupon row lock taken above keeps these counts stable until
	// commit, so concurrent consumers cannot both take the last slot.
	if coupon.UsageLimitTotal != nil {
		total, err := s.coupons.CountTotalWithTx(ctx, tx, coupon.Code)
		if err != nil {
			return nil, decimal.Zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count coupon usage")
		}
		if total >= *coupon.UsageLimitTotal {
			return nil, decimal.Zero, appErrors.Clone(appErrors.ErrCouponLimitReached, "coupon total usage limit reached")
		}
	}
	if coupon.UsageLimitPerStudent != nil {
		used, err := s.coupons.CountByStudentWithTx(ctx, tx, coupon.Code, studentID)
		if err != nil {
			return nil, decimal.Zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count coupon usage for student")
		}
		if used >= *coupon.UsageLimitPerStudent {
			return nil, decimal.Zero, appErrors.Clone(appErrors.ErrCouponLimitReached, "coupon per-student usage limit reached")
		}
	}

	return coupon, evaluation.Amount, nil
}

// ConfirmPayment transitions a reserved registration to confirmed,
// recording the caller-supplied receipt reference.
func (s *RegistrationService) ConfirmPayment(ctx context.Context, registrationID string, req ConfirmPaymentRequest) (*models.RegistrationDetail, error) {
	start := time.Now()
	detail, err := s.transition(ctx, registrationID, func(r *models.Registration, now time.Time) error {
		return r.Confirm(req.PaymentRef, now)
	}, func() error { return s.validator.Struct(req) })
	s.observe("confirm", start, err)
	return detail, err
}

// CancelRegistration releases a registration's seat and the student's
// uniqueness slot. Repeat cancellation reports an invalid transition.
func (s *RegistrationService) CancelRegistration(ctx context.Context, registrationID string) (*models.RegistrationDetail, error) {
	start := time.Now()
	detail, err := s.transition(ctx, registrationID, func(r *models.Registration, now time.Time) error {
		return r.Cancel(now)
	}, nil)
	s.observe("cancel", start, err)
	if err == nil {
		s.invalidateCatalog(ctx)
	}
	return detail, err
}

func (s *RegistrationService) transition(ctx context.Context, registrationID string, apply func(*models.Registration, time.Time) error, validate func() error) (_ *models.RegistrationDetail, err error) {
	if registrationID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "registration id is required")
	}
	if validate != nil {
		if err := validate(); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
		}
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	registration, err := s.registrations.FindByIDForUpdateWithTx(ctx, tx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	if err = apply(registration, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err = s.registrations.UpdateStatusWithTx(ctx, tx, registration); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update registration")
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transition")
	}

	s.logger.Info("registration transitioned",
		zap.String("registration_id", registration.ID),
		zap.String("status", string(registration.Status)),
	)

	return s.registrations.FindDetailByID(ctx, registration.ID)
}

func (s *RegistrationService) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "catalog:batches:*"); err != nil {
		s.logger.Warn("failed to invalidate catalog cache", zap.Error(err))
	}
}

func (s *RegistrationService) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := operation + ":ok"
	if err != nil {
		outcome = operation + ":" + appErrors.FromError(err).Code
	}
	s.metrics.RecordAdmission(outcome, time.Since(start))
}
