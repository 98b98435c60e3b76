package models

import (
	"time"

	"github.com/shopspring/decimal"

	appErrors "github.com/edubatch/admission-api/pkg/errors"
)

// RegistrationStatus models the registration lifecycle.
type RegistrationStatus string

// Reserved and Confirmed registrations are "active": they occupy a batch
// seat and the student's single registration slot. Completed is terminal
// and set by the batch-completion process, not by this engine.
const (
	RegistrationStatusReserved  RegistrationStatus = "RESERVED"
	RegistrationStatusConfirmed RegistrationStatus = "CONFIRMED"
	RegistrationStatusCancelled RegistrationStatus = "CANCELLED"
	RegistrationStatusCompleted RegistrationStatus = "COMPLETED"
)

// ActiveStatuses lists the statuses that count toward capacity and
// per-student uniqueness, in the order used by SQL IN clauses.
var ActiveStatuses = []RegistrationStatus{RegistrationStatusReserved, RegistrationStatusConfirmed}

// IsActive reports whether the status occupies a seat.
func (s RegistrationStatus) IsActive() bool {
	return s == RegistrationStatusReserved || s == RegistrationStatusConfirmed
}

// Registration is the transactional record of one admission. BaseFee and
// CourseID are snapshots taken from the batch at creation time; later
// changes to the batch never alter them. Status and the payable amounts are
// only ever set through NewRegistration and the transition methods below.
type Registration struct {
	ID             string             `db:"id" json:"id"`
	StudentID      string             `db:"student_id" json:"student_id"`
	BatchID        string             `db:"batch_id" json:"batch_id"`
	CourseID       string             `db:"course_id" json:"course_id"`
	Status         RegistrationStatus `db:"status" json:"status"`
	BaseFee        decimal.Decimal    `db:"base_fee" json:"base_fee"`
	DiscountAmount decimal.Decimal    `db:"discount_amount" json:"discount_amount"`
	FinalPayable   decimal.Decimal    `db:"final_payable" json:"final_payable"`
	CouponCode     *string            `db:"coupon_code" json:"coupon_code,omitempty"`
	PaymentRef     *string            `db:"payment_ref" json:"payment_ref,omitempty"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updated_at"`
}

// NewRegistration builds a Reserved registration with its snapshot fields
// and invariant-preserving amounts: the discount is clamped to [0, baseFee]
// and final payable is always baseFee - discount.
func NewRegistration(id, studentID string, batch *Batch, discount decimal.Decimal, couponCode *string, now time.Time) *Registration {
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(batch.Fee) {
		discount = batch.Fee
	}
	return &Registration{
		ID:             id,
		StudentID:      studentID,
		BatchID:        batch.ID,
		CourseID:       batch.CourseID,
		Status:         RegistrationStatusReserved,
		BaseFee:        batch.Fee,
		DiscountAmount: discount,
		FinalPayable:   batch.Fee.Sub(discount),
		CouponCode:     couponCode,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Confirm transitions Reserved -> Confirmed, recording the caller-supplied
// payment receipt reference.
func (r *Registration) Confirm(paymentRef string, now time.Time) error {
	if r.Status != RegistrationStatusReserved {
		return appErrors.Clone(appErrors.ErrInvalidStateTransition, "only reserved registrations can be confirmed, current status: "+string(r.Status))
	}
	r.Status = RegistrationStatusConfirmed
	r.PaymentRef = &paymentRef
	r.UpdatedAt = now
	return nil
}

// Cancel transitions Reserved or Confirmed -> Cancelled. Cancelling is the
// only path that frees the seat and the student's uniqueness slot.
func (r *Registration) Cancel(now time.Time) error {
	switch r.Status {
	case RegistrationStatusReserved, RegistrationStatusConfirmed:
		r.Status = RegistrationStatusCancelled
		r.UpdatedAt = now
		return nil
	case RegistrationStatusCancelled:
		return appErrors.Clone(appErrors.ErrInvalidStateTransition, "registration already cancelled")
	default:
		return appErrors.Clone(appErrors.ErrInvalidStateTransition, "completed registrations cannot be cancelled")
	}
}

// RegistrationDetail enriches a registration with student and batch context.
type RegistrationDetail struct {
	Registration
	StudentEmail string `db:"student_email" json:"student_email"`
	StudentName  string `db:"student_name" json:"student_name"`
	BatchName    string `db:"batch_name" json:"batch_name"`
	CourseName   string `db:"course_name" json:"course_name"`
}
