package models

import "time"

// Coupon maps a human-entered code to exactly one discount. Usage limits
// are optional; nil means unlimited. Immutable once issued except for the
// active flag.
type Coupon struct {
	Code                 string    `db:"code" json:"code"`
	DiscountID           string    `db:"discount_id" json:"discount_id"`
	UsageLimitTotal      *int      `db:"usage_limit_total" json:"usage_limit_total,omitempty"`
	UsageLimitPerStudent *int      `db:"usage_limit_per_student" json:"usage_limit_per_student,omitempty"`
	Active               bool      `db:"active" json:"active"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// CouponUsage is an append-only ledger entry recording one consumption.
// Rows are never mutated or deleted; counts derive from them.
type CouponUsage struct {
	ID             string    `db:"id" json:"id"`
	CouponCode     string    `db:"coupon_code" json:"coupon_code"`
	StudentID      string    `db:"student_id" json:"student_id"`
	RegistrationID string    `db:"registration_id" json:"registration_id"`
	UsedAt         time.Time `db:"used_at" json:"used_at"`
}
