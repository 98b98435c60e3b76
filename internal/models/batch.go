package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch is a capacity-bounded run of a course. The engine treats batches as
// read-only: capacity, fee and the enrollment window are administered
// elsewhere, and `active registrations <= capacity` is the invariant the
// admission path enforces.
type Batch struct {
	ID          string          `db:"id" json:"id"`
	CourseID    string          `db:"course_id" json:"course_id"`
	Name        string          `db:"name" json:"name"`
	Capacity    int             `db:"capacity" json:"capacity"`
	Fee         decimal.Decimal `db:"fee" json:"fee"`
	Active      bool            `db:"active" json:"active"`
	EnrollStart time.Time       `db:"enroll_start" json:"enroll_start"`
	EnrollEnd   time.Time       `db:"enroll_end" json:"enroll_end"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// WindowOpen reports whether now falls inside [enroll_start, enroll_end).
func (b *Batch) WindowOpen(now time.Time) bool {
	return !now.Before(b.EnrollStart) && now.Before(b.EnrollEnd)
}

// BatchAvailability enriches a batch with its live active-registration count.
type BatchAvailability struct {
	Batch
	CourseName     string `db:"course_name" json:"course_name"`
	ActiveCount    int    `db:"active_count" json:"active_count"`
	RemainingSeats int    `db:"remaining_seats" json:"remaining_seats"`
}

// BatchFilter narrows catalog listings.
type BatchFilter struct {
	CourseID string
	OpenOnly bool
	Page     int
	PageSize int
}
