package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// DiscountKind selects the eligibility strategy for a discount.
type DiscountKind string

// The closed set of discount kinds the evaluation pipeline dispatches on.
const (
	DiscountKindEarlyBird  DiscountKind = "EARLY_BIRD"
	DiscountKindLoyalty    DiscountKind = "LOYALTY"
	DiscountKindIndividual DiscountKind = "INDIVIDUAL"
	DiscountKindCombo      DiscountKind = "COMBO"
	DiscountKindGroup      DiscountKind = "GROUP"
	DiscountKindGeneric    DiscountKind = "GENERIC"
)

// DiscountValueType says how Value is applied to the base fee.
type DiscountValueType string

const (
	DiscountValuePercent DiscountValueType = "PERCENT"
	DiscountValueFlat    DiscountValueType = "FLAT"
)

// Discount is a named program. Config carries the kind-specific settings as
// JSON (early-bird cutoff, required batch set, minimum group size, minimum
// completed count). Read-only to the engine.
type Discount struct {
	ID         string            `db:"id" json:"id"`
	Name       string            `db:"name" json:"name"`
	Kind       DiscountKind      `db:"kind" json:"kind"`
	ValueType  DiscountValueType `db:"value_type" json:"value_type"`
	Value      decimal.Decimal   `db:"value" json:"value"`
	MaxAmount  *decimal.Decimal  `db:"max_discount_amount" json:"max_discount_amount,omitempty"`
	MinBaseFee *decimal.Decimal  `db:"min_base_fee" json:"min_base_fee,omitempty"`
	ValidFrom  *time.Time        `db:"valid_from" json:"valid_from,omitempty"`
	ValidTo    *time.Time        `db:"valid_to" json:"valid_to,omitempty"`
	Active     bool              `db:"active" json:"active"`
	Config     types.JSONText    `db:"config" json:"config,omitempty"`
}

// WithinValidity reports whether now falls inside the discount's own
// validity window; open-ended bounds always pass.
func (d *Discount) WithinValidity(now time.Time) bool {
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return false
	}
	if d.ValidTo != nil && !now.Before(*d.ValidTo) {
		return false
	}
	return true
}

// Per-kind config payloads decoded from Discount.Config.

type EarlyBirdConfig struct {
	Cutoff time.Time `json:"cutoff"`
}

type LoyaltyConfig struct {
	MinCompleted int `json:"min_completed"`
}

type ComboConfig struct {
	RequiredBatchIDs []string `json:"required_batch_ids"`
}

type GroupConfig struct {
	MinGroupSize int `json:"min_group_size"`
}

// AssignmentTargetType scopes a targeted discount assignment.
type AssignmentTargetType string

const (
	AssignmentTargetStudent AssignmentTargetType = "STUDENT"
	AssignmentTargetBatch   AssignmentTargetType = "BATCH"
	AssignmentTargetCourse  AssignmentTargetType = "COURSE"
)

// DiscountAssignment grants an Individual discount to a specific target,
// optionally time-boxed. Read-only input to eligibility checks.
type DiscountAssignment struct {
	ID         string               `db:"id" json:"id"`
	DiscountID string               `db:"discount_id" json:"discount_id"`
	TargetType AssignmentTargetType `db:"target_type" json:"target_type"`
	TargetID   string               `db:"target_id" json:"target_id"`
	ValidFrom  *time.Time           `db:"valid_from" json:"valid_from,omitempty"`
	ValidTo    *time.Time           `db:"valid_to" json:"valid_to,omitempty"`
}

// WithinValidity mirrors Discount.WithinValidity for the assignment window.
func (a *DiscountAssignment) WithinValidity(now time.Time) bool {
	if a.ValidFrom != nil && now.Before(*a.ValidFrom) {
		return false
	}
	if a.ValidTo != nil && !now.Before(*a.ValidTo) {
		return false
	}
	return true
}
