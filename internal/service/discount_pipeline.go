package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/edubatch/admission-api/internal/models"
)

// EvalContext carries the registration attempt a discount is judged
// against. GroupSize is transient caller input, not a persisted field.
type EvalContext struct {
	StudentID string
	BatchID   string
	CourseID  string
	Now       time.Time
	BaseFee   decimal.Decimal
	GroupSize int
}

// Evaluation is the pipeline verdict. A discount that caps to zero is
// still applicable; Reason explains the outcome either way.
type Evaluation struct {
	Applicable bool
	Amount     decimal.Decimal
	Reason     string
}

type registrationHistoryReader interface {
	CountByStudentWithStatuses(ctx context.Context, studentID string, statuses []models.RegistrationStatus) (int, error)
	CountDistinctBatches(ctx context.Context, studentID string, batchIDs []string, statuses []models.RegistrationStatus) (int, error)
}

type assignmentReader interface {
	ListAssignments(ctx context.Context, discountID, studentID, batchID, courseID string) ([]models.DiscountAssignment, error)
}

type evaluatorFunc func(ctx context.Context, discount *models.Discount, ec EvalContext) (bool, string, error)

// DiscountPipeline dispatches a discount to the evaluator for its kind.
// Evaluators are stateless apart from reads against registration history
// and the assignment table; the amount computation is shared.
type DiscountPipeline struct {
	history               registrationHistoryReader
	assignments           assignmentReader
	comboIncludeConfirmed bool
	logger                *zap.Logger
	evaluators            map[models.DiscountKind]evaluatorFunc
}

// NewDiscountPipeline builds the kind -> evaluator table.
func NewDiscountPipeline(history registrationHistoryReader, assignments assignmentReader, comboIncludeConfirmed bool, logger *zap.Logger) *DiscountPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &DiscountPipeline{
		history:               history,
		assignments:           assignments,
		comboIncludeConfirmed: comboIncludeConfirmed,
		logger:                logger,
	}
	p.evaluators = map[models.DiscountKind]evaluatorFunc{
		models.DiscountKindEarlyBird:  p.evaluateEarlyBird,
		models.DiscountKindLoyalty:    p.evaluateLoyalty,
		models.DiscountKindIndividual: p.evaluateIndividual,
		models.DiscountKindCombo:      p.evaluateCombo,
		models.DiscountKindGroup:      p.evaluateGroup,
		models.DiscountKindGeneric:    p.evaluateGeneric,
	}
	return p
}

// Evaluate decides eligibility and the discount amount for one attempt.
// The caller has already verified the discount is active and inside its own
// validity window.
func (p *DiscountPipeline) Evaluate(ctx context.Context, discount *models.Discount, ec EvalContext) (Evaluation, error) {
	evaluate, ok := p.evaluators[discount.Kind]
	if !ok {
		return Evaluation{}, fmt.Errorf("unsupported discount kind: %s", discount.Kind)
	}

	applicable, reason, err := evaluate(ctx, discount, ec)
	if err != nil {
		return Evaluation{}, err
	}
	if !applicable {
		return Evaluation{Applicable: false, Amount: decimal.Zero, Reason: reason}, nil
	}

	amount := ComputeDiscountAmount(discount, ec.BaseFee)
	p.logger.Debug("discount evaluated",
		zap.String("discount_id", discount.ID),
		zap.String("kind", string(discount.Kind)),
		zap.String("amount", amount.String()),
	)
	return Evaluation{Applicable: true, Amount: amount, Reason: reason}, nil
}

// ComputeDiscountAmount applies the discount value to the base fee:
// percent or flat, capped at max_discount_amount when set, and clamped to
// [0, baseFee]. Zero after capping is a valid outcome.
func ComputeDiscountAmount(discount *models.Discount, baseFee decimal.Decimal) decimal.Decimal {
	var raw decimal.Decimal
	switch discount.ValueType {
	case models.DiscountValuePercent:
		raw = baseFee.Mul(discount.Value).Div(decimal.NewFromInt(100))
	default:
		raw = discount.Value
	}
	if discount.MaxAmount != nil && raw.GreaterThan(*discount.MaxAmount) {
		raw = *discount.MaxAmount
	}
	if raw.GreaterThan(baseFee) {
		raw = baseFee
	}
	if raw.IsNegative() {
		return decimal.Zero
	}
	return raw
}

// decodeKindConfig tolerates a missing config blob; evaluators treat the
// zero-value config as unconfigured.
func decodeKindConfig(raw []byte, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func (p *DiscountPipeline) evaluateEarlyBird(_ context.Context, discount *models.Discount, ec EvalContext) (bool, string, error) {
	var cfg models.EarlyBirdConfig
	if err := decodeKindConfig(discount.Config, &cfg); err != nil {
		return false, "", fmt.Errorf("decode early-bird config: %w", err)
	}
	if cfg.Cutoff.IsZero() {
		return false, "early-bird discount has no cutoff configured", nil
	}
	if !ec.Now.Before(cfg.Cutoff) {
		return false, "early-bird cutoff has passed", nil
	}
	return true, "registered before early-bird cutoff", nil
}

func (p *DiscountPipeline) evaluateLoyalty(ctx context.Context, discount *models.Discount, ec EvalContext) (bool, string, error) {
	var cfg models.LoyaltyConfig
	if err := decodeKindConfig(discount.Config, &cfg); err != nil {
		return false, "", fmt.Errorf("decode loyalty config: %w", err)
	}
	if cfg.MinCompleted <= 0 {
		cfg.MinCompleted = 1
	}
	completed, err := p.history.CountByStudentWithStatuses(ctx, ec.StudentID, []models.RegistrationStatus{models.RegistrationStatusCompleted})
	if err != nil {
		return false, "", fmt.Errorf("count completed registrations: %w", err)
	}
	if completed < cfg.MinCompleted {
		return false, fmt.Sprintf("requires %d completed batches, student has %d", cfg.MinCompleted, completed), nil
	}
	return true, "loyalty threshold met", nil
}

func (p *DiscountPipeline) evaluateIndividual(ctx context.Context, discount *models.Discount, ec EvalContext) (bool, string, error) {
	assignments, err := p.assignments.ListAssignments(ctx, discount.ID, ec.StudentID, ec.BatchID, ec.CourseID)
	if err != nil {
		return false, "", fmt.Errorf("list discount assignments: %w", err)
	}
	for i := range assignments {
		if assignments[i].WithinValidity(ec.Now) {
			return true, "discount assigned to this registration", nil
		}
	}
	return false, "no active assignment targets this registration", nil
}

func (p *DiscountPipeline) evaluateCombo(ctx context.Context, discount *models.Discount, ec EvalContext) (bool, string, error) {
	var cfg models.ComboConfig
	if err := decodeKindConfig(discount.Config, &cfg); err != nil {
		return false, "", fmt.Errorf("decode combo config: %w", err)
	}
	if len(cfg.RequiredBatchIDs) == 0 {
		return false, "combo discount has no required batches configured", nil
	}
	statuses := []models.RegistrationStatus{models.RegistrationStatusCompleted}
	if p.comboIncludeConfirmed {
		statuses = append(statuses, models.RegistrationStatusConfirmed)
	}
	held, err := p.history.CountDistinctBatches(ctx, ec.StudentID, cfg.RequiredBatchIDs, statuses)
	if err != nil {
		return false, "", fmt.Errorf("count required batches: %w", err)
	}
	if held < len(cfg.RequiredBatchIDs) {
		return false, fmt.Sprintf("student holds %d of %d required batches", held, len(cfg.RequiredBatchIDs)), nil
	}
	return true, "all required batches held", nil
}

func (p *DiscountPipeline) evaluateGroup(_ context.Context, discount *models.Discount, ec EvalContext) (bool, string, error) {
	var cfg models.GroupConfig
	if err := decodeKindConfig(discount.Config, &cfg); err != nil {
		return false, "", fmt.Errorf("decode group config: %w", err)
	}
	if cfg.MinGroupSize <= 0 {
		cfg.MinGroupSize = 2
	}
	if ec.GroupSize < cfg.MinGroupSize {
		return false, fmt.Sprintf("requires a group of %d, got %d", cfg.MinGroupSize, ec.GroupSize), nil
	}
	return true, "group size requirement met", nil
}

func (p *DiscountPipeline) evaluateGeneric(_ context.Context, _ *models.Discount, _ EvalContext) (bool, string, error) {
	return true, "generic discount", nil
}
