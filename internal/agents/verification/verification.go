// Package verification 资格审核：硬性医学/法律标准的谓词判定。
// 外部决策层只用于边界案例的人工复核建议，任何硬性标准失败
// 都会强制最终结论为 rejected，不可被外部决策推翻。
package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/eventlog"
	"bloodlink-coordinator/internal/models"
	"bloodlink-coordinator/internal/reasoning"
	"bloodlink-coordinator/internal/repository"
)

// 审核硬性标准
const (
	minAge          = 18
	maxAge          = 65
	minWeightKg     = 50.0
	minBMI          = 18.5
	minHemoglobin   = 12.5
	minMonthsMale   = 3
	minMonthsFemale = 4
)

// 审核结论
const (
	DecisionApproved    = "approved"
	DecisionRejected    = "rejected"
	DecisionNeedsReview = "needs_review"
)

// CriterionFailure 一条未通过的标准及人类可读原因
type CriterionFailure struct {
	Criterion string `json:"criterion"`
	Reason    string `json:"reason"`
}

// EvaluateCriteria 硬性标准逐条判定（纯函数）
func EvaluateCriteria(donor *models.Donor, now time.Time) []CriterionFailure {
	var failed []CriterionFailure

	if donor.Age < minAge || donor.Age > maxAge {
		failed = append(failed, CriterionFailure{
			Criterion: "age",
			Reason:    fmt.Sprintf("age %d outside the %d-%d eligible range", donor.Age, minAge, maxAge),
		})
	}
	if donor.WeightKg < minWeightKg {
		failed = append(failed, CriterionFailure{
			Criterion: "weight",
			Reason:    fmt.Sprintf("weight %.1f kg below the %.0f kg minimum", donor.WeightKg, minWeightKg),
		})
	}
	if bmi := donor.BMI(); bmi > 0 && bmi < minBMI {
		failed = append(failed, CriterionFailure{
			Criterion: "bmi",
			Reason:    fmt.Sprintf("BMI %.1f below the %.1f minimum", bmi, minBMI),
		})
	}
	if donor.Hemoglobin < minHemoglobin {
		failed = append(failed, CriterionFailure{
			Criterion: "hemoglobin",
			Reason:    fmt.Sprintf("hemoglobin %.1f g/dL below the %.1f g/dL minimum", donor.Hemoglobin, minHemoglobin),
		})
	}

	for _, test := range donor.DiseaseTests.All() {
		if !strings.EqualFold(test[1], "negative") {
			failed = append(failed, CriterionFailure{
				Criterion: "disease_test_" + test[0],
				Reason:    fmt.Sprintf("%s test result %q is not negative", test[0], test[1]),
			})
		}
	}

	if donor.LastDonation != nil {
		minMonths := minMonthsMale
		if strings.EqualFold(donor.Gender, "female") {
			minMonths = minMonthsFemale
		}
		earliest := donor.LastDonation.AddDate(0, minMonths, 0)
		if now.Before(earliest) {
			failed = append(failed, CriterionFailure{
				Criterion: "donation_interval",
				Reason: fmt.Sprintf("last donation on %s, next eligible from %s (%d month minimum)",
					donor.LastDonation.Format("2006-01-02"), earliest.Format("2006-01-02"), minMonths),
			})
		}
	}

	return failed
}

// missingDocumentFields 返回医学文书提取后仍缺失的字段名
func missingDocumentFields(donor *models.Donor) []string {
	var missing []string
	if donor.Age <= 0 {
		missing = append(missing, "age")
	}
	if donor.WeightKg <= 0 {
		missing = append(missing, "weight_kg")
	}
	if donor.Hemoglobin <= 0 {
		missing = append(missing, "hemoglobin")
	}
	for _, test := range donor.DiseaseTests.All() {
		if test[1] == "" {
			missing = append(missing, "disease_test_"+test[0])
		}
	}
	return missing
}

// Result 一次审核的结论
type Result struct {
	Decision       string             `json:"decision"`
	FailedCriteria []CriterionFailure `json:"failed_criteria,omitempty"`
	Guidance       string             `json:"guidance,omitempty"`
	SuspendedUntil *time.Time         `json:"suspended_until,omitempty"`
}

// Agent 资格审核Agent
type Agent struct {
	donors    repository.DonorStore
	decisions repository.DecisionStore
	events    eventlog.Recorder
	decider   reasoning.Decider
	cfg       *config.Config
	logger    *zap.Logger

	now func() time.Time
}

// NewAgent 创建资格审核Agent
func NewAgent(
	donors repository.DonorStore,
	decisions repository.DecisionStore,
	events eventlog.Recorder,
	decider reasoning.Decider,
	cfg *config.Config,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		donors:    donors,
		decisions: decisions,
		events:    events,
		decider:   decider,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate 审核一位献血者的（再）准入资格。
// 重试预算耗尽后进入固定时长冷却期，而非无限重试。
func (a *Agent) Evaluate(ctx context.Context, donorID string) (*Result, error) {
	donor, err := a.donors.GetDonor(ctx, donorID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	if donor.SuspendedUntil != nil && donor.SuspendedUntil.After(now) {
		return &Result{
			Decision:       DecisionRejected,
			SuspendedUntil: donor.SuspendedUntil,
			Guidance: fmt.Sprintf("Account is in a cooldown period until %s.",
				donor.SuspendedUntil.Format("2006-01-02")),
		}, nil
	}

	// 文书提取字段不全时无法判定硬性标准，先打回补件，不消耗重试预算
	if missing := missingDocumentFields(donor); len(missing) > 0 {
		if err := a.donors.UpdateDonorStatus(ctx, donorID, models.DonorPendingReview); err != nil {
			return nil, fmt.Errorf("failed to flag donor for document resubmission: %w", err)
		}
		if _, err := a.events.Record(ctx, models.EventDocumentFailed, donorID, models.AgentVerification, models.EligibilityPayload{
			DonorID:        donorID,
			Decision:       DecisionNeedsReview,
			FailedCriteria: missing,
		}); err != nil {
			a.logger.Warn("Failed to record document-failed event", zap.Error(err))
		}
		a.logger.Info("Donor documents incomplete, resubmission requested",
			zap.String("donor_id", donorID),
			zap.Strings("missing_fields", missing),
		)
		return &Result{
			Decision: DecisionNeedsReview,
			Guidance: fmt.Sprintf("Medical documents are incomplete (missing: %s). Please resubmit.",
				strings.Join(missing, ", ")),
		}, nil
	}

	failed := EvaluateCriteria(donor, now)
	hardFailed := len(failed) > 0

	decision, guidance, fallback, reasoningText, confidence, overridden := a.consultReasoning(ctx, donor, failed, hardFailed)

	eventType := models.EventEligibilityPassed
	switch decision {
	case DecisionApproved:
		if err := a.donors.UpdateDonorStatus(ctx, donorID, models.DonorApproved); err != nil {
			return nil, fmt.Errorf("failed to approve donor: %w", err)
		}
		if err := a.donors.ClearFailedAttempts(ctx, donorID); err != nil {
			a.logger.Warn("Failed to clear retry budget", zap.Error(err))
		}

	case DecisionNeedsReview:
		eventType = models.EventEligibilityFailed
		if err := a.donors.UpdateDonorStatus(ctx, donorID, models.DonorPendingReview); err != nil {
			return nil, fmt.Errorf("failed to flag donor for review: %w", err)
		}

	default: // rejected
		eventType = models.EventEligibilityFailed
		if err := a.donors.UpdateDonorStatus(ctx, donorID, models.DonorRejected); err != nil {
			return nil, fmt.Errorf("failed to reject donor: %w", err)
		}
	}

	result := &Result{Decision: decision, FailedCriteria: failed, Guidance: guidance}

	if decision == DecisionRejected {
		attempts, err := a.donors.IncrementFailedAttempts(ctx, donorID)
		if err != nil {
			a.logger.Warn("Failed to track rejection attempts", zap.Error(err))
		} else if attempts >= a.cfg.Verification.MaxAttempts {
			until := now.AddDate(0, 0, a.cfg.Verification.SuspensionDays)
			if err := a.donors.SuspendDonor(ctx, donorID, until); err != nil {
				a.logger.Warn("Failed to suspend donor", zap.Error(err))
			} else {
				result.SuspendedUntil = &until
				a.logger.Info("Donor retry budget exhausted, cooldown applied",
					zap.String("donor_id", donorID),
					zap.Int("attempts", attempts),
					zap.Time("suspended_until", until),
				)
			}
		}
	}

	failedNames := make([]string, 0, len(failed))
	for _, fc := range failed {
		failedNames = append(failedNames, fc.Criterion)
	}
	if err := a.decisions.CreateDecision(ctx, &models.AgentDecision{
		ID:        uuid.New().String(),
		AgentType: models.AgentVerification,
		EventType: eventType,
		RequestID: donorID, // 审核不挂请求，按献血者维度归档
		Decision: models.MarshalDecision(models.EligibilityDecision{
			Decision:       decision,
			FailedCriteria: failedNames,
			HardOverride:   overridden,
			Guidance:       guidance,
		}),
		Reasoning:  reasoningText,
		Confidence: confidence,
		Fallback:   fallback,
	}); err != nil {
		a.logger.Warn("Failed to record eligibility decision", zap.Error(err))
	}

	if _, err := a.events.Record(ctx, eventType, donorID, models.AgentVerification, models.EligibilityPayload{
		DonorID:        donorID,
		Decision:       decision,
		FailedCriteria: failedNames,
	}); err != nil {
		a.logger.Warn("Failed to record eligibility event", zap.Error(err))
	}

	a.logger.Info("Donor eligibility evaluated",
		zap.String("donor_id", donorID),
		zap.String("decision", decision),
		zap.Int("failed_criteria", len(failed)),
		zap.Bool("hard_override", overridden),
	)

	return result, nil
}

// consultReasoning 咨询外部决策层；硬性标准失败时无论其返回什么都强制 rejected。
// 返回 (结论, 建议文本, 是否兜底, 推理文本, 置信度, 是否发生硬性覆盖)
func (a *Agent) consultReasoning(ctx context.Context, donor *models.Donor, failed []CriterionFailure, hardFailed bool) (string, string, bool, string, float64, bool) {
	deterministic := DecisionApproved
	if hardFailed {
		deterministic = DecisionRejected
	}

	outcome, err := a.decider.Decide(ctx, reasoning.Query{
		AgentType: models.AgentVerification,
		EventType: models.EventEligibilityPassed,
		RequestID: donor.ID,
		Prompt:    "Review donor eligibility screening results and flag borderline cases.",
		Context: map[string]any{
			"age":             donor.Age,
			"weight_kg":       donor.WeightKg,
			"bmi":             donor.BMI(),
			"hemoglobin":      donor.Hemoglobin,
			"failed_criteria": failed,
		},
	})
	if err != nil {
		return deterministic, "", true, "deterministic criteria evaluation applied", 1.0, false
	}

	var suggested models.EligibilityDecision
	if err := reasoning.DecodeDecision(outcome, &suggested); err != nil {
		return deterministic, "", true, "deterministic criteria evaluation applied", 1.0, false
	}

	switch suggested.Decision {
	case DecisionApproved, DecisionRejected, DecisionNeedsReview:
	default:
		return deterministic, "", true, "deterministic criteria evaluation applied", 1.0, false
	}

	// 安全覆盖：硬性标准失败时不接受 approved/needs_review
	if hardFailed && suggested.Decision != DecisionRejected {
		a.logger.Warn("Reasoning suggested non-rejection despite hard criteria failure, overridden",
			zap.String("donor_id", donor.ID),
			zap.String("suggested", suggested.Decision),
		)
		return DecisionRejected, suggested.Guidance, false, outcome.Reasoning, outcome.Confidence, true
	}

	return suggested.Decision, suggested.Guidance, false, outcome.Reasoning, outcome.Confidence, false
}
