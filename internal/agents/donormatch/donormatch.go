// Package donormatch 献血者匹配：筛选、评分、排序、并发通知。
// 通知扇出采用隔离失败策略，单个候选人通知失败不影响其余候选人。
package donormatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/dispatch"
	"bloodlink-coordinator/internal/eventlog"
	"bloodlink-coordinator/internal/models"
	"bloodlink-coordinator/internal/notify"
	"bloodlink-coordinator/internal/reasoning"
	"bloodlink-coordinator/internal/repository"
	"bloodlink-coordinator/internal/scoring"
	"bloodlink-coordinator/internal/token"
)

// 匹配池准入标准（注册审核之外的匹配时点复查）
const (
	minDonorAge      = 18
	maxDonorAge      = 65
	minDonorWeightKg = 50.0

	minIntervalDaysMale   = 90
	minIntervalDaysFemale = 120

	minHemoglobinMale   = 13.0
	minHemoglobinFemale = 12.5
)

// Candidate 评分后的候选献血者
type Candidate struct {
	Donor      *models.Donor
	DistanceKm float64
	Score      float64
}

// Agent 献血者匹配Agent
type Agent struct {
	requests  repository.ShortageRequestStore
	workflows repository.WorkflowStateStore
	donors    repository.DonorStore
	responses repository.DonorResponseStore
	decisions repository.DecisionStore
	events    eventlog.Recorder
	queue     dispatch.Queue
	notifier  notify.Notifier
	decider   reasoning.Decider
	cfg       *config.Config
	logger    *zap.Logger

	now func() time.Time
}

// NewAgent 创建献血者匹配Agent
func NewAgent(
	requests repository.ShortageRequestStore,
	workflows repository.WorkflowStateStore,
	donors repository.DonorStore,
	responses repository.DonorResponseStore,
	decisions repository.DecisionStore,
	events eventlog.Recorder,
	queue dispatch.Queue,
	notifier notify.Notifier,
	decider reasoning.Decider,
	cfg *config.Config,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		requests:  requests,
		workflows: workflows,
		donors:    donors,
		responses: responses,
		decisions: decisions,
		events:    events,
		queue:     queue,
		notifier:  notifier,
		decider:   decider,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// MatchEligible 匹配时点的资格复查。
// 注册审核通过不代表此刻可献：间隔、血红蛋白等都会随时间变化。
func MatchEligible(donor *models.Donor, now time.Time) bool {
	if donor.Status != models.DonorApproved {
		return false
	}
	if donor.SuspendedUntil != nil && donor.SuspendedUntil.After(now) {
		return false
	}
	if donor.Age < minDonorAge || donor.Age > maxDonorAge {
		return false
	}
	if donor.WeightKg < minDonorWeightKg {
		return false
	}

	minInterval := minIntervalDaysMale
	minHemoglobin := minHemoglobinMale
	if strings.EqualFold(donor.Gender, "female") {
		minInterval = minIntervalDaysFemale
		minHemoglobin = minHemoglobinFemale
	}
	if donor.Hemoglobin < minHemoglobin {
		return false
	}
	if donor.LastDonation != nil {
		days := int(now.Sub(*donor.LastDonation).Hours() / 24)
		if days < minInterval {
			return false
		}
	}

	for _, test := range donor.DiseaseTests.All() {
		if !strings.EqualFold(test[1], "negative") {
			return false
		}
	}

	return true
}

// FindCandidates 检索、复查、评分并按分数降序排列候选献血者
func (a *Agent) FindCandidates(ctx context.Context, req *models.ShortageRequest) ([]Candidate, error) {
	compatible := bloodtype.CompatibleDonors(req.BloodType)
	donors, err := a.donors.FindApprovedByBloodTypes(ctx, compatible)
	if err != nil {
		return nil, fmt.Errorf("failed to query donors: %w", err)
	}

	now := a.now()
	var candidates []Candidate
	for _, donor := range donors {
		if !MatchEligible(donor, now) {
			continue
		}
		distance := req.Location.DistanceKm(donor.Location)
		if distance > req.SearchRadiusKm {
			continue
		}

		score := scoring.DonorScore(scoring.DonorScoreInput{
			DistanceKm:         distance,
			MaxRadiusKm:        req.SearchRadiusKm,
			LastDonation:       donor.LastDonation,
			IsNewDonor:         donor.IsNewDonor(),
			AcceptRate:         donor.AcceptRate(),
			AvgResponseTimeMin: donor.AvgResponseTimeMin,
			Urgency:            req.Urgency,
			Now:                now,
			Hemoglobin:         donor.Hemoglobin,
			BMI:                donor.BMI(),
			Vaccinated:         donor.Vaccinated,
			OnMedication:       donor.OnMedication,
		})
		candidates = append(candidates, Candidate{Donor: donor, DistanceKm: distance, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return candidates, nil
}

// shouldTriggerInventory 双策略兜底阈值：
// critical 且候选≤5、high 且候选≤2、medium 且候选为0 时并行触发库存检索
func shouldTriggerInventory(urgency models.Urgency, eligibleCount int) bool {
	switch urgency {
	case models.UrgencyCritical:
		return eligibleCount <= 5
	case models.UrgencyHigh:
		return eligibleCount <= 2
	case models.UrgencyMedium:
		return eligibleCount == 0
	default:
		return false
	}
}

// notifyBatchSize 通知批量：max(10, 2·所需单位)，不超过配置上限
func (a *Agent) notifyBatchSize(unitsNeeded int) int {
	n := 2 * unitsNeeded
	if n < 10 {
		n = 10
	}
	if n > a.cfg.Matching.MaxCandidates {
		n = a.cfg.Matching.MaxCandidates
	}
	return n
}

// HandleShortage 处理一条缺血请求：候选检索 → 双策略决策 → 通知扇出。
// 至少一次投递下可重入：请求已离开 pending 状态时为幂等空操作。
func (a *Agent) HandleShortage(ctx context.Context, requestID string) error {
	req, err := a.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.RequestPending {
		a.logger.Info("Shortage request already past matching, skipped",
			zap.String("request_id", requestID),
			zap.String("status", string(req.Status)),
		)
		return nil
	}

	candidates, err := a.FindCandidates(ctx, req)
	if err != nil {
		return err
	}

	triggerInventory, fallback, reasoningText, confidence := a.decideDualStrategy(ctx, req, len(candidates))
	if err := a.decisions.CreateDecision(ctx, &models.AgentDecision{
		ID:        uuid.New().String(),
		AgentType: models.AgentDonorMatch,
		EventType: models.EventDonorCandidate,
		RequestID: req.ID,
		Decision: models.MarshalDecision(models.DualStrategyDecision{
			TriggerInventory: triggerInventory,
			EligibleDonors:   len(candidates),
		}),
		Reasoning:  reasoningText,
		Confidence: confidence,
		Fallback:   fallback,
	}); err != nil {
		a.logger.Warn("Failed to record dual-strategy decision", zap.Error(err))
	}

	if len(candidates) == 0 {
		a.logger.Info("No eligible donors found, falling through to inventory search",
			zap.String("request_id", req.ID),
		)
		return a.queue.Enqueue(ctx, dispatch.TriggerInventorySearch, req.ID, map[string]string{"reason": "no_eligible_donors"})
	}

	if triggerInventory {
		if err := a.queue.Enqueue(ctx, dispatch.TriggerInventorySearch, req.ID, map[string]string{"reason": "dual_strategy"}); err != nil {
			a.logger.Warn("Failed to enqueue parallel inventory search", zap.Error(err))
		}
	}

	batch := a.notifyBatchSize(req.UnitsNeeded)
	if batch > len(candidates) {
		batch = len(candidates)
	}
	notified := a.notifyCandidates(ctx, req, candidates[:batch])

	if _, err := a.requests.UpdateRequestStatus(ctx, req.ID, models.RequestPending, models.RequestDonorsNotified); err != nil {
		return fmt.Errorf("failed to advance request status: %w", err)
	}
	if _, err := a.workflows.AdvanceState(ctx, req.ID, models.WorkflowPending, models.WorkflowDonorsNotified, "donors_notified"); err != nil {
		a.logger.Warn("Failed to advance workflow state", zap.Error(err))
	}

	a.logger.Info("Donor notification fan-out complete",
		zap.String("request_id", req.ID),
		zap.Int("eligible", len(candidates)),
		zap.Int("notified", notified),
		zap.Bool("inventory_triggered", triggerInventory),
	)

	return nil
}

// decideDualStrategy 外部决策是否并行触发库存检索；失败走固定阈值兜底
func (a *Agent) decideDualStrategy(ctx context.Context, req *models.ShortageRequest, eligibleCount int) (bool, bool, string, float64) {
	fallbackResult := shouldTriggerInventory(req.Urgency, eligibleCount)

	outcome, err := a.decider.Decide(ctx, reasoning.Query{
		AgentType: models.AgentDonorMatch,
		EventType: models.EventDonorCandidate,
		RequestID: req.ID,
		Prompt:    "Decide whether to run a parallel inventory search alongside donor notification.",
		Context: map[string]any{
			"urgency":         string(req.Urgency),
			"eligible_donors": eligibleCount,
			"units_needed":    req.UnitsNeeded,
			"blood_type":      string(req.BloodType),
		},
	})
	if err != nil {
		return fallbackResult, true, "deterministic dual-strategy thresholds applied", 1.0
	}

	var decision models.DualStrategyDecision
	if err := reasoning.DecodeDecision(outcome, &decision); err != nil {
		return fallbackResult, true, "deterministic dual-strategy thresholds applied", 1.0
	}

	return decision.TriggerInventory, false, outcome.Reasoning, outcome.Confidence
}

// notifyCandidates 并发通知候选献血者，返回成功通知数。
// 每个候选人独立：建响应行 → 发事件 → 推通知，任何一步失败只记日志。
func (a *Agent) notifyCandidates(ctx context.Context, req *models.ShortageRequest, candidates []Candidate) int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	notified := 0

	for _, candidate := range candidates {
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()
			if err := a.notifyOne(ctx, req, c); err != nil {
				a.logger.Error("Failed to notify donor candidate",
					zap.String("request_id", req.ID),
					zap.String("donor_id", c.Donor.ID),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			notified++
			mu.Unlock()
		}(candidate)
	}
	wg.Wait()

	return notified
}

func (a *Agent) notifyOne(ctx context.Context, req *models.ShortageRequest, c Candidate) error {
	now := a.now()
	responseToken := token.Mint(c.Donor.ID, req.ID, now)

	if err := a.responses.CreateResponse(ctx, &models.DonorCandidateResponse{
		ID:         uuid.New().String(),
		DonorID:    c.Donor.ID,
		RequestID:  req.ID,
		NotifiedAt: now,
		Status:     models.ResponseNotified,
		DistanceKm: c.DistanceKm,
		Score:      c.Score,
	}); err != nil {
		return fmt.Errorf("failed to create response row: %w", err)
	}

	if err := a.donors.RecordNotification(ctx, c.Donor.ID); err != nil {
		a.logger.Warn("Failed to record donor notification stat",
			zap.String("donor_id", c.Donor.ID),
			zap.Error(err),
		)
	}

	if _, err := a.events.Record(ctx, models.EventDonorCandidate, req.ID, models.AgentDonorMatch, models.DonorCandidatePayload{
		RequestID:  req.ID,
		DonorID:    c.Donor.ID,
		DistanceKm: c.DistanceKm,
		Score:      c.Score,
	}); err != nil {
		a.logger.Warn("Failed to record donor candidate event", zap.Error(err))
	}

	return a.notifier.Send(ctx, notify.Notification{
		Kind:      notify.KindDonorCandidate,
		Recipient: c.Donor.ID,
		RequestID: req.ID,
		Subject:   fmt.Sprintf("Urgent blood donation request: %s", req.BloodType),
		Body: fmt.Sprintf("A hospital %.1f km away urgently needs %s blood. Can you help?",
			c.DistanceKm, req.BloodType),
		Data: map[string]any{
			"token":       responseToken,
			"blood_type":  string(req.BloodType),
			"urgency":     string(req.Urgency),
			"distance_km": c.DistanceKm,
		},
	})
}
