// Package hospital 缺血检测：将库存告警归一化为缺血请求。
// 紧急度先按固定分档推导，再交外部决策层精化（失败走确定性兜底）。
package hospital

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/dispatch"
	"bloodlink-coordinator/internal/eventlog"
	"bloodlink-coordinator/internal/models"
	"bloodlink-coordinator/internal/reasoning"
	"bloodlink-coordinator/internal/repository"
)

// StockAlert 库存告警输入（医院主动提交或自动巡检生成）
type StockAlert struct {
	HospitalID   string              `json:"hospital_id"`
	BloodType    bloodtype.BloodType `json:"blood_type"`
	CurrentUnits int                 `json:"current_units"`
	DailyUsage   float64             `json:"daily_usage"`
	AutoDetected bool                `json:"auto_detected"`
}

// Agent 缺血检测Agent
type Agent struct {
	requests    repository.ShortageRequestStore
	workflows   repository.WorkflowStateStore
	hospitals   repository.HospitalStore
	inventory   repository.InventoryStore
	decisions   repository.DecisionStore
	events      eventlog.Recorder
	queue       dispatch.Queue
	decider     reasoning.Decider
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.Logger
}

// NewAgent 创建缺血检测Agent
func NewAgent(
	requests repository.ShortageRequestStore,
	workflows repository.WorkflowStateStore,
	hospitals repository.HospitalStore,
	inventory repository.InventoryStore,
	decisions repository.DecisionStore,
	events eventlog.Recorder,
	queue dispatch.Queue,
	decider reasoning.Decider,
	redisClient *redis.Client,
	cfg *config.Config,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		requests:    requests,
		workflows:   workflows,
		hospitals:   hospitals,
		inventory:   inventory,
		decisions:   decisions,
		events:      events,
		queue:       queue,
		decider:     decider,
		redisClient: redisClient,
		cfg:         cfg,
		logger:      logger,
	}
}

// DaysRemaining 剩余天数估算（日用量未知时按 0 处理，由零库存分支兜底）
func DaysRemaining(currentUnits int, dailyUsage float64) float64 {
	if dailyUsage <= 0 {
		if currentUnits == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return float64(currentUnits) / dailyUsage
}

// IsShortage 是否构成缺血（剩余天数低于阈值，或库存归零）
func IsShortage(currentUnits int, daysRemaining, thresholdDays float64) bool {
	return currentUnits == 0 || daysRemaining < thresholdDays
}

// DeriveUrgency 固定分档推导紧急度
// critical：<1天 或 零库存；high：<2天，稀有血型放宽到 <3天；medium：<3天；low：<5天
func DeriveUrgency(currentUnits int, daysRemaining float64, bt bloodtype.BloodType) models.Urgency {
	switch {
	case currentUnits == 0 || daysRemaining < 1:
		return models.UrgencyCritical
	case daysRemaining < 2:
		return models.UrgencyHigh
	case daysRemaining < 3:
		if bloodtype.IsRare(bt) {
			return models.UrgencyHigh
		}
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

// SearchRadiusKm 紧急度对应的检索半径
func SearchRadiusKm(urgency models.Urgency) float64 {
	switch urgency {
	case models.UrgencyCritical:
		return 75
	case models.UrgencyHigh:
		return 50
	case models.UrgencyMedium:
		return 35
	default:
		return 20
	}
}

// UnitsNeeded 补货量估算：5天用量减去现有库存，至少1单位
func UnitsNeeded(currentUnits int, dailyUsage float64) int {
	needed := int(math.Ceil(dailyUsage*5)) - currentUnits
	if needed < 1 {
		return 1
	}
	return needed
}

// PriorityScore 优先级评分（0-100）：紧急度40分 + 血型稀有度30分 + 时间紧迫度30分
func PriorityScore(urgency models.Urgency, bt bloodtype.BloodType, daysRemaining float64) float64 {
	var urgencyPts float64
	switch urgency {
	case models.UrgencyCritical:
		urgencyPts = 40
	case models.UrgencyHigh:
		urgencyPts = 30
	case models.UrgencyMedium:
		urgencyPts = 20
	default:
		urgencyPts = 10
	}

	timeCriticality := 1 - daysRemaining/5
	if timeCriticality < 0 {
		timeCriticality = 0
	}

	return urgencyPts + bloodtype.RarityScore(bt)*30 + 30*timeCriticality
}

// ProcessStockAlert 处理库存告警：非缺血直接返回 nil 请求；
// 缺血则落库缺血请求 + 工作流，并触发献血者匹配
func (a *Agent) ProcessStockAlert(ctx context.Context, alert StockAlert) (*models.ShortageRequest, error) {
	if alert.HospitalID == "" {
		return nil, fmt.Errorf("hospital_id is required")
	}
	if _, err := bloodtype.Parse(string(alert.BloodType)); err != nil {
		return nil, err
	}

	daysRemaining := DaysRemaining(alert.CurrentUnits, alert.DailyUsage)
	threshold := a.cfg.Hospital.ThresholdDays
	if !IsShortage(alert.CurrentUnits, daysRemaining, threshold) {
		a.logger.Info("Stock alert below shortage threshold, ignored",
			zap.String("hospital_id", alert.HospitalID),
			zap.String("blood_type", string(alert.BloodType)),
			zap.Float64("days_remaining", daysRemaining),
		)
		return nil, nil
	}

	hospital, err := a.hospitals.GetHospital(ctx, alert.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load hospital: %w", err)
	}

	urgency := DeriveUrgency(alert.CurrentUnits, daysRemaining, alert.BloodType)
	priority := PriorityScore(urgency, alert.BloodType, daysRemaining)
	urgency, priority, fallback, reasoningText, confidence := a.refineUrgency(ctx, alert, daysRemaining, urgency, priority)

	req := &models.ShortageRequest{
		ID:             uuid.New().String(),
		HospitalID:     alert.HospitalID,
		BloodType:      alert.BloodType,
		UnitsNeeded:    UnitsNeeded(alert.CurrentUnits, alert.DailyUsage),
		Urgency:        urgency,
		SearchRadiusKm: SearchRadiusKm(urgency),
		Location:       hospital.Location,
		PriorityScore:  priority,
		Status:         models.RequestPending,
		AutoDetected:   alert.AutoDetected,
	}

	if err := a.requests.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist shortage request: %w", err)
	}

	if err := a.workflows.CreateState(ctx, &models.WorkflowState{
		RequestID:   req.ID,
		Status:      models.WorkflowPending,
		CurrentStep: "shortage_detected",
	}); err != nil {
		return nil, fmt.Errorf("failed to create workflow state: %w", err)
	}

	decision := &models.AgentDecision{
		ID:        uuid.New().String(),
		AgentType: models.AgentHospital,
		EventType: models.EventShortageRequest,
		RequestID: req.ID,
		Decision: models.MarshalDecision(models.UrgencyDecision{
			Urgency:       string(urgency),
			PriorityScore: priority,
		}),
		Reasoning:  reasoningText,
		Confidence: confidence,
		Fallback:   fallback,
	}
	if err := a.decisions.CreateDecision(ctx, decision); err != nil {
		a.logger.Warn("Failed to record urgency decision", zap.Error(err))
	}

	if _, err := a.events.Record(ctx, models.EventShortageRequest, req.ID, models.AgentHospital, models.ShortageRequestPayload{
		RequestID:     req.ID,
		HospitalID:    req.HospitalID,
		BloodType:     string(req.BloodType),
		UnitsNeeded:   req.UnitsNeeded,
		Urgency:       string(req.Urgency),
		PriorityScore: req.PriorityScore,
		AutoDetected:  req.AutoDetected,
	}); err != nil {
		a.logger.Warn("Failed to record shortage event", zap.Error(err))
	}

	if err := a.queue.Enqueue(ctx, dispatch.TriggerDonorMatch, req.ID, nil); err != nil {
		return nil, fmt.Errorf("failed to trigger donor matching: %w", err)
	}

	a.logger.Info("Shortage request created",
		zap.String("request_id", req.ID),
		zap.String("hospital_id", req.HospitalID),
		zap.String("blood_type", string(req.BloodType)),
		zap.String("urgency", string(req.Urgency)),
		zap.Int("units_needed", req.UnitsNeeded),
		zap.Float64("priority_score", req.PriorityScore),
		zap.Bool("auto_detected", req.AutoDetected),
	)

	return req, nil
}

// refineUrgency 外部决策精化紧急度；任何失败沿用固定分档结果
func (a *Agent) refineUrgency(ctx context.Context, alert StockAlert, daysRemaining float64, urgency models.Urgency, priority float64) (models.Urgency, float64, bool, string, float64) {
	outcome, err := a.decider.Decide(ctx, reasoning.Query{
		AgentType: models.AgentHospital,
		EventType: models.EventShortageRequest,
		Prompt:    "Classify blood shortage urgency and priority for the given stock situation.",
		Context: map[string]any{
			"blood_type":     string(alert.BloodType),
			"current_units":  alert.CurrentUnits,
			"daily_usage":    alert.DailyUsage,
			"days_remaining": daysRemaining,
			"rarity_score":   bloodtype.RarityScore(alert.BloodType),
			"derived":        string(urgency),
		},
	})
	if err != nil {
		return urgency, priority, true, "deterministic urgency bands applied", 1.0
	}

	var refined models.UrgencyDecision
	if err := reasoning.DecodeDecision(outcome, &refined); err != nil {
		return urgency, priority, true, "deterministic urgency bands applied", 1.0
	}

	switch models.Urgency(refined.Urgency) {
	case models.UrgencyLow, models.UrgencyMedium, models.UrgencyHigh, models.UrgencyCritical:
	default:
		// 不认识的紧急度视为不合规响应
		return urgency, priority, true, "deterministic urgency bands applied", 1.0
	}
	if refined.PriorityScore < 0 || refined.PriorityScore > 100 {
		return urgency, priority, true, "deterministic urgency bands applied", 1.0
	}

	return models.Urgency(refined.Urgency), refined.PriorityScore, false, outcome.Reasoning, outcome.Confidence
}

// SweepAutoAlerts 自动告警巡检：库存低于配置最低值的40%时自动建单。
// 去重两层：Redis SETNX（4小时窗口）挡住重复巡检，存储层 HasRecentRequest 挡住跨实例竞态。
func (a *Agent) SweepAutoAlerts(ctx context.Context) error {
	hospitals, err := a.hospitals.ListHospitals(ctx)
	if err != nil {
		return fmt.Errorf("failed to list hospitals: %w", err)
	}

	dedupWindow := time.Duration(a.cfg.Hospital.AutoAlertDedupHr) * time.Hour

	for _, hospital := range hospitals {
		for btStr, minUnits := range hospital.MinStockUnits {
			bt, err := bloodtype.Parse(btStr)
			if err != nil || minUnits <= 0 {
				continue
			}

			stock, err := a.inventory.SumStock(ctx, hospital.ID, bt)
			if err != nil {
				a.logger.Warn("Failed to read stock for auto-alert sweep",
					zap.String("hospital_id", hospital.ID),
					zap.String("blood_type", btStr),
					zap.Error(err),
				)
				continue
			}

			if float64(stock) >= float64(minUnits)*a.cfg.Hospital.AutoAlertPercent {
				continue
			}

			dedupKey := fmt.Sprintf("bloodlink:autoalert:%s:%s", hospital.ID, btStr)
			acquired, err := a.redisClient.SetNX(ctx, dedupKey, time.Now().Format(time.RFC3339), dedupWindow).Result()
			if err != nil {
				a.logger.Warn("Auto-alert dedup check failed", zap.Error(err))
				continue
			}
			if !acquired {
				continue
			}

			recent, err := a.requests.HasRecentRequest(ctx, hospital.ID, btStr, time.Now().Add(-dedupWindow))
			if err != nil {
				a.logger.Warn("Failed to check recent requests", zap.Error(err))
				continue
			}
			if recent {
				continue
			}

			// 日用量未知时按最低库存的周转估算
			estimatedDailyUsage := float64(minUnits) / 5.0
			if _, err := a.ProcessStockAlert(ctx, StockAlert{
				HospitalID:   hospital.ID,
				BloodType:    bt,
				CurrentUnits: stock,
				DailyUsage:   estimatedDailyUsage,
				AutoDetected: true,
			}); err != nil {
				a.logger.Error("Auto-alert request creation failed",
					zap.String("hospital_id", hospital.ID),
					zap.String("blood_type", btStr),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

// RunAutoAlertLoop 周期执行自动告警巡检，阻塞直到 ctx 取消
func (a *Agent) RunAutoAlertLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.SweepAutoAlerts(ctx); err != nil {
				a.logger.Error("Auto-alert sweep failed", zap.Error(err))
			}
		}
	}
}
