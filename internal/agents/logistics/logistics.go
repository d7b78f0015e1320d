// Package logistics 运输规划：方式选择、ETA估算、冷链校验、献血者到院时间。
package logistics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/eventlog"
	"bloodlink-coordinator/internal/models"
	"bloodlink-coordinator/internal/notify"
	"bloodlink-coordinator/internal/reasoning"
	"bloodlink-coordinator/internal/repository"
)

// ArrivalBufferMin 献血者准备+登记的固定缓冲（分钟）
const ArrivalBufferMin = 25.0

// 出行方式均速（km/h）
var modeSpeeds = map[models.TravelMode]float64{
	models.TravelWalking:         5,
	models.TravelBicycle:         15,
	models.TravelPublicTransport: 25,
	models.TravelCar:             40,
	models.TravelMotorcycle:      30,
}

// TrafficMultiplier 时段拥堵系数：早晚高峰 ×1.5，夜间 ×0.8，其余 ×1.0
func TrafficMultiplier(hour int) float64 {
	switch {
	case (hour >= 7 && hour < 9) || (hour >= 17 && hour < 19):
		return 1.5
	case hour >= 22 || hour < 5:
		return 0.8
	default:
		return 1.0
	}
}

// MethodFactor 运输方式系数与附加延迟（分钟）
// scheduled 走定时批次，额外60分钟等待
func MethodFactor(method models.TransportMethod) (float64, float64) {
	switch method {
	case models.TransportAmbulance:
		return 0.7, 0
	case models.TransportScheduled:
		return 1.2, 60
	default:
		return 1.0, 0
	}
}

// SelectMethod 固定规则选择运输方式：
// <15km 且 critical → 救护车；<50km 且 high/critical → 专递；其余走定时批次
func SelectMethod(distanceKm float64, urgency models.Urgency) models.TransportMethod {
	if distanceKm < 15 && urgency == models.UrgencyCritical {
		return models.TransportAmbulance
	}
	if distanceKm < 50 && (urgency == models.UrgencyHigh || urgency == models.UrgencyCritical) {
		return models.TransportCourier
	}
	return models.TransportScheduled
}

// TransportETA 运输ETA（分钟）= 基础行驶时间 × 拥堵系数 × 方式系数 + 附加延迟
func TransportETA(distanceKm, avgSpeedKmh float64, method models.TransportMethod, hour int) float64 {
	if avgSpeedKmh <= 0 {
		return 0
	}
	base := distanceKm / avgSpeedKmh * 60
	factor, extra := MethodFactor(method)
	return base*TrafficMultiplier(hour)*factor + extra
}

// DonorTravelETA 献血者单一出行方式的到院时间（分钟，含固定缓冲）
func DonorTravelETA(distanceKm float64, mode models.TravelMode) float64 {
	speed, ok := modeSpeeds[mode]
	if !ok {
		speed = modeSpeeds[models.TravelCar]
	}
	return distanceKm/speed*60 + ArrivalBufferMin
}

// AllDonorETAs 五种出行方式的到院时间估算
func AllDonorETAs(distanceKm float64) []models.DonorETA {
	modes := []models.TravelMode{
		models.TravelWalking,
		models.TravelBicycle,
		models.TravelPublicTransport,
		models.TravelCar,
		models.TravelMotorcycle,
	}
	etas := make([]models.DonorETA, 0, len(modes))
	for _, mode := range modes {
		etas = append(etas, models.DonorETA{Mode: mode, ETAMinutes: DonorTravelETA(distanceKm, mode)})
	}
	return etas
}

// RecommendMode 按距离推荐出行方式：≤1.5km 步行；≤5km 骑行；≤10km 公交；其余开车
func RecommendMode(distanceKm float64) models.TravelMode {
	switch {
	case distanceKm <= 1.5:
		return models.TravelWalking
	case distanceKm <= 5:
		return models.TravelBicycle
	case distanceKm <= 10:
		return models.TravelPublicTransport
	default:
		return models.TravelCar
	}
}

// Agent 物流Agent
type Agent struct {
	transports repository.TransportStore
	requests   repository.ShortageRequestStore
	workflows  repository.WorkflowStateStore
	responses  repository.DonorResponseStore
	donors     repository.DonorStore
	decisions  repository.DecisionStore
	events     eventlog.Recorder
	notifier   notify.Notifier
	decider    reasoning.Decider
	cfg        *config.Config
	logger     *zap.Logger

	now func() time.Time
}

// NewAgent 创建物流Agent
func NewAgent(
	transports repository.TransportStore,
	requests repository.ShortageRequestStore,
	workflows repository.WorkflowStateStore,
	responses repository.DonorResponseStore,
	donors repository.DonorStore,
	decisions repository.DecisionStore,
	events eventlog.Recorder,
	notifier notify.Notifier,
	decider reasoning.Decider,
	cfg *config.Config,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		transports: transports,
		requests:   requests,
		workflows:  workflows,
		responses:  responses,
		donors:     donors,
		decisions:  decisions,
		events:     events,
		notifier:   notifier,
		decider:    decider,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// PlanTransport 为运输请求规划方式与ETA。
// 冷链超限时方案被拒绝并升级人工，不会静默放行。
// 至少一次投递下可重入：运输请求已离开 pending 时为幂等空操作。
func (a *Agent) PlanTransport(ctx context.Context, transportID string) (*models.TransportRequest, error) {
	tr, err := a.transports.GetTransport(ctx, transportID)
	if err != nil {
		return nil, err
	}
	if tr.Status != models.TransportPending {
		a.logger.Info("Transport already planned, skipped",
			zap.String("transport_id", transportID),
			zap.String("status", string(tr.Status)),
		)
		return tr, nil
	}

	req, err := a.requests.GetRequest(ctx, tr.RequestID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	method, fallback, reasoningText, confidence := a.decideMethod(ctx, tr, req)
	eta := TransportETA(tr.DistanceKm, a.cfg.Logistics.AvgSpeedKmh, method, now.Hour())

	coldChainOK := eta <= a.cfg.Logistics.ColdChainLimitMin
	decision := &models.AgentDecision{
		ID:        uuid.New().String(),
		AgentType: models.AgentLogistics,
		EventType: models.EventLogisticsPlan,
		RequestID: tr.RequestID,
		Decision: models.MarshalDecision(models.TransportDecision{
			Method:      string(method),
			ETAMinutes:  eta,
			ColdChainOK: coldChainOK,
			Escalated:   !coldChainOK,
		}),
		Reasoning:  reasoningText,
		Confidence: confidence,
		Fallback:   fallback,
	}
	if err := a.decisions.CreateDecision(ctx, decision); err != nil {
		a.logger.Warn("Failed to record transport decision", zap.Error(err))
	}

	if !coldChainOK {
		return nil, a.escalateColdChain(ctx, tr, req, method, eta)
	}

	pickupTime := now.Add(15 * time.Minute)
	if err := a.transports.UpdateTransportPlan(ctx, transportID, method, eta, pickupTime); err != nil {
		return nil, fmt.Errorf("failed to persist transport plan: %w", err)
	}

	if _, err := a.events.Record(ctx, models.EventLogisticsPlan, tr.RequestID, models.AgentLogistics, models.LogisticsPlanPayload{
		RequestID:          tr.RequestID,
		TransportRequestID: tr.ID,
		Method:             string(method),
		DistanceKm:         tr.DistanceKm,
		ETAMinutes:         eta,
	}); err != nil {
		a.logger.Warn("Failed to record logistics plan event", zap.Error(err))
	}

	arrival := now.Add(time.Duration(eta * float64(time.Minute)))
	if err := a.workflows.SetMetadata(ctx, tr.RequestID, "expected_arrival", arrival.Format(time.RFC3339)); err != nil {
		a.logger.Warn("Failed to record expected arrival", zap.Error(err))
	}

	a.logger.Info("Transport planned",
		zap.String("transport_id", tr.ID),
		zap.String("request_id", tr.RequestID),
		zap.String("method", string(method)),
		zap.Float64("distance_km", tr.DistanceKm),
		zap.Float64("eta_minutes", eta),
	)

	tr.TransportMethod = method
	tr.ETAMinutes = eta
	tr.PickupTime = &pickupTime
	return tr, nil
}

// decideMethod 外部决策选择运输方式；失败或不合规走固定规则兜底
func (a *Agent) decideMethod(ctx context.Context, tr *models.TransportRequest, req *models.ShortageRequest) (models.TransportMethod, bool, string, float64) {
	fallbackMethod := SelectMethod(tr.DistanceKm, req.Urgency)

	outcome, err := a.decider.Decide(ctx, reasoning.Query{
		AgentType: models.AgentLogistics,
		EventType: models.EventLogisticsPlan,
		RequestID: tr.RequestID,
		Prompt:    "Select a transport method for moving reserved blood units.",
		Context: map[string]any{
			"distance_km": tr.DistanceKm,
			"urgency":     string(req.Urgency),
			"units":       tr.Units,
			"blood_type":  string(tr.BloodType),
		},
	})
	if err != nil {
		return fallbackMethod, true, "deterministic transport rules applied", 1.0
	}

	var decision models.TransportDecision
	if err := reasoning.DecodeDecision(outcome, &decision); err != nil {
		return fallbackMethod, true, "deterministic transport rules applied", 1.0
	}

	switch models.TransportMethod(decision.Method) {
	case models.TransportAmbulance, models.TransportCourier, models.TransportScheduled:
		return models.TransportMethod(decision.Method), false, outcome.Reasoning, outcome.Confidence
	default:
		return fallbackMethod, true, "deterministic transport rules applied", 1.0
	}
}

// escalateColdChain 冷链超限：取消运输请求并通知人工介入
func (a *Agent) escalateColdChain(ctx context.Context, tr *models.TransportRequest, req *models.ShortageRequest, method models.TransportMethod, eta float64) error {
	a.logger.Error("Cold-chain limit exceeded, transport plan rejected",
		zap.String("transport_id", tr.ID),
		zap.String("request_id", tr.RequestID),
		zap.Float64("eta_minutes", eta),
		zap.Float64("limit_minutes", a.cfg.Logistics.ColdChainLimitMin),
	)

	if _, err := a.transports.AdvanceTransportStatus(ctx, tr.ID, models.TransportPending, models.TransportCancelled); err != nil {
		return fmt.Errorf("failed to cancel transport: %w", err)
	}

	if _, err := a.events.Record(ctx, models.EventLogisticsStatus, tr.RequestID, models.AgentLogistics, models.LogisticsStatusPayload{
		TransportRequestID: tr.ID,
		Status:             string(models.TransportCancelled),
	}); err != nil {
		a.logger.Warn("Failed to record transport cancellation event", zap.Error(err))
	}

	if err := a.notifier.Send(ctx, notify.Notification{
		Kind:      notify.KindOpsEscalation,
		Recipient: req.HospitalID,
		RequestID: tr.RequestID,
		Subject:   "Transport plan rejected: cold-chain limit exceeded",
		Body: fmt.Sprintf("Planned %s transport over %.1f km would take %.0f minutes, above the %.0f minute cold-chain limit. Manual coordination required.",
			method, tr.DistanceKm, eta, a.cfg.Logistics.ColdChainLimitMin),
	}); err != nil {
		a.logger.Warn("Failed to send cold-chain escalation", zap.Error(err))
	}

	return nil
}

// AdvanceTransport 推进运输状态并广播状态事件
func (a *Agent) AdvanceTransport(ctx context.Context, transportID string, from, to models.TransportStatus) (bool, error) {
	advanced, err := a.transports.AdvanceTransportStatus(ctx, transportID, from, to)
	if err != nil {
		return false, err
	}
	if !advanced {
		return false, nil
	}

	tr, err := a.transports.GetTransport(ctx, transportID)
	if err != nil {
		return true, err
	}
	if _, err := a.events.Record(ctx, models.EventLogisticsStatus, tr.RequestID, models.AgentLogistics, models.LogisticsStatusPayload{
		TransportRequestID: transportID,
		Status:             string(to),
	}); err != nil {
		a.logger.Warn("Failed to record transport status event", zap.Error(err))
	}

	return true, nil
}

// DonorArrivalEstimate 献血者到院时间估算（分钟）。
// 已有存储的预计到达时间时按“到固定时刻的剩余时间”重算，而非从头估算。
func (a *Agent) DonorArrivalEstimate(ctx context.Context, donorID, requestID string, mode models.TravelMode) (float64, models.TravelMode, error) {
	resp, err := a.responses.GetResponse(ctx, donorID, requestID)
	if err != nil {
		return 0, "", err
	}

	now := a.now()
	if resp.ExpectedArrival != nil {
		remaining := resp.ExpectedArrival.Sub(now).Minutes()
		if remaining < 0 {
			remaining = 0
		}
		return remaining, mode, nil
	}

	donor, err := a.donors.GetDonor(ctx, donorID)
	if err != nil {
		return 0, "", err
	}
	req, err := a.requests.GetRequest(ctx, requestID)
	if err != nil {
		return 0, "", err
	}

	distance := donor.Location.DistanceKm(req.Location)
	if mode == "" {
		mode = RecommendMode(distance)
	}
	eta := DonorTravelETA(distance, mode)

	arrival := now.Add(time.Duration(eta * float64(time.Minute)))
	if err := a.responses.SetExpectedArrival(ctx, donorID, requestID, arrival); err != nil {
		a.logger.Warn("Failed to store expected arrival",
			zap.String("donor_id", donorID),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}

	return eta, mode, nil
}
