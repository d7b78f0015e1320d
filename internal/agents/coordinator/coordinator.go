// Package coordinator 响应仲裁：接收献血者回应、选择最优匹配、
// 处理响应窗口超时、确认到院并收口请求。
// 所有状态推进都是条件更新，重复触发下退化为空操作。
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/agents/logistics"
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

// Agent 协调Agent
type Agent struct {
	requests  repository.ShortageRequestStore
	workflows repository.WorkflowStateStore
	responses repository.DonorResponseStore
	donors    repository.DonorStore
	hospitals repository.HospitalStore
	decisions repository.DecisionStore
	events    eventlog.Recorder
	queue     dispatch.Queue
	notifier  notify.Notifier
	decider   reasoning.Decider
	cfg       *config.Config
	logger    *zap.Logger

	now func() time.Time
}

// NewAgent 创建协调Agent
func NewAgent(
	requests repository.ShortageRequestStore,
	workflows repository.WorkflowStateStore,
	responses repository.DonorResponseStore,
	donors repository.DonorStore,
	hospitals repository.HospitalStore,
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
		responses: responses,
		donors:    donors,
		hospitals: hospitals,
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

func (a *Agent) tokenTTL() time.Duration {
	hours := a.cfg.Coordinator.TokenTTLHours
	if hours <= 0 {
		return token.DefaultTTL
	}
	return time.Duration(hours) * time.Hour
}

// ProcessDonorResponse 处理献血者接受/拒绝回应，返回面向用户的消息。
// 令牌格式错误或过期返回错误（调用方映射为 4xx）。
func (a *Agent) ProcessDonorResponse(ctx context.Context, rawToken string, accept bool) (string, error) {
	now := a.now()
	tok, err := token.Validate(rawToken, now, a.tokenTTL())
	if err != nil {
		return "", err
	}

	resp, err := a.responses.GetResponse(ctx, tok.DonorID, tok.RequestID)
	if err != nil {
		return "", fmt.Errorf("no pending notification found for this token: %w", err)
	}

	status := models.ResponseDeclined
	if accept {
		status = models.ResponseAccepted
	}
	responseTimeMs := now.Sub(resp.NotifiedAt).Milliseconds()

	recorded, err := a.responses.RecordResponse(ctx, tok.DonorID, tok.RequestID, status, now, responseTimeMs)
	if err != nil {
		return "", fmt.Errorf("failed to record response: %w", err)
	}
	if !recorded {
		return "Your response has already been recorded.", nil
	}

	if err := a.donors.RecordReply(ctx, tok.DonorID, accept, float64(responseTimeMs)/60000.0); err != nil {
		a.logger.Warn("Failed to update donor response stats",
			zap.String("donor_id", tok.DonorID),
			zap.Error(err),
		)
	}

	if _, err := a.events.Record(ctx, models.EventDonorResponse, tok.RequestID, models.AgentCoordinator, models.DonorResponsePayload{
		RequestID:      tok.RequestID,
		DonorID:        tok.DonorID,
		Status:         string(status),
		ResponseTimeMs: responseTimeMs,
	}); err != nil {
		a.logger.Warn("Failed to record donor response event", zap.Error(err))
	}

	a.logger.Info("Donor response recorded",
		zap.String("request_id", tok.RequestID),
		zap.String("donor_id", tok.DonorID),
		zap.String("status", string(status)),
		zap.Int64("response_time_ms", responseTimeMs),
	)

	if !accept {
		return "Thank you for responding. We hope you can help next time.", nil
	}

	return a.handleAcceptance(ctx, tok.DonorID, tok.RequestID, resp.DistanceKm)
}

// handleAcceptance 接受路径：告知医院信息（每个接受者都被告知前来，
// 不只是最终选中者）、估算到院时间，首次接受时推进请求进入匹配阶段
func (a *Agent) handleAcceptance(ctx context.Context, donorID, requestID string, distanceKm float64) (string, error) {
	req, err := a.requests.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	hospital, err := a.hospitals.GetHospital(ctx, req.HospitalID)
	if err != nil {
		return "", err
	}

	mode := logistics.RecommendMode(distanceKm)
	eta := logistics.DonorTravelETA(distanceKm, mode)
	arrival := a.now().Add(time.Duration(eta * float64(time.Minute)))
	if err := a.responses.SetExpectedArrival(ctx, donorID, requestID, arrival); err != nil {
		a.logger.Warn("Failed to store expected arrival", zap.Error(err))
	}

	if err := a.notifier.Send(ctx, notify.Notification{
		Kind:      notify.KindHospitalDetails,
		Recipient: donorID,
		RequestID: requestID,
		Subject:   fmt.Sprintf("Thank you! Please head to %s", hospital.Name),
		Body: fmt.Sprintf("%s, %s. Phone: %s. Estimated travel time by %s: %.0f minutes.",
			hospital.Name, hospital.Address, hospital.Phone, mode, eta),
		Data: map[string]any{
			"hospital_name":    hospital.Name,
			"hospital_address": hospital.Address,
			"hospital_phone":   hospital.Phone,
			"travel_mode":      string(mode),
			"eta_minutes":      eta,
		},
	}); err != nil {
		a.logger.Warn("Failed to send hospital details", zap.Error(err))
	}

	// 首次接受：请求进入匹配阶段并调度最优匹配
	advanced, err := a.requests.UpdateRequestStatus(ctx, requestID, models.RequestDonorsNotified, models.RequestMatching)
	if err != nil {
		return "", fmt.Errorf("failed to advance request status: %w", err)
	}
	if advanced {
		if _, err := a.workflows.AdvanceState(ctx, requestID, models.WorkflowDonorsNotified, models.WorkflowMatching, "first_acceptance"); err != nil {
			a.logger.Warn("Failed to advance workflow state", zap.Error(err))
		}
		if err := a.queue.Enqueue(ctx, dispatch.TriggerOptimalMatch, requestID, nil); err != nil {
			a.logger.Error("Failed to enqueue optimal match trigger", zap.Error(err))
		}
	}

	return fmt.Sprintf("Thank you for accepting! Please proceed to %s at %s. Estimated travel time: %.0f minutes.",
		hospital.Name, hospital.Address, eta), nil
}

// matchCandidate 最优匹配评分后的接受者
type matchCandidate struct {
	response *models.DonorCandidateResponse
	donor    *models.Donor
	score    float64
}

// SelectOptimalMatch 从已接受者中选出最优献血者。
// 每个请求最多成功执行一次：已有匹配结果时第二次调用返回 alreadyMatched
// 且不改动履约方案；并发竞态由履约方案的条件写入兜住。
func (a *Agent) SelectOptimalMatch(ctx context.Context, requestID string) (bool, error) {
	state, err := a.workflows.GetState(ctx, requestID)
	if err != nil {
		return false, err
	}
	if state.MatchedDonorID() != "" {
		a.logger.Info("Request already matched, selection skipped",
			zap.String("request_id", requestID),
			zap.String("matched_donor_id", state.MatchedDonorID()),
		)
		return true, nil
	}

	accepted, err := a.responses.ListResponsesByStatus(ctx, requestID, models.ResponseAccepted)
	if err != nil {
		return false, err
	}
	if len(accepted) == 0 {
		a.logger.Info("No accepted donors yet, selection deferred",
			zap.String("request_id", requestID),
		)
		return false, nil
	}

	now := a.now()
	candidates := make([]matchCandidate, 0, len(accepted))
	for _, resp := range accepted {
		donor, err := a.donors.GetDonor(ctx, resp.DonorID)
		if err != nil {
			a.logger.Warn("Failed to load accepted donor, excluded from selection",
				zap.String("donor_id", resp.DonorID),
				zap.Error(err),
			)
			continue
		}

		eta := a.candidateETA(resp, now)
		score := scoring.MatchScore(scoring.MatchScoreInput{
			ETAMinutes:  eta,
			DistanceKm:  resp.DistanceKm,
			Reliability: donor.ReliabilityScore,
			HealthScore: scoring.HealthScore(donor.Hemoglobin, donor.BMI(), donor.Vaccinated, donor.OnMedication),
		})
		candidates = append(candidates, matchCandidate{response: resp, donor: donor, score: score})
	}
	if len(candidates) == 0 {
		return false, fmt.Errorf("no loadable accepted donors for request %s", requestID)
	}

	chosen, fallback, reasoningText, confidence := a.chooseCandidate(ctx, requestID, candidates)

	plan := &models.FulfillmentPlan{
		Strategy:       "donor",
		MatchedDonorID: chosen.donor.ID,
		MatchScore:     chosen.score,
	}
	planSet, err := a.workflows.SetFulfillmentPlan(ctx, requestID, plan)
	if err != nil {
		return false, fmt.Errorf("failed to persist fulfillment plan: %w", err)
	}
	if !planSet {
		// 竞态：另一次选择已先落盘
		a.logger.Info("Fulfillment plan already set by concurrent selection",
			zap.String("request_id", requestID),
		)
		return true, nil
	}
	if err := a.workflows.SetMetadata(ctx, requestID, "matched_donor_id", chosen.donor.ID); err != nil {
		a.logger.Warn("Failed to record matched donor metadata", zap.Error(err))
	}

	if err := a.decisions.CreateDecision(ctx, &models.AgentDecision{
		ID:        uuid.New().String(),
		AgentType: models.AgentCoordinator,
		EventType: models.EventDonorResponse,
		RequestID: requestID,
		Decision: models.MarshalDecision(models.DonorSelectionDecision{
			SelectedDonorID: chosen.donor.ID,
			MatchScore:      chosen.score,
			CandidateCount:  len(candidates),
		}),
		Reasoning:  reasoningText,
		Confidence: confidence,
		Fallback:   fallback,
	}); err != nil {
		a.logger.Warn("Failed to record donor selection decision", zap.Error(err))
	}

	a.notifySelection(ctx, requestID, chosen, candidates)

	if _, err := a.requests.UpdateRequestStatus(ctx, requestID, models.RequestMatching, models.RequestMatched); err != nil {
		a.logger.Warn("Failed to advance request status to matched", zap.Error(err))
	}
	if _, err := a.workflows.AdvanceState(ctx, requestID, models.WorkflowMatching, models.WorkflowFulfillmentInProgress, "donor_matched"); err != nil {
		a.logger.Warn("Failed to advance workflow state", zap.Error(err))
	}

	a.logger.Info("Optimal donor selected",
		zap.String("request_id", requestID),
		zap.String("donor_id", chosen.donor.ID),
		zap.Float64("match_score", chosen.score),
		zap.Int("candidates", len(candidates)),
		zap.Bool("fallback", fallback),
	)

	return false, nil
}

// candidateETA 接受者的到院时间：已有预计到达时刻按剩余时间算，否则按推荐方式估算
func (a *Agent) candidateETA(resp *models.DonorCandidateResponse, now time.Time) float64 {
	if resp.ExpectedArrival != nil {
		remaining := resp.ExpectedArrival.Sub(now).Minutes()
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	return logistics.DonorTravelETA(resp.DistanceKm, logistics.RecommendMode(resp.DistanceKm))
}

// chooseCandidate 外部决策选人；失败或选了不在候选集里的人走最高分兜底
func (a *Agent) chooseCandidate(ctx context.Context, requestID string, candidates []matchCandidate) (matchCandidate, bool, string, float64) {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}

	candidateCtx := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		candidateCtx = append(candidateCtx, map[string]any{
			"donor_id":    c.donor.ID,
			"match_score": c.score,
			"distance_km": c.response.DistanceKm,
			"reliability": c.donor.ReliabilityScore,
		})
	}

	outcome, err := a.decider.Decide(ctx, reasoning.Query{
		AgentType: models.AgentCoordinator,
		EventType: models.EventDonorResponse,
		RequestID: requestID,
		Prompt:    "Select the optimal donor among accepted candidates.",
		Context:   map[string]any{"candidates": candidateCtx},
	})
	if err != nil {
		return best, true, "highest match score selected", 1.0
	}

	var decision models.DonorSelectionDecision
	if err := reasoning.DecodeDecision(outcome, &decision); err != nil {
		return best, true, "highest match score selected", 1.0
	}

	for _, c := range candidates {
		if c.donor.ID == decision.SelectedDonorID {
			return c, false, outcome.Reasoning, outcome.Confidence
		}
	}
	// 选了不存在的候选人，视为不合规响应
	return best, true, "highest match score selected", 1.0
}

// notifySelection 通知选中者与落选者（礼貌性婉拒，失败只记日志不阻断）
func (a *Agent) notifySelection(ctx context.Context, requestID string, chosen matchCandidate, candidates []matchCandidate) {
	if err := a.notifier.Send(ctx, notify.Notification{
		Kind:      notify.KindSelected,
		Recipient: chosen.donor.ID,
		RequestID: requestID,
		Subject:   "You have been selected as the matched donor",
		Body:      "You are the confirmed donor for this request. The hospital is expecting you.",
		Data:      map[string]any{"match_score": chosen.score},
	}); err != nil {
		a.logger.Warn("Failed to notify selected donor",
			zap.String("donor_id", chosen.donor.ID),
			zap.Error(err),
		)
	}

	for _, c := range candidates {
		if c.donor.ID == chosen.donor.ID {
			continue
		}
		if err := a.notifier.Send(ctx, notify.Notification{
			Kind:      notify.KindCourtesyDecline,
			Recipient: c.donor.ID,
			RequestID: requestID,
			Subject:   "Another donor has been matched",
			Body:      "Thank you for accepting. Another donor closer to the hospital was matched this time.",
		}); err != nil {
			a.logger.Warn("Failed to send courtesy decline",
				zap.String("donor_id", c.donor.ID),
				zap.Error(err),
			)
		}
	}
}

// SweepTimeouts 响应窗口超时巡检。
// 超时前再查一次接受情况（接受可能刚好赶在超时触发前落地）；
// 确认无人接受才标记超时并触发库存路径。
func (a *Agent) SweepTimeouts(ctx context.Context) error {
	cutoff := a.now().Add(-time.Duration(a.cfg.Coordinator.ResponseWindowMin) * time.Minute)
	stale, err := a.requests.ListStaleByStatus(ctx, models.RequestDonorsNotified, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale requests: %w", err)
	}

	for _, req := range stale {
		acceptedCount, err := a.responses.CountResponsesByStatus(ctx, req.ID, models.ResponseAccepted)
		if err != nil {
			a.logger.Warn("Failed to count acceptances during timeout sweep",
				zap.String("request_id", req.ID),
				zap.Error(err),
			)
			continue
		}
		if acceptedCount > 0 {
			// 竞态：接受已落地但状态推进丢失，补调度最优匹配
			if _, err := a.requests.UpdateRequestStatus(ctx, req.ID, models.RequestDonorsNotified, models.RequestMatching); err != nil {
				a.logger.Warn("Failed to advance raced request", zap.Error(err))
				continue
			}
			if err := a.queue.Enqueue(ctx, dispatch.TriggerOptimalMatch, req.ID, nil); err != nil {
				a.logger.Error("Failed to enqueue optimal match after race recheck", zap.Error(err))
			}
			continue
		}

		timedOut, err := a.requests.UpdateRequestStatus(ctx, req.ID, models.RequestDonorsNotified, models.RequestDonorTimeout)
		if err != nil {
			a.logger.Warn("Failed to mark request timed out",
				zap.String("request_id", req.ID),
				zap.Error(err),
			)
			continue
		}
		if !timedOut {
			continue
		}

		a.logger.Info("Donor response window expired, falling back to inventory",
			zap.String("request_id", req.ID),
		)
		if err := a.queue.Enqueue(ctx, dispatch.TriggerInventorySearch, req.ID, map[string]string{"reason": "donor_timeout"}); err != nil {
			a.logger.Error("Failed to enqueue inventory search after timeout", zap.Error(err))
		}
	}

	return nil
}

// RunTimeoutSweep 周期执行超时巡检，阻塞直到 ctx 取消
func (a *Agent) RunTimeoutSweep(ctx context.Context) {
	interval := time.Duration(a.cfg.Coordinator.SweepIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.SweepTimeouts(ctx); err != nil {
				a.logger.Error("Timeout sweep failed", zap.Error(err))
			}
		}
	}
}

// ConfirmArrival 医院侧确认献血者到院：响应标记 confirmed，
// 工作流与请求一并收口为 fulfilled
func (a *Agent) ConfirmArrival(ctx context.Context, donorID, requestID string) error {
	confirmed, err := a.responses.ConfirmArrival(ctx, donorID, requestID)
	if err != nil {
		return fmt.Errorf("failed to confirm arrival: %w", err)
	}
	if !confirmed {
		return fmt.Errorf("no unconfirmed accepted response for donor %s on request %s", donorID, requestID)
	}

	if _, err := a.workflows.AdvanceState(ctx, requestID, models.WorkflowFulfillmentInProgress, models.WorkflowFulfilled, "arrival_confirmed"); err != nil {
		a.logger.Warn("Failed to advance workflow to fulfilled", zap.Error(err))
	}
	if _, err := a.requests.UpdateRequestStatus(ctx, requestID, models.RequestMatched, models.RequestFulfilled); err != nil {
		a.logger.Warn("Failed to close request", zap.Error(err))
	}

	a.logger.Info("Donor arrival confirmed, request fulfilled",
		zap.String("request_id", requestID),
		zap.String("donor_id", donorID),
	)

	return nil
}
