// Package inventory 库存调拨：在合作机构中检索可转运库存，
// 原子预留后生成运输需求。预留是全系统唯一的真互斥点，
// 由存储层条件更新保证，绝不读后写。
package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/dispatch"
	"bloodlink-coordinator/internal/eventlog"
	"bloodlink-coordinator/internal/models"
	"bloodlink-coordinator/internal/reasoning"
	"bloodlink-coordinator/internal/repository"
	"bloodlink-coordinator/internal/scoring"
)

// unitCandidate 评分后的库存候选
type unitCandidate struct {
	unit       *models.InventoryUnit
	hospital   *models.Hospital
	distanceKm float64
	score      float64
}

// Agent 库存Agent
type Agent struct {
	requests   repository.ShortageRequestStore
	workflows  repository.WorkflowStateStore
	inventory  repository.InventoryStore
	hospitals  repository.HospitalStore
	transports repository.TransportStore
	decisions  repository.DecisionStore
	events     eventlog.Recorder
	queue      dispatch.Queue
	decider    reasoning.Decider
	cfg        *config.Config
	logger     *zap.Logger

	now func() time.Time
}

// NewAgent 创建库存Agent
func NewAgent(
	requests repository.ShortageRequestStore,
	workflows repository.WorkflowStateStore,
	inventory repository.InventoryStore,
	hospitals repository.HospitalStore,
	transports repository.TransportStore,
	decisions repository.DecisionStore,
	events eventlog.Recorder,
	queue dispatch.Queue,
	decider reasoning.Decider,
	cfg *config.Config,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		requests:   requests,
		workflows:  workflows,
		inventory:  inventory,
		hospitals:  hospitals,
		transports: transports,
		decisions:  decisions,
		events:     events,
		queue:      queue,
		decider:    decider,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleSearch 为缺血请求检索并预留合作机构库存。
// 找不到库存不算错误：记录决策后终止本路径（请求可能仍由献血者路径满足）。
func (a *Agent) HandleSearch(ctx context.Context, requestID string) error {
	req, err := a.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.IsTerminal() {
		a.logger.Info("Request already fulfilled, inventory search skipped",
			zap.String("request_id", requestID),
		)
		return nil
	}

	state, err := a.workflows.GetState(ctx, requestID)
	if err != nil {
		return err
	}
	if state.FulfillmentPlan != nil {
		a.logger.Info("Fulfillment plan already set, inventory search skipped",
			zap.String("request_id", requestID),
		)
		return nil
	}

	candidates, err := a.findCandidates(ctx, req)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return a.recordNoInventory(ctx, req)
	}

	ranked, fallback, reasoningText, confidence := a.rankCandidates(ctx, req, candidates)

	// 按排名预留，被别的请求抢走的单位顺延到下一个候选
	reserved, sourceHospital := a.reserveUnits(ctx, req, ranked)
	if len(reserved) == 0 {
		a.logger.Warn("All candidate units were reserved concurrently",
			zap.String("request_id", requestID),
		)
		return a.recordNoInventory(ctx, req)
	}

	unitIDs := make([]string, 0, len(reserved))
	totalUnits := 0
	for _, c := range reserved {
		unitIDs = append(unitIDs, c.unit.ID)
		totalUnits += c.unit.Units
	}
	topScore := reserved[0].score

	if err := a.decisions.CreateDecision(ctx, &models.AgentDecision{
		ID:        uuid.New().String(),
		AgentType: models.AgentInventory,
		EventType: models.EventInventoryMatch,
		RequestID: req.ID,
		Decision: models.MarshalDecision(models.InventorySelectionDecision{
			SelectedUnitIDs:  unitIDs,
			SourceHospitalID: sourceHospital.ID,
			Score:            topScore,
		}),
		Reasoning:  reasoningText,
		Confidence: confidence,
		Fallback:   fallback,
	}); err != nil {
		a.logger.Warn("Failed to record inventory selection decision", zap.Error(err))
	}

	if _, err := a.events.Record(ctx, models.EventInventoryMatch, req.ID, models.AgentInventory, models.InventoryMatchPayload{
		RequestID:        req.ID,
		SourceHospitalID: sourceHospital.ID,
		UnitIDs:          unitIDs,
		Units:            totalUnits,
		Score:            topScore,
	}); err != nil {
		a.logger.Warn("Failed to record inventory match event", zap.Error(err))
	}

	transport := &models.TransportRequest{
		ID:             uuid.New().String(),
		RequestID:      req.ID,
		FromHospitalID: sourceHospital.ID,
		ToHospitalID:   req.HospitalID,
		BloodType:      req.BloodType,
		Units:          totalUnits,
		Status:         models.TransportPending,
		DistanceKm:     reserved[0].distanceKm,
	}
	if err := a.transports.CreateTransport(ctx, transport); err != nil {
		a.releaseUnits(ctx, req.ID, reserved)
		return fmt.Errorf("failed to create transport request: %w", err)
	}

	plan := &models.FulfillmentPlan{
		Strategy:           "inventory",
		SourceHospitalID:   sourceHospital.ID,
		ReservedUnitIDs:    unitIDs,
		TransportRequestID: transport.ID,
	}
	planSet, err := a.workflows.SetFulfillmentPlan(ctx, req.ID, plan)
	if err != nil {
		return fmt.Errorf("failed to persist fulfillment plan: %w", err)
	}
	if !planSet {
		// 献血者路径抢先完成匹配：回滚预留，取消运输
		a.logger.Info("Donor path matched first, releasing reserved inventory",
			zap.String("request_id", req.ID),
		)
		a.releaseUnits(ctx, req.ID, reserved)
		if _, err := a.transports.AdvanceTransportStatus(ctx, transport.ID, models.TransportPending, models.TransportCancelled); err != nil {
			a.logger.Warn("Failed to cancel transport after plan race", zap.Error(err))
		}
		return nil
	}

	if _, err := a.workflows.AdvanceState(ctx, req.ID, state.Status, models.WorkflowFulfillmentInProgress, "inventory_reserved"); err != nil {
		a.logger.Warn("Failed to advance workflow state", zap.Error(err))
	}

	if err := a.queue.Enqueue(ctx, dispatch.TriggerLogisticsPlan, req.ID, map[string]string{
		"transport_id": transport.ID,
	}); err != nil {
		return fmt.Errorf("failed to trigger logistics planning: %w", err)
	}

	a.logger.Info("Inventory reserved and transport requested",
		zap.String("request_id", req.ID),
		zap.String("source_hospital_id", sourceHospital.ID),
		zap.Int("units", totalUnits),
		zap.Strings("unit_ids", unitIDs),
		zap.Float64("score", topScore),
	)

	return nil
}

// findCandidates 检索网络半径内、保质期达标的未预留库存并评分
func (a *Agent) findCandidates(ctx context.Context, req *models.ShortageRequest) ([]unitCandidate, error) {
	minExpiry := a.now().AddDate(0, 0, a.cfg.Inventory.MinShelfLifeDays)
	compatible := bloodtype.CompatibleDonors(req.BloodType)

	units, err := a.inventory.FindAvailableUnits(ctx, compatible, req.HospitalID, minExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to search inventory: %w", err)
	}

	now := a.now()
	hospitalCache := make(map[string]*models.Hospital)
	var candidates []unitCandidate
	for _, unit := range units {
		hospital, ok := hospitalCache[unit.HospitalID]
		if !ok {
			hospital, err = a.hospitals.GetHospital(ctx, unit.HospitalID)
			if err != nil {
				a.logger.Warn("Failed to load holding hospital, unit excluded",
					zap.String("hospital_id", unit.HospitalID),
					zap.Error(err),
				)
				continue
			}
			hospitalCache[unit.HospitalID] = hospital
		}

		distance := req.Location.DistanceKm(hospital.Location)
		if distance > a.cfg.Inventory.NetworkRadiusKm {
			continue
		}

		score := scoring.InventoryScore(scoring.InventoryScoreInput{
			DistanceKm:      distance,
			NetworkRadiusKm: a.cfg.Inventory.NetworkRadiusKm,
			DaysUntilExpiry: unit.DaysUntilExpiry(now),
			UnitsAvailable:  unit.Units,
			UnitsNeeded:     req.UnitsNeeded,
			Has24x7Dispatch: hospital.Has24x7Dispatch,
		})
		candidates = append(candidates, unitCandidate{
			unit: unit, hospital: hospital, distanceKm: distance, score: score,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	return candidates, nil
}

// rankCandidates 外部决策挑选首选来源；失败或不合规保持分数排序
func (a *Agent) rankCandidates(ctx context.Context, req *models.ShortageRequest, candidates []unitCandidate) ([]unitCandidate, bool, string, float64) {
	candidateCtx := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		candidateCtx = append(candidateCtx, map[string]any{
			"unit_id":     c.unit.ID,
			"hospital_id": c.hospital.ID,
			"units":       c.unit.Units,
			"distance_km": c.distanceKm,
			"score":       c.score,
		})
	}

	outcome, err := a.decider.Decide(ctx, reasoning.Query{
		AgentType: models.AgentInventory,
		EventType: models.EventInventoryMatch,
		RequestID: req.ID,
		Prompt:    "Select the best inventory source for a blood transfer.",
		Context: map[string]any{
			"units_needed": req.UnitsNeeded,
			"blood_type":   string(req.BloodType),
			"candidates":   candidateCtx,
		},
	})
	if err != nil {
		return candidates, true, "highest inventory score selected", 1.0
	}

	var decision models.InventorySelectionDecision
	if err := reasoning.DecodeDecision(outcome, &decision); err != nil {
		return candidates, true, "highest inventory score selected", 1.0
	}

	// 被点名的单位提到队首，其余保持分数顺序
	chosen := make(map[string]bool, len(decision.SelectedUnitIDs))
	for _, id := range decision.SelectedUnitIDs {
		chosen[id] = true
	}
	if len(chosen) == 0 {
		return candidates, true, "highest inventory score selected", 1.0
	}
	reordered := make([]unitCandidate, 0, len(candidates))
	var rest []unitCandidate
	for _, c := range candidates {
		if chosen[c.unit.ID] {
			reordered = append(reordered, c)
		} else {
			rest = append(rest, c)
		}
	}
	if len(reordered) == 0 {
		return candidates, true, "highest inventory score selected", 1.0
	}
	return append(reordered, rest...), false, outcome.Reasoning, outcome.Confidence
}

// reserveUnits 按排名依次原子预留，凑够所需单位为止。
// 只从单一来源机构预留（一次运输一条线路）。
func (a *Agent) reserveUnits(ctx context.Context, req *models.ShortageRequest, ranked []unitCandidate) ([]unitCandidate, *models.Hospital) {
	var reserved []unitCandidate
	var source *models.Hospital
	covered := 0

	for _, c := range ranked {
		if source != nil && c.hospital.ID != source.ID {
			continue
		}
		ok, err := a.inventory.ReserveUnit(ctx, c.unit.ID, req.ID)
		if err != nil {
			a.logger.Warn("Failed to reserve inventory unit",
				zap.String("unit_id", c.unit.ID),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			// 并发请求抢先预留，顺延
			continue
		}
		if source == nil {
			source = c.hospital
		}
		reserved = append(reserved, c)
		covered += c.unit.Units
		if covered >= req.UnitsNeeded {
			break
		}
	}

	return reserved, source
}

// releaseUnits 回滚预留（尽力而为）
func (a *Agent) releaseUnits(ctx context.Context, requestID string, reserved []unitCandidate) {
	for _, c := range reserved {
		if _, err := a.inventory.ReleaseUnit(ctx, c.unit.ID, requestID); err != nil {
			a.logger.Warn("Failed to release inventory unit",
				zap.String("unit_id", c.unit.ID),
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
	}
}

// recordNoInventory 零库存结果：记录决策后终止本路径
func (a *Agent) recordNoInventory(ctx context.Context, req *models.ShortageRequest) error {
	a.logger.Info("No transferable inventory found",
		zap.String("request_id", req.ID),
		zap.String("blood_type", string(req.BloodType)),
	)

	if err := a.decisions.CreateDecision(ctx, &models.AgentDecision{
		ID:        uuid.New().String(),
		AgentType: models.AgentInventory,
		EventType: models.EventInventoryMatch,
		RequestID: req.ID,
		Decision: models.MarshalDecision(models.InventorySelectionDecision{
			SelectedUnitIDs: nil,
		}),
		Reasoning:  "no unreserved compatible units within network reach",
		Confidence: 1.0,
		Fallback:   true,
	}); err != nil {
		a.logger.Warn("Failed to record no-inventory decision", zap.Error(err))
	}

	return nil
}
