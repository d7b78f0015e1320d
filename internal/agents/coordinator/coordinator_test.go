package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/agents/agenttest"
	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/dispatch"
	"bloodlink-coordinator/internal/models"
	"bloodlink-coordinator/internal/notify"
	"bloodlink-coordinator/internal/token"
)

type fixture struct {
	agent     *Agent
	requests  *agenttest.RequestStore
	workflows *agenttest.WorkflowStore
	responses *agenttest.ResponseStore
	donors    *agenttest.DonorStore
	queue     *agenttest.Queue
	notifier  *agenttest.Notifier
	decisions *agenttest.DecisionStore
}

func setup(t *testing.T) *fixture {
	cfg := &config.Config{}
	cfg.Coordinator.ResponseWindowMin = 30
	cfg.Coordinator.TokenTTLHours = 4

	f := &fixture{
		requests:  agenttest.NewRequestStore(),
		workflows: agenttest.NewWorkflowStore(),
		responses: agenttest.NewResponseStore(),
		donors:    agenttest.NewDonorStore(),
		queue:     agenttest.NewQueue(),
		notifier:  agenttest.NewNotifier(),
		decisions: agenttest.NewDecisionStore(),
	}
	hospitals := agenttest.NewHospitalStore(&models.Hospital{
		ID: "hosp-1", Name: "Central Hospital", Address: "12 Main Rd", Phone: "555-0101",
		Location: models.Location{Latitude: 28.6, Longitude: 77.2},
	})
	f.agent = NewAgent(
		f.requests, f.workflows, f.responses, f.donors, hospitals,
		f.decisions, agenttest.NewEventRecorder(), f.queue, f.notifier,
		agenttest.NewFailingDecider(), cfg, zap.NewNop(),
	)
	return f
}

// seedNotified 建一条 donors_notified 请求和一位已通知的献血者，返回响应令牌
func seedNotified(t *testing.T, f *fixture, distanceKm float64) (donorID, requestID, rawToken string) {
	ctx := context.Background()
	donorID = uuid.New().String()
	requestID = uuid.New().String()

	require.NoError(t, f.requests.CreateRequest(ctx, &models.ShortageRequest{
		ID: requestID, HospitalID: "hosp-1", BloodType: bloodtype.ONeg,
		UnitsNeeded: 2, Urgency: models.UrgencyHigh,
		Status: models.RequestDonorsNotified,
	}))
	require.NoError(t, f.workflows.CreateState(ctx, &models.WorkflowState{
		RequestID: requestID, Status: models.WorkflowDonorsNotified,
	}))
	f.donors.Donors[donorID] = &models.Donor{
		ID: donorID, Gender: "male", Age: 30, WeightKg: 75, HeightCm: 178,
		Hemoglobin: 14.0, BloodType: bloodtype.ONeg, Status: models.DonorApproved,
		ReliabilityScore: 0.8, Vaccinated: true,
	}
	notifiedAt := time.Now().Add(-10 * time.Minute)
	require.NoError(t, f.responses.CreateResponse(ctx, &models.DonorCandidateResponse{
		ID: uuid.New().String(), DonorID: donorID, RequestID: requestID,
		NotifiedAt: notifiedAt, Status: models.ResponseNotified,
		DistanceKm: distanceKm, Score: 80,
	}))
	rawToken = token.Mint(donorID, requestID, notifiedAt)
	return donorID, requestID, rawToken
}

func TestProcessDonorResponse_Accept(t *testing.T) {
	f := setup(t)
	donorID, requestID, rawToken := seedNotified(t, f, 5)

	msg, err := f.agent.ProcessDonorResponse(context.Background(), rawToken, true)
	require.NoError(t, err)
	assert.Contains(t, msg, "Central Hospital")

	resp, _ := f.responses.GetResponse(context.Background(), donorID, requestID)
	assert.Equal(t, models.ResponseAccepted, resp.Status)
	assert.NotNil(t, resp.ExpectedArrival)
	assert.Greater(t, resp.ResponseTimeMs, int64(0))

	// 接受者立即收到医院信息
	sent := f.notifier.SentTo(donorID)
	require.Len(t, sent, 1)
	assert.Equal(t, notify.KindHospitalDetails, sent[0].Kind)

	// 首次接受推进请求并调度最优匹配
	req, _ := f.requests.GetRequest(context.Background(), requestID)
	assert.Equal(t, models.RequestMatching, req.Status)
	assert.True(t, f.queue.Has(dispatch.TriggerOptimalMatch))
}

func TestProcessDonorResponse_Decline(t *testing.T) {
	f := setup(t)
	donorID, requestID, rawToken := seedNotified(t, f, 5)

	msg, err := f.agent.ProcessDonorResponse(context.Background(), rawToken, false)
	require.NoError(t, err)
	assert.Contains(t, msg, "Thank you")

	resp, _ := f.responses.GetResponse(context.Background(), donorID, requestID)
	assert.Equal(t, models.ResponseDeclined, resp.Status)

	// 拒绝不推进请求
	req, _ := f.requests.GetRequest(context.Background(), requestID)
	assert.Equal(t, models.RequestDonorsNotified, req.Status)
	assert.False(t, f.queue.Has(dispatch.TriggerOptimalMatch))
}

func TestProcessDonorResponse_ExpiredToken(t *testing.T) {
	f := setup(t)
	donorID := uuid.New().String()
	requestID := uuid.New().String()

	stale := token.Mint(donorID, requestID, time.Now().Add(-5*time.Hour))
	_, err := f.agent.ProcessDonorResponse(context.Background(), stale, true)
	assert.ErrorContains(t, err, "expired")

	fresh := token.Mint(donorID, requestID, time.Now().Add(-1*time.Hour))
	_, err = f.agent.ProcessDonorResponse(context.Background(), fresh, true)
	// 过了令牌校验，挂在响应行查找上
	assert.ErrorContains(t, err, "no pending notification")
}

func TestProcessDonorResponse_MalformedToken(t *testing.T) {
	f := setup(t)
	_, err := f.agent.ProcessDonorResponse(context.Background(), "garbage", true)
	assert.ErrorContains(t, err, "malformed")
}

func TestProcessDonorResponse_Duplicate(t *testing.T) {
	f := setup(t)
	_, _, rawToken := seedNotified(t, f, 5)

	_, err := f.agent.ProcessDonorResponse(context.Background(), rawToken, true)
	require.NoError(t, err)

	msg, err := f.agent.ProcessDonorResponse(context.Background(), rawToken, false)
	require.NoError(t, err)
	assert.Contains(t, msg, "already been recorded")
}

func TestSelectOptimalMatch_PicksHighestScore(t *testing.T) {
	f := setup(t)
	nearID, requestID, nearToken := seedNotified(t, f, 2)

	// 第二位更远的接受者
	farID := uuid.New().String()
	f.donors.Donors[farID] = &models.Donor{
		ID: farID, Gender: "female", Age: 28, WeightKg: 60, HeightCm: 165,
		Hemoglobin: 13.0, BloodType: bloodtype.ONeg, Status: models.DonorApproved,
		ReliabilityScore: 0.5, Vaccinated: true,
	}
	require.NoError(t, f.responses.CreateResponse(context.Background(), &models.DonorCandidateResponse{
		ID: uuid.New().String(), DonorID: farID, RequestID: requestID,
		NotifiedAt: time.Now().Add(-10 * time.Minute), Status: models.ResponseNotified,
		DistanceKm: 40, Score: 60,
	}))
	farToken := token.Mint(farID, requestID, time.Now().Add(-10*time.Minute))

	_, err := f.agent.ProcessDonorResponse(context.Background(), nearToken, true)
	require.NoError(t, err)
	_, err = f.agent.ProcessDonorResponse(context.Background(), farToken, true)
	require.NoError(t, err)

	already, err := f.agent.SelectOptimalMatch(context.Background(), requestID)
	require.NoError(t, err)
	assert.False(t, already)

	state, _ := f.workflows.GetState(context.Background(), requestID)
	require.NotNil(t, state.FulfillmentPlan)
	assert.Equal(t, nearID, state.FulfillmentPlan.MatchedDonorID)
	assert.Equal(t, "donor", state.FulfillmentPlan.Strategy)
	assert.Equal(t, models.WorkflowFulfillmentInProgress, state.Status)

	req, _ := f.requests.GetRequest(context.Background(), requestID)
	assert.Equal(t, models.RequestMatched, req.Status)

	// 选中者收到确认，落选者收到礼貌性婉拒
	var selected, declined bool
	for _, sent := range f.notifier.SentTo(nearID) {
		if sent.Kind == notify.KindSelected {
			selected = true
		}
	}
	for _, sent := range f.notifier.SentTo(farID) {
		if sent.Kind == notify.KindCourtesyDecline {
			declined = true
		}
	}
	assert.True(t, selected)
	assert.True(t, declined)
}

func TestSelectOptimalMatch_Idempotent(t *testing.T) {
	f := setup(t)
	donorID, requestID, rawToken := seedNotified(t, f, 5)

	_, err := f.agent.ProcessDonorResponse(context.Background(), rawToken, true)
	require.NoError(t, err)

	already, err := f.agent.SelectOptimalMatch(context.Background(), requestID)
	require.NoError(t, err)
	assert.False(t, already)

	// 第二次调用：返回已匹配，方案不变
	already, err = f.agent.SelectOptimalMatch(context.Background(), requestID)
	require.NoError(t, err)
	assert.True(t, already)

	state, _ := f.workflows.GetState(context.Background(), requestID)
	assert.Equal(t, donorID, state.FulfillmentPlan.MatchedDonorID)
	assert.Len(t, f.decisions.Decisions, 1)
}

func TestSelectOptimalMatch_NoAcceptancesYet(t *testing.T) {
	f := setup(t)
	_, requestID, _ := seedNotified(t, f, 5)

	already, err := f.agent.SelectOptimalMatch(context.Background(), requestID)
	require.NoError(t, err)
	assert.False(t, already)

	state, _ := f.workflows.GetState(context.Background(), requestID)
	assert.Nil(t, state.FulfillmentPlan)
}

func TestSweepTimeouts_NoResponses(t *testing.T) {
	f := setup(t)
	_, requestID, _ := seedNotified(t, f, 5)
	f.requests.SetUpdatedAt(requestID, time.Now().Add(-time.Hour))

	require.NoError(t, f.agent.SweepTimeouts(context.Background()))

	req, _ := f.requests.GetRequest(context.Background(), requestID)
	assert.Equal(t, models.RequestDonorTimeout, req.Status)
	assert.True(t, f.queue.Has(dispatch.TriggerInventorySearch))
}

func TestSweepTimeouts_RaceRecheck(t *testing.T) {
	f := setup(t)
	donorID, requestID, _ := seedNotified(t, f, 5)
	f.requests.SetUpdatedAt(requestID, time.Now().Add(-time.Hour))

	// 接受已落地但请求状态推进丢失：巡检应补调度最优匹配而非标记超时
	respondedAt := time.Now()
	recorded, err := f.responses.RecordResponse(context.Background(), donorID, requestID, models.ResponseAccepted, respondedAt, 1000)
	require.NoError(t, err)
	require.True(t, recorded)

	require.NoError(t, f.agent.SweepTimeouts(context.Background()))

	req, _ := f.requests.GetRequest(context.Background(), requestID)
	assert.Equal(t, models.RequestMatching, req.Status)
	assert.True(t, f.queue.Has(dispatch.TriggerOptimalMatch))
	assert.False(t, f.queue.Has(dispatch.TriggerInventorySearch))
}

func TestSweepTimeouts_FreshRequestUntouched(t *testing.T) {
	f := setup(t)
	_, requestID, _ := seedNotified(t, f, 5)

	require.NoError(t, f.agent.SweepTimeouts(context.Background()))

	req, _ := f.requests.GetRequest(context.Background(), requestID)
	assert.Equal(t, models.RequestDonorsNotified, req.Status)
}

func TestConfirmArrival_FulfillsRequest(t *testing.T) {
	f := setup(t)
	donorID, requestID, rawToken := seedNotified(t, f, 5)

	_, err := f.agent.ProcessDonorResponse(context.Background(), rawToken, true)
	require.NoError(t, err)
	_, err = f.agent.SelectOptimalMatch(context.Background(), requestID)
	require.NoError(t, err)

	require.NoError(t, f.agent.ConfirmArrival(context.Background(), donorID, requestID))

	resp, _ := f.responses.GetResponse(context.Background(), donorID, requestID)
	assert.True(t, resp.Confirmed)

	state, _ := f.workflows.GetState(context.Background(), requestID)
	assert.Equal(t, models.WorkflowFulfilled, state.Status)

	req, _ := f.requests.GetRequest(context.Background(), requestID)
	assert.Equal(t, models.RequestFulfilled, req.Status)

	// 重复确认报错（响应已 confirmed）
	assert.Error(t, f.agent.ConfirmArrival(context.Background(), donorID, requestID))
}
