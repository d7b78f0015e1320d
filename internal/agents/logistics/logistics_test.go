package logistics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/agents/agenttest"
	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/models"
	"bloodlink-coordinator/internal/notify"
)

func TestSelectMethod(t *testing.T) {
	assert.Equal(t, models.TransportAmbulance, SelectMethod(10, models.UrgencyCritical))
	assert.Equal(t, models.TransportCourier, SelectMethod(20, models.UrgencyCritical))
	assert.Equal(t, models.TransportCourier, SelectMethod(30, models.UrgencyHigh))
	assert.Equal(t, models.TransportScheduled, SelectMethod(60, models.UrgencyHigh))
	assert.Equal(t, models.TransportScheduled, SelectMethod(10, models.UrgencyMedium))
}

func TestTrafficMultiplier(t *testing.T) {
	assert.Equal(t, 1.5, TrafficMultiplier(8))  // 早高峰
	assert.Equal(t, 1.5, TrafficMultiplier(17)) // 晚高峰
	assert.Equal(t, 1.0, TrafficMultiplier(13)) // 午间
	assert.Equal(t, 0.8, TrafficMultiplier(23)) // 夜间
	assert.Equal(t, 0.8, TrafficMultiplier(3))
}

func TestTransportETA(t *testing.T) {
	// 40km / 40km/h = 60min 基础；午间救护车 ×1.0×0.7 = 42
	assert.InDelta(t, 42.0, TransportETA(40, 40, models.TransportAmbulance, 13), 0.01)
	// 定时批次：60×1.0×1.2 + 60 = 132
	assert.InDelta(t, 132.0, TransportETA(40, 40, models.TransportScheduled, 13), 0.01)
	// 早高峰专递：60×1.5×1.0 = 90
	assert.InDelta(t, 90.0, TransportETA(40, 40, models.TransportCourier, 8), 0.01)
}

func TestDonorTravelETA_AllModesHaveBuffer(t *testing.T) {
	etas := AllDonorETAs(5)
	require.Len(t, etas, 5)
	for _, eta := range etas {
		assert.GreaterOrEqual(t, eta.ETAMinutes, ArrivalBufferMin)
	}
	// 5km 步行：60 + 25 = 85
	assert.InDelta(t, 85.0, DonorTravelETA(5, models.TravelWalking), 0.01)
}

func TestRecommendMode(t *testing.T) {
	assert.Equal(t, models.TravelWalking, RecommendMode(1.0))
	assert.Equal(t, models.TravelBicycle, RecommendMode(3.0))
	assert.Equal(t, models.TravelPublicTransport, RecommendMode(8.0))
	assert.Equal(t, models.TravelCar, RecommendMode(20.0))
}

type fixture struct {
	agent      *Agent
	transports *agenttest.TransportStore
	requests   *agenttest.RequestStore
	workflows  *agenttest.WorkflowStore
	responses  *agenttest.ResponseStore
	donors     *agenttest.DonorStore
	notifier   *agenttest.Notifier
	events     *agenttest.EventRecorder
}

func setup(t *testing.T) *fixture {
	cfg := &config.Config{}
	cfg.Logistics.AvgSpeedKmh = 40
	cfg.Logistics.ColdChainLimitMin = 360

	f := &fixture{
		transports: agenttest.NewTransportStore(),
		requests:   agenttest.NewRequestStore(),
		workflows:  agenttest.NewWorkflowStore(),
		responses:  agenttest.NewResponseStore(),
		donors:     agenttest.NewDonorStore(),
		notifier:   agenttest.NewNotifier(),
		events:     agenttest.NewEventRecorder(),
	}
	f.agent = NewAgent(
		f.transports, f.requests, f.workflows, f.responses, f.donors,
		agenttest.NewDecisionStore(), f.events, f.notifier,
		agenttest.NewFailingDecider(), cfg, zap.NewNop(),
	)
	return f
}

func seedTransport(t *testing.T, f *fixture, distanceKm float64, urgency models.Urgency) *models.TransportRequest {
	ctx := context.Background()
	require.NoError(t, f.requests.CreateRequest(ctx, &models.ShortageRequest{
		ID: "req-1", HospitalID: "hosp-dst", BloodType: bloodtype.ONeg,
		UnitsNeeded: 2, Urgency: urgency, Status: models.RequestMatched,
	}))
	require.NoError(t, f.workflows.CreateState(ctx, &models.WorkflowState{
		RequestID: "req-1", Status: models.WorkflowFulfillmentInProgress,
	}))
	tr := &models.TransportRequest{
		ID: "tr-1", RequestID: "req-1",
		FromHospitalID: "hosp-src", ToHospitalID: "hosp-dst",
		BloodType: bloodtype.ONeg, Units: 2,
		Status: models.TransportPending, DistanceKm: distanceKm,
	}
	require.NoError(t, f.transports.CreateTransport(ctx, tr))
	return tr
}

func TestPlanTransport_CourierWithinColdChain(t *testing.T) {
	f := setup(t)
	seedTransport(t, f, 30, models.UrgencyHigh)

	planned, err := f.agent.PlanTransport(context.Background(), "tr-1")
	require.NoError(t, err)
	require.NotNil(t, planned)

	assert.Equal(t, models.TransportCourier, planned.TransportMethod)
	assert.Greater(t, planned.ETAMinutes, 0.0)
	assert.LessOrEqual(t, planned.ETAMinutes, 360.0)

	stored, _ := f.transports.GetTransport(context.Background(), "tr-1")
	assert.Equal(t, models.TransportCourier, stored.TransportMethod)
	assert.NotNil(t, stored.PickupTime)

	assert.True(t, f.events.HasEvent(models.EventLogisticsPlan))
}

func TestPlanTransport_ColdChainViolationEscalates(t *testing.T) {
	f := setup(t)
	// 500km 定时批次：500/40×60×1.2+60 ≈ 960min > 360min 上限
	seedTransport(t, f, 500, models.UrgencyMedium)

	planned, err := f.agent.PlanTransport(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.Nil(t, planned)

	stored, _ := f.transports.GetTransport(context.Background(), "tr-1")
	assert.Equal(t, models.TransportCancelled, stored.Status)

	// 升级通知发给收货医院
	escalations := f.notifier.SentTo("hosp-dst")
	require.Len(t, escalations, 1)
	assert.Equal(t, notify.KindOpsEscalation, escalations[0].Kind)
}

func TestPlanTransport_Reentrant(t *testing.T) {
	f := setup(t)
	seedTransport(t, f, 30, models.UrgencyHigh)

	_, err := f.agent.PlanTransport(context.Background(), "tr-1")
	require.NoError(t, err)

	// 已推进的运输请求重投触发不应重复规划
	advanced, err := f.transports.AdvanceTransportStatus(context.Background(), "tr-1", models.TransportPending, models.TransportPickedUp)
	require.NoError(t, err)
	require.True(t, advanced)

	planned, err := f.agent.PlanTransport(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransportPickedUp, planned.Status)
}

func TestDonorArrivalEstimate_UsesStoredArrival(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	expected := time.Now().Add(40 * time.Minute)
	require.NoError(t, f.responses.CreateResponse(ctx, &models.DonorCandidateResponse{
		ID: "r1", DonorID: "d1", RequestID: "req-1",
		Status: models.ResponseAccepted, ExpectedArrival: &expected,
	}))

	// 已有预计到达时间：按剩余时间重算，不从头估算
	remaining, _, err := f.agent.DonorArrivalEstimate(ctx, "d1", "req-1", models.TravelCar)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, remaining, 1.0)
}

func TestDonorArrivalEstimate_FreshComputationStoresArrival(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.requests.CreateRequest(ctx, &models.ShortageRequest{
		ID: "req-1", HospitalID: "hosp-1", BloodType: bloodtype.ONeg,
		Location: models.Location{Latitude: 28.6, Longitude: 77.2},
		Status:   models.RequestDonorsNotified,
	}))
	f.donors.Donors["d1"] = &models.Donor{
		ID: "d1", Location: models.Location{Latitude: 28.6, Longitude: 77.2},
	}
	require.NoError(t, f.responses.CreateResponse(ctx, &models.DonorCandidateResponse{
		ID: "r1", DonorID: "d1", RequestID: "req-1", Status: models.ResponseAccepted,
	}))

	// 零距离：纯缓冲时间，且推荐步行
	eta, mode, err := f.agent.DonorArrivalEstimate(ctx, "d1", "req-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.TravelWalking, mode)
	assert.InDelta(t, ArrivalBufferMin, eta, 0.01)

	resp, _ := f.responses.GetResponse(ctx, "d1", "req-1")
	assert.NotNil(t, resp.ExpectedArrival)
}

func TestAdvanceTransport_EmitsStatusEvent(t *testing.T) {
	f := setup(t)
	seedTransport(t, f, 30, models.UrgencyHigh)

	advanced, err := f.agent.AdvanceTransport(context.Background(), "tr-1", models.TransportPending, models.TransportPickedUp)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.True(t, f.events.HasEvent(models.EventLogisticsStatus))

	// 相同推进重放为空操作
	advanced, err = f.agent.AdvanceTransport(context.Background(), "tr-1", models.TransportPending, models.TransportPickedUp)
	require.NoError(t, err)
	assert.False(t, advanced)
}
