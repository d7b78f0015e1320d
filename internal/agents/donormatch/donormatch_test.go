package donormatch

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
	"bloodlink-coordinator/internal/dispatch"
	"bloodlink-coordinator/internal/models"
)

func daysAgo(d int) *time.Time {
	t := time.Now().AddDate(0, 0, -d)
	return &t
}

func healthyDonor(id string, bt bloodtype.BloodType) *models.Donor {
	return &models.Donor{
		ID:         id,
		Gender:     "male",
		Age:        30,
		WeightKg:   75,
		HeightCm:   178,
		Hemoglobin: 14.0,
		BloodType:  bt,
		Status:     models.DonorApproved,
		Location:   models.Location{Latitude: 28.61, Longitude: 77.21},
		DiseaseTests: models.DiseaseTests{
			HIV: "negative", HepatitisB: "Negative", HepatitisC: "negative",
			Syphilis: "negative", Malaria: "NEGATIVE",
		},
		LastDonation: daysAgo(120),
		Vaccinated:   true,
	}
}

type fixture struct {
	agent     *Agent
	requests  *agenttest.RequestStore
	workflows *agenttest.WorkflowStore
	donors    *agenttest.DonorStore
	responses *agenttest.ResponseStore
	queue     *agenttest.Queue
	notifier  *agenttest.Notifier
	events    *agenttest.EventRecorder
}

func setup(t *testing.T, donors ...*models.Donor) *fixture {
	cfg := &config.Config{}
	cfg.Matching.MaxCandidates = 50

	f := &fixture{
		requests:  agenttest.NewRequestStore(),
		workflows: agenttest.NewWorkflowStore(),
		donors:    agenttest.NewDonorStore(donors...),
		responses: agenttest.NewResponseStore(),
		queue:     agenttest.NewQueue(),
		notifier:  agenttest.NewNotifier(),
		events:    agenttest.NewEventRecorder(),
	}
	f.agent = NewAgent(
		f.requests, f.workflows, f.donors, f.responses,
		agenttest.NewDecisionStore(), f.events, f.queue, f.notifier,
		agenttest.NewFailingDecider(), cfg, zap.NewNop(),
	)
	return f
}

func seedRequest(t *testing.T, f *fixture, urgency models.Urgency, units int) *models.ShortageRequest {
	req := &models.ShortageRequest{
		ID:             "a0000000-0000-0000-0000-000000000001",
		HospitalID:     "hosp-1",
		BloodType:      bloodtype.ONeg,
		UnitsNeeded:    units,
		Urgency:        urgency,
		SearchRadiusKm: 75,
		Location:       models.Location{Latitude: 28.6, Longitude: 77.2},
		Status:         models.RequestPending,
	}
	require.NoError(t, f.requests.CreateRequest(context.Background(), req))
	require.NoError(t, f.workflows.CreateState(context.Background(), &models.WorkflowState{
		RequestID: req.ID, Status: models.WorkflowPending,
	}))
	return req
}

func TestMatchEligible(t *testing.T) {
	now := time.Now()

	t.Run("healthy donor passes", func(t *testing.T) {
		assert.True(t, MatchEligible(healthyDonor("d1", bloodtype.ONeg), now))
	})

	t.Run("recent donation blocks male under 90 days", func(t *testing.T) {
		d := healthyDonor("d1", bloodtype.ONeg)
		d.LastDonation = daysAgo(60)
		assert.False(t, MatchEligible(d, now))
	})

	t.Run("female interval is 120 days", func(t *testing.T) {
		d := healthyDonor("d1", bloodtype.ONeg)
		d.Gender = "female"
		d.Hemoglobin = 12.8
		d.LastDonation = daysAgo(100)
		assert.False(t, MatchEligible(d, now))
		d.LastDonation = daysAgo(130)
		assert.True(t, MatchEligible(d, now))
	})

	t.Run("low hemoglobin blocks", func(t *testing.T) {
		d := healthyDonor("d1", bloodtype.ONeg)
		d.Hemoglobin = 12.8 // male minimum is 13.0
		assert.False(t, MatchEligible(d, now))
	})

	t.Run("positive disease test blocks regardless of case", func(t *testing.T) {
		d := healthyDonor("d1", bloodtype.ONeg)
		d.DiseaseTests.Malaria = "Positive"
		assert.False(t, MatchEligible(d, now))
	})

	t.Run("suspended donor blocked until cooldown ends", func(t *testing.T) {
		d := healthyDonor("d1", bloodtype.ONeg)
		until := now.Add(24 * time.Hour)
		d.SuspendedUntil = &until
		assert.False(t, MatchEligible(d, now))
	})

	t.Run("age bounds", func(t *testing.T) {
		d := healthyDonor("d1", bloodtype.ONeg)
		d.Age = 17
		assert.False(t, MatchEligible(d, now))
		d.Age = 66
		assert.False(t, MatchEligible(d, now))
	})
}

func TestHandleShortage_NotifiesAndAdvances(t *testing.T) {
	f := setup(t,
		healthyDonor("d1", bloodtype.ONeg),
		healthyDonor("d2", bloodtype.ONeg),
	)
	req := seedRequest(t, f, models.UrgencyHigh, 2)

	require.NoError(t, f.agent.HandleShortage(context.Background(), req.ID))

	// 两位候选都应收到带令牌的通知
	assert.Len(t, f.notifier.Sent, 2)
	for _, sent := range f.notifier.Sent {
		assert.NotEmpty(t, sent.Data["token"])
	}

	// 响应行进入 notified 状态
	count, _ := f.responses.CountResponsesByStatus(context.Background(), req.ID, models.ResponseNotified)
	assert.Equal(t, 2, count)

	stored, _ := f.requests.GetRequest(context.Background(), req.ID)
	assert.Equal(t, models.RequestDonorsNotified, stored.Status)

	state, _ := f.workflows.GetState(context.Background(), req.ID)
	assert.Equal(t, models.WorkflowDonorsNotified, state.Status)

	assert.True(t, f.events.HasEvent(models.EventDonorCandidate))

	// high 紧急度 + 2位候选 → 并行库存检索（兜底阈值 ≤2）
	assert.True(t, f.queue.Has(dispatch.TriggerInventorySearch))
}

func TestHandleShortage_CriticalDualStrategy(t *testing.T) {
	// 场景：CRITICAL 且只有1位合格献血者 → 既通知也触发库存
	f := setup(t, healthyDonor("d1", bloodtype.ONeg))
	req := seedRequest(t, f, models.UrgencyCritical, 1)

	require.NoError(t, f.agent.HandleShortage(context.Background(), req.ID))

	assert.Len(t, f.notifier.Sent, 1)
	assert.True(t, f.queue.Has(dispatch.TriggerInventorySearch))
}

func TestHandleShortage_ZeroDonors_TriggersInventoryOnly(t *testing.T) {
	f := setup(t) // 无献血者
	req := seedRequest(t, f, models.UrgencyMedium, 2)

	require.NoError(t, f.agent.HandleShortage(context.Background(), req.ID))

	assert.Empty(t, f.notifier.Sent)
	assert.True(t, f.queue.Has(dispatch.TriggerInventorySearch))

	// 无人可通知时请求停留在 pending，等库存路径推进
	stored, _ := f.requests.GetRequest(context.Background(), req.ID)
	assert.Equal(t, models.RequestPending, stored.Status)
}

func TestHandleShortage_NotifyFailureIsolated(t *testing.T) {
	f := setup(t,
		healthyDonor("d1", bloodtype.ONeg),
		healthyDonor("d2", bloodtype.ONeg),
		healthyDonor("d3", bloodtype.ONeg),
	)
	f.notifier.FailFor["d2"] = true
	req := seedRequest(t, f, models.UrgencyLow, 1)

	require.NoError(t, f.agent.HandleShortage(context.Background(), req.ID))

	// d2 失败不影响 d1/d3
	assert.Len(t, f.notifier.Sent, 2)
	assert.Empty(t, f.notifier.SentTo("d2"))
}

func TestHandleShortage_Reentrant(t *testing.T) {
	f := setup(t, healthyDonor("d1", bloodtype.ONeg))
	req := seedRequest(t, f, models.UrgencyLow, 1)

	require.NoError(t, f.agent.HandleShortage(context.Background(), req.ID))
	sentFirst := len(f.notifier.Sent)

	// 重投同一触发消息：请求已离开 pending，应为空操作
	require.NoError(t, f.agent.HandleShortage(context.Background(), req.ID))
	assert.Len(t, f.notifier.Sent, sentFirst)
}

func TestHandleShortage_RadiusFilter(t *testing.T) {
	far := healthyDonor("far", bloodtype.ONeg)
	far.Location = models.Location{Latitude: 38.0, Longitude: 77.2} // 约1000km外
	f := setup(t, healthyDonor("near", bloodtype.ONeg), far)
	req := seedRequest(t, f, models.UrgencyLow, 1)

	require.NoError(t, f.agent.HandleShortage(context.Background(), req.ID))

	assert.Len(t, f.notifier.Sent, 1)
	assert.Len(t, f.notifier.SentTo("near"), 1)
}
