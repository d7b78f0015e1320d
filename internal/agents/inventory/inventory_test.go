package inventory

import (
	"context"
	"sync"
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

type fixture struct {
	agent      *Agent
	requests   *agenttest.RequestStore
	workflows  *agenttest.WorkflowStore
	inventory  *agenttest.InventoryStore
	transports *agenttest.TransportStore
	decisions  *agenttest.DecisionStore
	queue      *agenttest.Queue
	events     *agenttest.EventRecorder
}

func setup(t *testing.T, units ...*models.InventoryUnit) *fixture {
	cfg := &config.Config{}
	cfg.Inventory.MinShelfLifeDays = 7
	cfg.Inventory.NetworkRadiusKm = 100

	f := &fixture{
		requests:   agenttest.NewRequestStore(),
		workflows:  agenttest.NewWorkflowStore(),
		inventory:  agenttest.NewInventoryStore(units...),
		transports: agenttest.NewTransportStore(),
		decisions:  agenttest.NewDecisionStore(),
		queue:      agenttest.NewQueue(),
		events:     agenttest.NewEventRecorder(),
	}
	hospitals := agenttest.NewHospitalStore(
		&models.Hospital{
			ID: "hosp-req", Name: "Requester",
			Location: models.Location{Latitude: 28.6, Longitude: 77.2},
		},
		&models.Hospital{
			ID: "hosp-near", Name: "Near Bank", Has24x7Dispatch: true,
			Location: models.Location{Latitude: 28.7, Longitude: 77.25},
		},
		&models.Hospital{
			ID: "hosp-far", Name: "Far Bank",
			Location: models.Location{Latitude: 40.0, Longitude: 77.2}, // 1200km外
		},
	)
	f.agent = NewAgent(
		f.requests, f.workflows, f.inventory, hospitals, f.transports,
		f.decisions, f.events, f.queue,
		agenttest.NewFailingDecider(), cfg, zap.NewNop(),
	)
	return f
}

func seedRequest(t *testing.T, f *fixture) *models.ShortageRequest {
	ctx := context.Background()
	req := &models.ShortageRequest{
		ID: "req-1", HospitalID: "hosp-req", BloodType: bloodtype.ONeg,
		UnitsNeeded: 2, Urgency: models.UrgencyHigh,
		Location: models.Location{Latitude: 28.6, Longitude: 77.2},
		Status:   models.RequestDonorTimeout,
	}
	require.NoError(t, f.requests.CreateRequest(ctx, req))
	require.NoError(t, f.workflows.CreateState(ctx, &models.WorkflowState{
		RequestID: req.ID, Status: models.WorkflowDonorsNotified,
	}))
	return req
}

func unit(id, hospitalID string, units, expiryDays int) *models.InventoryUnit {
	return &models.InventoryUnit{
		ID: id, HospitalID: hospitalID, BloodType: bloodtype.ONeg,
		Units: units, ExpiryDate: time.Now().AddDate(0, 0, expiryDays),
	}
}

func TestHandleSearch_ReservesAndCreatesTransport(t *testing.T) {
	f := setup(t, unit("u1", "hosp-near", 3, 20))
	req := seedRequest(t, f)

	require.NoError(t, f.agent.HandleSearch(context.Background(), req.ID))

	stored := f.inventory.Units["u1"]
	assert.True(t, stored.Reserved)
	require.NotNil(t, stored.ReservedFor)
	assert.Equal(t, req.ID, *stored.ReservedFor)

	state, _ := f.workflows.GetState(context.Background(), req.ID)
	require.NotNil(t, state.FulfillmentPlan)
	assert.Equal(t, "inventory", state.FulfillmentPlan.Strategy)
	assert.Equal(t, "hosp-near", state.FulfillmentPlan.SourceHospitalID)
	assert.Equal(t, []string{"u1"}, state.FulfillmentPlan.ReservedUnitIDs)
	assert.NotEmpty(t, state.FulfillmentPlan.TransportRequestID)

	tr, err := f.transports.GetTransport(context.Background(), state.FulfillmentPlan.TransportRequestID)
	require.NoError(t, err)
	assert.Equal(t, "hosp-near", tr.FromHospitalID)
	assert.Equal(t, "hosp-req", tr.ToHospitalID)
	assert.Equal(t, 3, tr.Units)

	assert.True(t, f.events.HasEvent(models.EventInventoryMatch))
	assert.True(t, f.queue.Has(dispatch.TriggerLogisticsPlan))
}

func TestHandleSearch_FiltersShortShelfLifeAndRadius(t *testing.T) {
	f := setup(t,
		unit("u-expiring", "hosp-near", 5, 3), // 保质期不足7天
		unit("u-far", "hosp-far", 5, 30),      // 超出网络半径
	)
	req := seedRequest(t, f)

	require.NoError(t, f.agent.HandleSearch(context.Background(), req.ID))

	assert.False(t, f.inventory.Units["u-expiring"].Reserved)
	assert.False(t, f.inventory.Units["u-far"].Reserved)
	assert.False(t, f.queue.Has(dispatch.TriggerLogisticsPlan))

	// 零库存结果有决策记录
	last := f.decisions.Last()
	require.NotNil(t, last)
	assert.True(t, last.Fallback)
}

func TestHandleSearch_ExcludesRequesterStock(t *testing.T) {
	f := setup(t, unit("u-self", "hosp-req", 5, 30))
	req := seedRequest(t, f)

	require.NoError(t, f.agent.HandleSearch(context.Background(), req.ID))
	assert.False(t, f.inventory.Units["u-self"].Reserved)
}

func TestHandleSearch_SkipsWhenPlanAlreadySet(t *testing.T) {
	f := setup(t, unit("u1", "hosp-near", 3, 20))
	req := seedRequest(t, f)

	// 献血者路径已落盘匹配方案
	planSet, err := f.workflows.SetFulfillmentPlan(context.Background(), req.ID, &models.FulfillmentPlan{
		Strategy: "donor", MatchedDonorID: "d1",
	})
	require.NoError(t, err)
	require.True(t, planSet)

	require.NoError(t, f.agent.HandleSearch(context.Background(), req.ID))
	assert.False(t, f.inventory.Units["u1"].Reserved)
}

func TestHandleSearch_ReservationRace(t *testing.T) {
	// 两个请求争抢同一单位：恰好一个成功
	f := setup(t, unit("u1", "hosp-near", 3, 20))
	seedRequest(t, f)
	ctx := context.Background()
	req2 := &models.ShortageRequest{
		ID: "req-2", HospitalID: "hosp-req", BloodType: bloodtype.ONeg,
		UnitsNeeded: 2, Urgency: models.UrgencyHigh,
		Location: models.Location{Latitude: 28.6, Longitude: 77.2},
		Status:   models.RequestDonorTimeout,
	}
	require.NoError(t, f.requests.CreateRequest(ctx, req2))
	require.NoError(t, f.workflows.CreateState(ctx, &models.WorkflowState{
		RequestID: req2.ID, Status: models.WorkflowDonorsNotified,
	}))

	var wg sync.WaitGroup
	for _, id := range []string{"req-1", "req-2"} {
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()
			_ = f.agent.HandleSearch(ctx, requestID)
		}(id)
	}
	wg.Wait()

	stored := f.inventory.Units["u1"]
	require.True(t, stored.Reserved)
	winner := *stored.ReservedFor

	winState, _ := f.workflows.GetState(ctx, winner)
	require.NotNil(t, winState.FulfillmentPlan)

	for _, id := range []string{"req-1", "req-2"} {
		if id == winner {
			continue
		}
		loseState, _ := f.workflows.GetState(ctx, id)
		assert.Nil(t, loseState.FulfillmentPlan)
	}
}

func TestHandleSearch_MultipleUnitsUntilCovered(t *testing.T) {
	f := setup(t,
		unit("u1", "hosp-near", 1, 10),
		unit("u2", "hosp-near", 1, 12),
		unit("u3", "hosp-near", 1, 40),
	)
	req := seedRequest(t, f) // 需要2单位

	require.NoError(t, f.agent.HandleSearch(context.Background(), req.ID))

	reservedCount := 0
	for _, u := range f.inventory.Units {
		if u.Reserved {
			reservedCount++
		}
	}
	assert.Equal(t, 2, reservedCount)
}
