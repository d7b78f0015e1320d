package hospital

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/agents/agenttest"
	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/dispatch"
	"bloodlink-coordinator/internal/models"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Hospital.ThresholdDays = 3
	cfg.Hospital.AutoAlertPercent = 0.40
	cfg.Hospital.AutoAlertDedupHr = 4
	return cfg
}

func setupAgent(t *testing.T) (*Agent, *agenttest.RequestStore, *agenttest.Queue, *agenttest.InventoryStore, *agenttest.HospitalStore) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	requests := agenttest.NewRequestStore()
	queue := agenttest.NewQueue()
	inventory := agenttest.NewInventoryStore()
	hospitals := agenttest.NewHospitalStore(&models.Hospital{
		ID:       "hosp-1",
		Name:     "Central Hospital",
		Location: models.Location{Latitude: 28.6, Longitude: 77.2},
		MinStockUnits: map[string]int{
			"O-": 10,
		},
	})

	agent := NewAgent(
		requests,
		agenttest.NewWorkflowStore(),
		hospitals,
		inventory,
		agenttest.NewDecisionStore(),
		agenttest.NewEventRecorder(),
		queue,
		agenttest.NewFailingDecider(),
		redisClient,
		testConfig(),
		zap.NewNop(),
	)
	return agent, requests, queue, inventory, hospitals
}

func TestDeriveUrgency_Bands(t *testing.T) {
	tests := []struct {
		name          string
		currentUnits  int
		daysRemaining float64
		bloodType     bloodtype.BloodType
		want          models.Urgency
	}{
		{"zero stock", 0, 0, bloodtype.OPos, models.UrgencyCritical},
		{"under one day", 3, 0.5, bloodtype.OPos, models.UrgencyCritical},
		{"under two days", 5, 1.5, bloodtype.OPos, models.UrgencyHigh},
		{"rare type under three days", 5, 2.5, bloodtype.ABNeg, models.UrgencyHigh},
		{"common type under three days", 5, 2.5, bloodtype.OPos, models.UrgencyMedium},
		{"under five days", 10, 4, bloodtype.OPos, models.UrgencyLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveUrgency(tt.currentUnits, tt.daysRemaining, tt.bloodType)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnitsNeeded(t *testing.T) {
	// 5天用量8单位 − 现有2 = 6
	assert.Equal(t, 6, UnitsNeeded(2, 1.5))
	// 库存充足时至少补1单位
	assert.Equal(t, 1, UnitsNeeded(100, 1.0))
}

func TestSearchRadius_ScalesWithUrgency(t *testing.T) {
	assert.Equal(t, 75.0, SearchRadiusKm(models.UrgencyCritical))
	assert.Equal(t, 50.0, SearchRadiusKm(models.UrgencyHigh))
	assert.Equal(t, 35.0, SearchRadiusKm(models.UrgencyMedium))
	assert.Equal(t, 20.0, SearchRadiusKm(models.UrgencyLow))
}

func TestPriorityScore_Range(t *testing.T) {
	// 零库存稀有血型拿满分
	score := PriorityScore(models.UrgencyCritical, bloodtype.ABNeg, 0)
	assert.InDelta(t, 100.0, score, 0.01)

	low := PriorityScore(models.UrgencyLow, bloodtype.OPos, 4.5)
	assert.Less(t, low, 30.0)
	assert.Greater(t, low, 0.0)
}

func TestProcessStockAlert_CreatesRequestAndTrigger(t *testing.T) {
	agent, requests, queue, _, _ := setupAgent(t)

	req, err := agent.ProcessStockAlert(context.Background(), StockAlert{
		HospitalID:   "hosp-1",
		BloodType:    bloodtype.ONeg,
		CurrentUnits: 0,
		DailyUsage:   2,
	})
	require.NoError(t, err)
	require.NotNil(t, req)

	assert.Equal(t, models.UrgencyCritical, req.Urgency)
	assert.Equal(t, 10, req.UnitsNeeded)
	assert.Equal(t, 75.0, req.SearchRadiusKm)
	assert.Equal(t, models.RequestPending, req.Status)

	stored, err := requests.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, stored.ID)

	assert.True(t, queue.Has(dispatch.TriggerDonorMatch))
}

func TestProcessStockAlert_NoShortage(t *testing.T) {
	agent, _, queue, _, _ := setupAgent(t)

	req, err := agent.ProcessStockAlert(context.Background(), StockAlert{
		HospitalID:   "hosp-1",
		BloodType:    bloodtype.APos,
		CurrentUnits: 50,
		DailyUsage:   2, // 25天余量
	})
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.False(t, queue.Has(dispatch.TriggerDonorMatch))
}

func TestSweepAutoAlerts_CreatesDedupedRequest(t *testing.T) {
	agent, requests, _, inventory, _ := setupAgent(t)

	// 最低库存10，当前3（30% < 40%）
	inventory.Stock["hosp-1/O-"] = 3

	require.NoError(t, agent.SweepAutoAlerts(context.Background()))
	assert.Len(t, requests.Requests, 1)
	for _, req := range requests.Requests {
		assert.True(t, req.AutoDetected)
		assert.Equal(t, bloodtype.ONeg, req.BloodType)
	}

	// 4小时窗口内再次巡检不应重复建单
	require.NoError(t, agent.SweepAutoAlerts(context.Background()))
	assert.Len(t, requests.Requests, 1)
}

func TestSweepAutoAlerts_StockAboveThreshold(t *testing.T) {
	agent, requests, _, inventory, _ := setupAgent(t)

	inventory.Stock["hosp-1/O-"] = 5 // 50% >= 40%

	require.NoError(t, agent.SweepAutoAlerts(context.Background()))
	assert.Empty(t, requests.Requests)
}
