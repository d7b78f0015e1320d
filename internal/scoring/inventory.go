package scoring

// 库存评分权重
const (
	inventoryProximityWeight   = 0.40
	inventoryExpiryWeight      = 0.30
	inventorySurplusWeight     = 0.20
	inventoryFeasibilityWeight = 0.10
)

// InventoryScoreInput 库存评分输入
type InventoryScoreInput struct {
	DistanceKm      float64
	NetworkRadiusKm float64
	DaysUntilExpiry int
	UnitsAvailable  int
	UnitsNeeded     int
	Has24x7Dispatch bool
}

// InventoryScore 库存来源综合评分（0-100）
func InventoryScore(in InventoryScoreInput) float64 {
	return inventoryProximityWeight*DistanceScore(in.DistanceKm, in.NetworkRadiusKm) +
		inventoryExpiryWeight*ExpiryScore(in.DaysUntilExpiry) +
		inventorySurplusWeight*SurplusScore(in.UnitsAvailable, in.UnitsNeeded) +
		inventoryFeasibilityWeight*FeasibilityScore(in.Has24x7Dispatch)
}

// ExpiryScore 保质期子评分（FIFO偏置：临近可用期限的先出）
// 8–14天 → 100；15–30 → 80；31–60 → 60；>60 → 40
// 7天以内的单位在检索阶段已被过滤，不应出现
func ExpiryScore(daysUntilExpiry int) float64 {
	switch {
	case daysUntilExpiry <= 14:
		return 100
	case daysUntilExpiry <= 30:
		return 80
	case daysUntilExpiry <= 60:
		return 60
	default:
		return 40
	}
}

// SurplusScore 盈余子评分：可供量相对需求量的倍数
func SurplusScore(unitsAvailable, unitsNeeded int) float64 {
	if unitsNeeded <= 0 || unitsAvailable <= 0 {
		return 0
	}
	ratio := float64(unitsAvailable) / float64(unitsNeeded)
	switch {
	case ratio >= 3:
		return 100
	case ratio >= 2:
		return 85
	case ratio >= 1:
		return 70
	default:
		return 50 * ratio
	}
}

// FeasibilityScore 机构调度可行性子评分
func FeasibilityScore(has24x7Dispatch bool) float64 {
	if has24x7Dispatch {
		return 100
	}
	return 60
}
