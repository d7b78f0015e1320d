package scoring

// 接受后匹配评分权重
const (
	matchETAWeight         = 0.40
	matchDistanceWeight    = 0.30
	matchReliabilityWeight = 0.20
	matchHealthWeight      = 0.10
)

// MatchScoreInput 接受后匹配评分输入
type MatchScoreInput struct {
	ETAMinutes  float64
	DistanceKm  float64
	Reliability float64 // 0-1，到场率
	HealthScore float64 // 0-100
}

// MatchScore 接受后匹配综合评分（0-100）
// eta子评分按小时线性扣50分，距离子评分每公里扣2分
func MatchScore(in MatchScoreInput) float64 {
	return matchETAWeight*ETAScore(in.ETAMinutes) +
		matchDistanceWeight*MatchDistanceScore(in.DistanceKm) +
		matchReliabilityWeight*(in.Reliability*100) +
		matchHealthWeight*in.HealthScore
}

// ETAScore 到达时间子评分：max(0, 100 − etaMinutes·50/60)
func ETAScore(etaMinutes float64) float64 {
	score := 100 - etaMinutes*50.0/60.0
	if score < 0 {
		return 0
	}
	return score
}

// MatchDistanceScore 匹配距离子评分：max(0, 100 − 2·distKm)
func MatchDistanceScore(distanceKm float64) float64 {
	score := 100 - 2*distanceKm
	if score < 0 {
		return 0
	}
	return score
}
