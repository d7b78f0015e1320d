// Package scoring 匹配评分引擎：纯函数，无副作用，同输入必须产出逐位一致的结果
package scoring

import (
	"time"

	"bloodlink-coordinator/internal/models"
)

// 献血者综合评分权重
const (
	donorDistanceWeight       = 0.30
	donorHistoryWeight        = 0.25
	donorResponsivenessWeight = 0.25
	donorTimeOfDayWeight      = 0.10
	donorHealthWeight         = 0.10
)

// DonorScoreInput 献血者评分输入
type DonorScoreInput struct {
	DistanceKm         float64
	MaxRadiusKm        float64
	LastDonation       *time.Time
	IsNewDonor         bool
	AcceptRate         float64 // 0-1
	AvgResponseTimeMin float64
	Urgency            models.Urgency
	Now                time.Time
	Hemoglobin         float64
	BMI                float64
	Vaccinated         bool
	OnMedication       bool
}

// DonorScore 献血者综合评分（0-100）
func DonorScore(in DonorScoreInput) float64 {
	return donorDistanceWeight*DistanceScore(in.DistanceKm, in.MaxRadiusKm) +
		donorHistoryWeight*HistoryScore(in.LastDonation, in.Now) +
		donorResponsivenessWeight*ResponsivenessScore(in.IsNewDonor, in.AcceptRate, in.AvgResponseTimeMin) +
		donorTimeOfDayWeight*TimeOfDayScore(in.Now.Hour(), in.Urgency) +
		donorHealthWeight*HealthScore(in.Hemoglobin, in.BMI, in.Vaccinated, in.OnMedication)
}

// DistanceScore 距离子评分：max(0, 100 − 100·dist/maxRadius)
func DistanceScore(distanceKm, maxRadiusKm float64) float64 {
	if maxRadiusKm <= 0 {
		return 0
	}
	score := 100 - 100*distanceKm/maxRadiusKm
	if score < 0 {
		return 0
	}
	return score
}

// HistoryScore 献血历史子评分：按距上次献血的天数分档
// 90–180天 → 100；181–365 → 80；366–730 → 60；>730 → 40；<90 → 0
// 从未献过血按长期未献处理（40）
func HistoryScore(lastDonation *time.Time, now time.Time) float64 {
	if lastDonation == nil {
		return 40
	}
	days := int(now.Sub(*lastDonation).Hours() / 24)
	switch {
	case days < 90:
		return 0
	case days <= 180:
		return 100
	case days <= 365:
		return 80
	case days <= 730:
		return 60
	default:
		return 40
	}
}

// ResponsivenessScore 响应性子评分
// 新献血者 → 50；否则 70·接受率 + max(0, 30 − 平均响应分钟/10)
func ResponsivenessScore(isNewDonor bool, acceptRate, avgResponseTimeMin float64) float64 {
	if isNewDonor {
		return 50
	}
	speedBonus := 30 - avgResponseTimeMin/10
	if speedBonus < 0 {
		speedBonus = 0
	}
	return 70*acceptRate + speedBonus
}

// TimeOfDayScore 时段子评分：critical 紧急度无视时段恒为 100
// 工作时段（9-17点）→ 100；早晚时段（6-8点、18-21点）→ 80；夜间 → 40
func TimeOfDayScore(hour int, urgency models.Urgency) float64 {
	if urgency == models.UrgencyCritical {
		return 100
	}
	switch {
	case hour >= 9 && hour < 18:
		return 100
	case (hour >= 6 && hour < 9) || (hour >= 18 && hour < 22):
		return 80
	default:
		return 40
	}
}

// HealthScore 健康子评分：血红蛋白40 + BMI30 + 疫苗15 + 用药15，满分100
func HealthScore(hemoglobin, bmi float64, vaccinated, onMedication bool) float64 {
	var pts float64

	switch {
	case hemoglobin >= 14.5:
		pts += 40
	case hemoglobin >= 13.0:
		pts += 32
	case hemoglobin >= 12.5:
		pts += 25
	default:
		pts += 10
	}

	switch {
	case bmi >= 18.5 && bmi < 30:
		pts += 30
	case bmi >= 30 && bmi < 35:
		pts += 20
	default:
		pts += 10
	}

	if vaccinated {
		pts += 15
	} else {
		pts += 8
	}

	if !onMedication {
		pts += 15
	} else {
		pts += 5
	}

	return pts
}
