package models

import (
	"time"

	"bloodlink-coordinator/internal/bloodtype"
)

// DonorStatus 献血者账户状态（注册子系统维护，本服务只读 + 冷却期写入）
type DonorStatus string

const (
	DonorApproved  DonorStatus = "approved"
	DonorPendingReview DonorStatus = "pending_review"
	DonorRejected  DonorStatus = "rejected"
	DonorSuspended DonorStatus = "suspended"
)

// DiseaseTests 五项疾病检测结果（文本值，如 "negative"/"positive"，匹配时不区分大小写）
type DiseaseTests struct {
	HIV        string `json:"hiv"`
	HepatitisB string `json:"hepatitis_b"`
	HepatitisC string `json:"hepatitis_c"`
	Syphilis   string `json:"syphilis"`
	Malaria    string `json:"malaria"`
}

// All 按固定顺序返回 (名称, 结果)
func (d DiseaseTests) All() [][2]string {
	return [][2]string{
		{"hiv", d.HIV},
		{"hepatitis_b", d.HepatitisB},
		{"hepatitis_c", d.HepatitisC},
		{"syphilis", d.Syphilis},
		{"malaria", d.Malaria},
	}
}

// Donor 献血者注册记录（对应 donors 表，归属注册子系统）
type Donor struct {
	ID             string              `json:"id" db:"id"`
	Name           string              `json:"name" db:"name"`
	Gender         string              `json:"gender" db:"gender"` // "male" / "female"
	Age            int                 `json:"age" db:"age"`
	WeightKg       float64             `json:"weight_kg" db:"weight_kg"`
	HeightCm       float64             `json:"height_cm" db:"height_cm"`
	Hemoglobin     float64             `json:"hemoglobin" db:"hemoglobin"` // g/dL
	BloodType      bloodtype.BloodType `json:"blood_type" db:"blood_type"`
	Status         DonorStatus         `json:"status" db:"status"`
	Location       Location            `json:"location"`
	DiseaseTests   DiseaseTests        `json:"disease_tests"` // JSONB
	LastDonation   *time.Time          `json:"last_donation,omitempty" db:"last_donation"`
	Vaccinated     bool                `json:"vaccinated" db:"vaccinated"`
	OnMedication   bool                `json:"on_medication" db:"on_medication"`

	// 响应历史（匹配评分用）
	TotalNotified      int     `json:"total_notified" db:"total_notified"`
	TotalAccepted      int     `json:"total_accepted" db:"total_accepted"`
	AvgResponseTimeMin float64 `json:"avg_response_time_min" db:"avg_response_time_min"`
	ReliabilityScore   float64 `json:"reliability_score" db:"reliability_score"` // 0-1，到场率

	// 资格审核重试状态（冷却期策略）
	FailedAttempts   int        `json:"failed_attempts" db:"failed_attempts"`
	SuspendedUntil   *time.Time `json:"suspended_until,omitempty" db:"suspended_until"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BMI 体质指数（身高未知时返回 0）
func (d *Donor) BMI() float64 {
	if d.HeightCm <= 0 {
		return 0
	}
	h := d.HeightCm / 100
	return d.WeightKg / (h * h)
}

// AcceptRate 接受率（从未被通知过的返回 0）
func (d *Donor) AcceptRate() float64 {
	if d.TotalNotified == 0 {
		return 0
	}
	return float64(d.TotalAccepted) / float64(d.TotalNotified)
}

// IsNewDonor 是否新献血者（无被通知历史）
func (d *Donor) IsNewDonor() bool {
	return d.TotalNotified == 0
}

// Hospital 医院/血站记录（对应 hospitals 表）
type Hospital struct {
	ID              string   `json:"id" db:"id"`
	Name            string   `json:"name" db:"name"`
	Address         string   `json:"address" db:"address"`
	Phone           string   `json:"phone" db:"phone"`
	Location        Location `json:"location"`
	Has24x7Dispatch bool     `json:"has_24x7_dispatch" db:"has_24x7_dispatch"`

	// 每血型最低库存配置（自动告警用）
	MinStockUnits map[string]int `json:"min_stock_units"` // JSONB: blood_type -> units

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
