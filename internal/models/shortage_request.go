package models

import (
	"math"
	"time"

	"bloodlink-coordinator/internal/bloodtype"
)

// Urgency 紧急程度
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// RequestStatus 缺血请求状态
type RequestStatus string

const (
	RequestPending         RequestStatus = "pending"
	RequestDonorsNotified  RequestStatus = "donors_notified"
	RequestMatching        RequestStatus = "matching"
	RequestMatched         RequestStatus = "matched"
	RequestFulfilled       RequestStatus = "fulfilled"
	RequestDonorTimeout    RequestStatus = "no_donor_response_timeout"
)

// Location 经纬度坐标
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DistanceKm 球面距离（Haversine 公式）
func (l Location) DistanceKm(other Location) float64 {
	const earthRadiusKm = 6371.0

	lat1 := l.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := (other.Latitude - l.Latitude) * math.Pi / 180
	dLng := (other.Longitude - l.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// ShortageRequest 缺血请求（对应 shortage_requests 表）
type ShortageRequest struct {
	ID             string              `json:"id" db:"id"`
	HospitalID     string              `json:"hospital_id" db:"hospital_id"`
	BloodType      bloodtype.BloodType `json:"blood_type" db:"blood_type"`
	UnitsNeeded    int                 `json:"units_needed" db:"units_needed"`
	Urgency        Urgency             `json:"urgency" db:"urgency"`
	SearchRadiusKm float64             `json:"search_radius_km" db:"search_radius_km"`
	Location       Location            `json:"location"`
	PriorityScore  float64             `json:"priority_score" db:"priority_score"`
	Status         RequestStatus       `json:"status" db:"status"`
	AutoDetected   bool                `json:"auto_detected" db:"auto_detected"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}

// IsTerminal 请求是否已到终态
func (r *ShortageRequest) IsTerminal() bool {
	return r.Status == RequestFulfilled
}
