package models

import (
	"time"

	"bloodlink-coordinator/internal/bloodtype"
)

// TransportMethod 运输方式
type TransportMethod string

const (
	TransportAmbulance TransportMethod = "ambulance"
	TransportCourier   TransportMethod = "courier"
	TransportScheduled TransportMethod = "scheduled"
)

// TransportStatus 运输状态
type TransportStatus string

const (
	TransportPending   TransportStatus = "pending"
	TransportPickedUp  TransportStatus = "picked_up"
	TransportInTransit TransportStatus = "in_transit"
	TransportDelivered TransportStatus = "delivered"
	TransportCancelled TransportStatus = "cancelled"
)

// TransportRequest 已预留库存的实体运输计划（对应 transport_requests 表）
type TransportRequest struct {
	ID              string              `json:"id" db:"id"`
	RequestID       string              `json:"request_id" db:"request_id"`
	FromHospitalID  string              `json:"from_hospital_id" db:"from_hospital_id"`
	ToHospitalID    string              `json:"to_hospital_id" db:"to_hospital_id"`
	BloodType       bloodtype.BloodType `json:"blood_type" db:"blood_type"`
	Units           int                 `json:"units" db:"units"`
	TransportMethod TransportMethod     `json:"transport_method" db:"transport_method"`
	Status          TransportStatus     `json:"status" db:"status"`
	DistanceKm      float64             `json:"distance_km" db:"distance_km"`
	PickupTime      *time.Time          `json:"pickup_time,omitempty" db:"pickup_time"`
	ETAMinutes      float64             `json:"eta_minutes" db:"eta_minutes"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at" db:"updated_at"`
}

// TravelMode 献血者出行方式
type TravelMode string

const (
	TravelWalking         TravelMode = "walking"
	TravelBicycle         TravelMode = "bicycle"
	TravelPublicTransport TravelMode = "public_transport"
	TravelCar             TravelMode = "car"
	TravelMotorcycle      TravelMode = "motorcycle"
)

// DonorETA 献血者到院时间估算
type DonorETA struct {
	Mode       TravelMode `json:"mode"`
	ETAMinutes float64    `json:"eta_minutes"`
}
