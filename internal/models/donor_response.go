package models

import "time"

// ResponseStatus 献血者响应状态
type ResponseStatus string

const (
	ResponseNotified ResponseStatus = "notified"
	ResponseAccepted ResponseStatus = "accepted"
	ResponseDeclined ResponseStatus = "declined"
)

// DonorCandidateResponse 被通知献血者的响应记录（对应 donor_responses 表）
type DonorCandidateResponse struct {
	ID              string         `json:"id" db:"id"`
	DonorID         string         `json:"donor_id" db:"donor_id"`
	RequestID       string         `json:"request_id" db:"request_id"`
	NotifiedAt      time.Time      `json:"notified_at" db:"notified_at"`
	RespondedAt     *time.Time     `json:"responded_at,omitempty" db:"responded_at"`
	Status          ResponseStatus `json:"status" db:"status"`
	ResponseTimeMs  int64          `json:"response_time_ms" db:"response_time_ms"`
	DistanceKm      float64        `json:"distance_km" db:"distance_km"`
	Score           float64        `json:"score" db:"score"`
	Confirmed       bool           `json:"confirmed" db:"confirmed"`
	NoShow          bool           `json:"no_show" db:"no_show"`
	ExpectedArrival *time.Time     `json:"expected_arrival,omitempty" db:"expected_arrival"`
}
