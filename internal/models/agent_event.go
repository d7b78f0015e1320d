package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AgentType 发布事件/决策的Agent类型
type AgentType string

const (
	AgentHospital     AgentType = "hospital"
	AgentDonorMatch   AgentType = "donor_match"
	AgentCoordinator  AgentType = "coordinator"
	AgentInventory    AgentType = "inventory"
	AgentLogistics    AgentType = "logistics"
	AgentVerification AgentType = "verification"
)

// EventType 带版本的事件类型标签（封闭集合）
type EventType string

const (
	EventShortageRequest        EventType = "shortage.request.v1"
	EventDonorCandidate         EventType = "donor.candidate.v1"
	EventDonorResponse          EventType = "donor.response.v1"
	EventInventoryMatch         EventType = "inventory.match.v1"
	EventLogisticsPlan          EventType = "logistics.plan.v1"
	EventLogisticsStatus        EventType = "logistics.status.v1"
	EventDocumentFailed         EventType = "verification.document.failed.v1"
	EventEligibilityPassed      EventType = "verification.eligibility.passed.v1"
	EventEligibilityFailed      EventType = "verification.eligibility.failed.v1"
)

var knownEventTypes = map[EventType]struct{}{
	EventShortageRequest:   {},
	EventDonorCandidate:    {},
	EventDonorResponse:     {},
	EventInventoryMatch:    {},
	EventLogisticsPlan:     {},
	EventLogisticsStatus:   {},
	EventDocumentFailed:    {},
	EventEligibilityPassed: {},
	EventEligibilityFailed: {},
}

// ParseEventType 解析事件类型标签
func ParseEventType(s string) (EventType, error) {
	et := EventType(s)
	if _, ok := knownEventTypes[et]; !ok {
		return "", fmt.Errorf("unknown event type: %q", s)
	}
	return et, nil
}

// AgentEvent 不可变事件记录（对应 agent_events 表，仅追加）
type AgentEvent struct {
	ID             string          `json:"id" db:"id"`
	Type           EventType       `json:"type" db:"type"`
	RequestID      string          `json:"request_id" db:"request_id"`
	Payload        json.RawMessage `json:"payload" db:"payload"` // JSONB
	ProducingAgent AgentType       `json:"producing_agent" db:"producing_agent"`
	Processed      bool            `json:"processed" db:"processed"` // 消费端尽力而为的标记，非锁
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ============================================
// 事件负载结构（按类型一个结构体）
// ============================================

// ShortageRequestPayload shortage.request.v1
type ShortageRequestPayload struct {
	RequestID     string  `json:"request_id"`
	HospitalID    string  `json:"hospital_id"`
	BloodType     string  `json:"blood_type"`
	UnitsNeeded   int     `json:"units_needed"`
	Urgency       string  `json:"urgency"`
	PriorityScore float64 `json:"priority_score"`
	AutoDetected  bool    `json:"auto_detected"`
}

// DonorCandidatePayload donor.candidate.v1
type DonorCandidatePayload struct {
	RequestID  string  `json:"request_id"`
	DonorID    string  `json:"donor_id"`
	DistanceKm float64 `json:"distance_km"`
	Score      float64 `json:"score"`
}

// DonorResponsePayload donor.response.v1
type DonorResponsePayload struct {
	RequestID      string `json:"request_id"`
	DonorID        string `json:"donor_id"`
	Status         string `json:"status"` // accepted / declined
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// InventoryMatchPayload inventory.match.v1
type InventoryMatchPayload struct {
	RequestID        string   `json:"request_id"`
	SourceHospitalID string   `json:"source_hospital_id"`
	UnitIDs          []string `json:"unit_ids"`
	Units            int      `json:"units"`
	Score            float64  `json:"score"`
}

// LogisticsPlanPayload logistics.plan.v1
type LogisticsPlanPayload struct {
	RequestID          string  `json:"request_id"`
	TransportRequestID string  `json:"transport_request_id"`
	Method             string  `json:"method"`
	DistanceKm         float64 `json:"distance_km"`
	ETAMinutes         float64 `json:"eta_minutes"`
}

// LogisticsStatusPayload logistics.status.v1
type LogisticsStatusPayload struct {
	TransportRequestID string `json:"transport_request_id"`
	Status             string `json:"status"`
}

// EligibilityPayload verification.eligibility.{passed,failed}.v1
type EligibilityPayload struct {
	DonorID        string   `json:"donor_id"`
	Decision       string   `json:"decision"`
	FailedCriteria []string `json:"failed_criteria,omitempty"`
}
