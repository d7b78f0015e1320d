package models

import (
	"time"
)

// WorkflowStatus 工作流状态
type WorkflowStatus string

const (
	WorkflowPending               WorkflowStatus = "pending"
	WorkflowDonorsNotified        WorkflowStatus = "donors_notified"
	WorkflowMatching              WorkflowStatus = "matching"
	WorkflowFulfillmentInProgress WorkflowStatus = "fulfillment_in_progress"
	WorkflowFulfilled             WorkflowStatus = "fulfilled"
)

// FulfillmentPlan 履约方案（JSONB 结构）
type FulfillmentPlan struct {
	Strategy           string   `json:"strategy"` // "donor" 或 "inventory"
	MatchedDonorID     string   `json:"matched_donor_id,omitempty"`
	MatchScore         float64  `json:"match_score,omitempty"`
	SourceHospitalID   string   `json:"source_hospital_id,omitempty"`
	ReservedUnitIDs    []string `json:"reserved_unit_ids,omitempty"`
	TransportRequestID string   `json:"transport_request_id,omitempty"`
	ExpectedArrival    *time.Time `json:"expected_arrival,omitempty"`
}

// WorkflowState 每个缺血请求的工作流状态（与请求 1:1，对应 workflow_states 表）
type WorkflowState struct {
	RequestID       string            `json:"request_id" db:"request_id"`
	Status          WorkflowStatus    `json:"status" db:"status"`
	CurrentStep     string            `json:"current_step" db:"current_step"`
	Metadata        map[string]string `json:"metadata"`          // 自由格式元数据（仅用于审计和幂等检查）
	FulfillmentPlan *FulfillmentPlan  `json:"fulfillment_plan"`  // JSONB
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// MatchedDonorID 已匹配献血者ID（未匹配时为空）
func (w *WorkflowState) MatchedDonorID() string {
	if w.FulfillmentPlan != nil && w.FulfillmentPlan.MatchedDonorID != "" {
		return w.FulfillmentPlan.MatchedDonorID
	}
	if w.Metadata != nil {
		return w.Metadata["matched_donor_id"]
	}
	return ""
}
