package models

import (
	"encoding/json"
	"time"
)

// AgentDecision 决策审计记录（对应 agent_decisions 表，仅追加）
// Decision 字段按决策类型存放对应变体结构的 JSON；
// RawContext 只用于审计回放，不参与控制流
type AgentDecision struct {
	ID         string          `json:"id" db:"id"`
	AgentType  AgentType       `json:"agent_type" db:"agent_type"`
	EventType  EventType       `json:"event_type" db:"event_type"`
	RequestID  string          `json:"request_id" db:"request_id"`
	Decision   json.RawMessage `json:"decision" db:"decision"` // JSONB（变体结构）
	Reasoning  string          `json:"reasoning" db:"reasoning"`
	Confidence float64         `json:"confidence" db:"confidence"`
	Fallback   bool            `json:"fallback" db:"fallback"` // 是否走了确定性兜底
	RawContext json.RawMessage `json:"raw_context,omitempty" db:"raw_context"`
	Outcome    *string         `json:"outcome,omitempty" db:"outcome"` // 事后结果追踪（唯一允许的追加字段）
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// ============================================
// 决策变体结构（按决策点一个结构体）
// ============================================

// UrgencyDecision 缺血紧急度决策（Hospital Agent）
type UrgencyDecision struct {
	Urgency       string  `json:"urgency"`
	PriorityScore float64 `json:"priority_score"`
}

// DualStrategyDecision 是否并行触发库存检索（Donor Matching Agent）
type DualStrategyDecision struct {
	TriggerInventory bool `json:"trigger_inventory"`
	EligibleDonors   int  `json:"eligible_donors"`
}

// DonorSelectionDecision 最优献血者选择（Coordinator）
type DonorSelectionDecision struct {
	SelectedDonorID string  `json:"selected_donor_id"`
	MatchScore      float64 `json:"match_score"`
	CandidateCount  int     `json:"candidate_count"`
}

// InventorySelectionDecision 库存来源选择（Inventory Agent）
type InventorySelectionDecision struct {
	SelectedUnitIDs  []string `json:"selected_unit_ids"`
	SourceHospitalID string   `json:"source_hospital_id"`
	Score            float64  `json:"score"`
}

// TransportDecision 运输方式/路线决策（Logistics Agent）
type TransportDecision struct {
	Method     string  `json:"method"`
	ETAMinutes float64 `json:"eta_minutes"`
	ColdChainOK bool   `json:"cold_chain_ok"`
	Escalated  bool    `json:"escalated,omitempty"`
}

// EligibilityDecision 资格审核决策（Verification Agent）
type EligibilityDecision struct {
	Decision       string   `json:"decision"` // approved / rejected / needs_review
	FailedCriteria []string `json:"failed_criteria,omitempty"`
	HardOverride   bool     `json:"hard_override,omitempty"` // 硬性标准失败时强制拒绝
	Guidance       string   `json:"guidance,omitempty"`
}

// MarshalDecision 序列化决策变体（失败时返回空对象，决策记录不应因此丢失）
func MarshalDecision(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
