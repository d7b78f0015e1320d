// Package agenttest 提供各存储接口的内存伪实现，供Agent单元测试使用。
// 并发语义（条件更新、预留竞态）与 Postgres 实现保持一致。
package agenttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/dispatch"
	"bloodlink-coordinator/internal/models"
	"bloodlink-coordinator/internal/notify"
	"bloodlink-coordinator/internal/reasoning"
)

// ============================================
// ShortageRequestStore
// ============================================

// RequestStore 缺血请求内存存储
type RequestStore struct {
	mu       sync.Mutex
	Requests map[string]*models.ShortageRequest
	Recent   bool // HasRecentRequest 固定返回值
}

func NewRequestStore() *RequestStore {
	return &RequestStore{Requests: make(map[string]*models.ShortageRequest)}
}

func (s *RequestStore) CreateRequest(ctx context.Context, req *models.ShortageRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.Requests[req.ID] = &cp
	return nil
}

func (s *RequestStore) GetRequest(ctx context.Context, requestID string) (*models.ShortageRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.Requests[requestID]
	if !ok {
		return nil, fmt.Errorf("shortage request not found: %s", requestID)
	}
	cp := *req
	return &cp, nil
}

func (s *RequestStore) UpdateRequestStatus(ctx context.Context, requestID string, from, to models.RequestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.Requests[requestID]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = to
	req.UpdatedAt = time.Now()
	return true, nil
}

func (s *RequestStore) HasRecentRequest(ctx context.Context, hospitalID string, bloodType string, since time.Time) (bool, error) {
	return s.Recent, nil
}

func (s *RequestStore) ListStaleByStatus(ctx context.Context, status models.RequestStatus, updatedBefore time.Time) ([]*models.ShortageRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ShortageRequest
	for _, req := range s.Requests {
		if req.Status == status && req.UpdatedAt.Before(updatedBefore) {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SetUpdatedAt 测试中直接回拨更新时间（模拟超时）
func (s *RequestStore) SetUpdatedAt(requestID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.Requests[requestID]; ok {
		req.UpdatedAt = t
	}
}

// ============================================
// WorkflowStateStore
// ============================================

// WorkflowStore 工作流状态内存存储
type WorkflowStore struct {
	mu     sync.Mutex
	States map[string]*models.WorkflowState
}

func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{States: make(map[string]*models.WorkflowState)}
}

func (s *WorkflowStore) CreateState(ctx context.Context, state *models.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	if cp.Metadata == nil {
		cp.Metadata = make(map[string]string)
	}
	s.States[state.RequestID] = &cp
	return nil
}

func (s *WorkflowStore) GetState(ctx context.Context, requestID string) (*models.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.States[requestID]
	if !ok {
		return nil, fmt.Errorf("workflow state not found: %s", requestID)
	}
	cp := *state
	return &cp, nil
}

func (s *WorkflowStore) AdvanceState(ctx context.Context, requestID string, from, to models.WorkflowStatus, currentStep string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.States[requestID]
	if !ok || state.Status != from {
		return false, nil
	}
	state.Status = to
	state.CurrentStep = currentStep
	return true, nil
}

func (s *WorkflowStore) SetFulfillmentPlan(ctx context.Context, requestID string, plan *models.FulfillmentPlan) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.States[requestID]
	if !ok || state.FulfillmentPlan != nil {
		return false, nil
	}
	cp := *plan
	state.FulfillmentPlan = &cp
	return true, nil
}

func (s *WorkflowStore) SetMetadata(ctx context.Context, requestID string, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.States[requestID]
	if !ok {
		return fmt.Errorf("workflow state not found: %s", requestID)
	}
	if state.Metadata == nil {
		state.Metadata = make(map[string]string)
	}
	state.Metadata[key] = value
	return nil
}

// ============================================
// DonorStore
// ============================================

// DonorStore 献血者内存存储
type DonorStore struct {
	mu            sync.Mutex
	Donors        map[string]*models.Donor
	Notifications map[string]int
}

func NewDonorStore(donors ...*models.Donor) *DonorStore {
	s := &DonorStore{
		Donors:        make(map[string]*models.Donor),
		Notifications: make(map[string]int),
	}
	for _, d := range donors {
		s.Donors[d.ID] = d
	}
	return s
}

func (s *DonorStore) GetDonor(ctx context.Context, donorID string) (*models.Donor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Donors[donorID]
	if !ok {
		return nil, fmt.Errorf("donor not found: %s", donorID)
	}
	cp := *d
	return &cp, nil
}

func (s *DonorStore) FindApprovedByBloodTypes(ctx context.Context, bloodTypes []bloodtype.BloodType) ([]*models.Donor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[bloodtype.BloodType]bool, len(bloodTypes))
	for _, bt := range bloodTypes {
		wanted[bt] = true
	}
	var out []*models.Donor
	for _, d := range s.Donors {
		if d.Status == models.DonorApproved && wanted[d.BloodType] {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *DonorStore) RecordNotification(ctx context.Context, donorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Notifications[donorID]++
	if d, ok := s.Donors[donorID]; ok {
		d.TotalNotified++
	}
	return nil
}

func (s *DonorStore) RecordReply(ctx context.Context, donorID string, accepted bool, responseTimeMin float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.Donors[donorID]; ok && accepted {
		d.TotalAccepted++
	}
	return nil
}

func (s *DonorStore) UpdateDonorStatus(ctx context.Context, donorID string, status models.DonorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.Donors[donorID]; ok {
		d.Status = status
	}
	return nil
}

func (s *DonorStore) IncrementFailedAttempts(ctx context.Context, donorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Donors[donorID]
	if !ok {
		return 0, fmt.Errorf("donor not found: %s", donorID)
	}
	d.FailedAttempts++
	return d.FailedAttempts, nil
}

func (s *DonorStore) ClearFailedAttempts(ctx context.Context, donorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.Donors[donorID]; ok {
		d.FailedAttempts = 0
	}
	return nil
}

func (s *DonorStore) SuspendDonor(ctx context.Context, donorID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Donors[donorID]
	if !ok {
		return fmt.Errorf("donor not found: %s", donorID)
	}
	d.Status = models.DonorSuspended
	d.SuspendedUntil = &until
	return nil
}

// ============================================
// DonorResponseStore
// ============================================

func responseKey(donorID, requestID string) string {
	return donorID + "/" + requestID
}

// ResponseStore 献血者响应内存存储
type ResponseStore struct {
	mu        sync.Mutex
	Responses map[string]*models.DonorCandidateResponse
}

func NewResponseStore() *ResponseStore {
	return &ResponseStore{Responses: make(map[string]*models.DonorCandidateResponse)}
}

func (s *ResponseStore) CreateResponse(ctx context.Context, resp *models.DonorCandidateResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *resp
	s.Responses[responseKey(resp.DonorID, resp.RequestID)] = &cp
	return nil
}

func (s *ResponseStore) GetResponse(ctx context.Context, donorID, requestID string) (*models.DonorCandidateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.Responses[responseKey(donorID, requestID)]
	if !ok {
		return nil, fmt.Errorf("donor response not found")
	}
	cp := *resp
	return &cp, nil
}

func (s *ResponseStore) RecordResponse(ctx context.Context, donorID, requestID string, status models.ResponseStatus, respondedAt time.Time, responseTimeMs int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.Responses[responseKey(donorID, requestID)]
	if !ok || resp.Status != models.ResponseNotified {
		return false, nil
	}
	resp.Status = status
	resp.RespondedAt = &respondedAt
	resp.ResponseTimeMs = responseTimeMs
	return true, nil
}

func (s *ResponseStore) ListResponsesByStatus(ctx context.Context, requestID string, status models.ResponseStatus) ([]*models.DonorCandidateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DonorCandidateResponse
	for _, resp := range s.Responses {
		if resp.RequestID == requestID && resp.Status == status {
			cp := *resp
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *ResponseStore) CountResponsesByStatus(ctx context.Context, requestID string, status models.ResponseStatus) (int, error) {
	list, _ := s.ListResponsesByStatus(ctx, requestID, status)
	return len(list), nil
}

func (s *ResponseStore) SetExpectedArrival(ctx context.Context, donorID, requestID string, expectedArrival time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.Responses[responseKey(donorID, requestID)]
	if !ok {
		return fmt.Errorf("donor response not found")
	}
	resp.ExpectedArrival = &expectedArrival
	return nil
}

func (s *ResponseStore) ConfirmArrival(ctx context.Context, donorID, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.Responses[responseKey(donorID, requestID)]
	if !ok || resp.Status != models.ResponseAccepted || resp.Confirmed {
		return false, nil
	}
	resp.Confirmed = true
	return true, nil
}

// ============================================
// InventoryStore
// ============================================

// InventoryStore 库存内存存储
type InventoryStore struct {
	mu    sync.Mutex
	Units map[string]*models.InventoryUnit
	Stock map[string]int // "hospitalID/bloodType" -> units
}

func NewInventoryStore(units ...*models.InventoryUnit) *InventoryStore {
	s := &InventoryStore{
		Units: make(map[string]*models.InventoryUnit),
		Stock: make(map[string]int),
	}
	for _, u := range units {
		s.Units[u.ID] = u
	}
	return s
}

func (s *InventoryStore) FindAvailableUnits(ctx context.Context, bloodTypes []bloodtype.BloodType, excludeHospitalID string, minExpiry time.Time) ([]*models.InventoryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[bloodtype.BloodType]bool, len(bloodTypes))
	for _, bt := range bloodTypes {
		wanted[bt] = true
	}
	var out []*models.InventoryUnit
	for _, u := range s.Units {
		if !u.Reserved && u.Units > 0 && wanted[u.BloodType] &&
			u.HospitalID != excludeHospitalID && u.ExpiryDate.After(minExpiry) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InventoryStore) ReserveUnit(ctx context.Context, unitID, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Units[unitID]
	if !ok || u.Reserved {
		return false, nil
	}
	u.Reserved = true
	u.ReservedFor = &requestID
	return true, nil
}

func (s *InventoryStore) ReleaseUnit(ctx context.Context, unitID, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Units[unitID]
	if !ok || !u.Reserved || u.ReservedFor == nil || *u.ReservedFor != requestID {
		return false, nil
	}
	u.Reserved = false
	u.ReservedFor = nil
	return true, nil
}

func (s *InventoryStore) SumStock(ctx context.Context, hospitalID string, bt bloodtype.BloodType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.Stock[hospitalID+"/"+string(bt)]; ok {
		return v, nil
	}
	total := 0
	for _, u := range s.Units {
		if u.HospitalID == hospitalID && u.BloodType == bt && !u.Reserved {
			total += u.Units
		}
	}
	return total, nil
}

// ============================================
// TransportStore
// ============================================

// TransportStore 运输请求内存存储
type TransportStore struct {
	mu         sync.Mutex
	Transports map[string]*models.TransportRequest
}

func NewTransportStore() *TransportStore {
	return &TransportStore{Transports: make(map[string]*models.TransportRequest)}
}

func (s *TransportStore) CreateTransport(ctx context.Context, tr *models.TransportRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tr
	s.Transports[tr.ID] = &cp
	return nil
}

func (s *TransportStore) GetTransport(ctx context.Context, transportID string) (*models.TransportRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.Transports[transportID]
	if !ok {
		return nil, fmt.Errorf("transport request not found: %s", transportID)
	}
	cp := *tr
	return &cp, nil
}

func (s *TransportStore) UpdateTransportPlan(ctx context.Context, transportID string, method models.TransportMethod, etaMinutes float64, pickupTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.Transports[transportID]
	if !ok {
		return fmt.Errorf("transport request not found: %s", transportID)
	}
	tr.TransportMethod = method
	tr.ETAMinutes = etaMinutes
	tr.PickupTime = &pickupTime
	return nil
}

func (s *TransportStore) AdvanceTransportStatus(ctx context.Context, transportID string, from, to models.TransportStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.Transports[transportID]
	if !ok || tr.Status != from {
		return false, nil
	}
	tr.Status = to
	return true, nil
}

// ============================================
// HospitalStore
// ============================================

// HospitalStore 医院内存存储
type HospitalStore struct {
	Hospitals map[string]*models.Hospital
}

func NewHospitalStore(hospitals ...*models.Hospital) *HospitalStore {
	s := &HospitalStore{Hospitals: make(map[string]*models.Hospital)}
	for _, h := range hospitals {
		s.Hospitals[h.ID] = h
	}
	return s
}

func (s *HospitalStore) GetHospital(ctx context.Context, hospitalID string) (*models.Hospital, error) {
	h, ok := s.Hospitals[hospitalID]
	if !ok {
		return nil, fmt.Errorf("hospital not found: %s", hospitalID)
	}
	return h, nil
}

func (s *HospitalStore) ListHospitals(ctx context.Context) ([]*models.Hospital, error) {
	var out []*models.Hospital
	for _, h := range s.Hospitals {
		out = append(out, h)
	}
	return out, nil
}

// ============================================
// DecisionStore
// ============================================

// DecisionStore 决策审计内存存储
type DecisionStore struct {
	mu        sync.Mutex
	Decisions []*models.AgentDecision
}

func NewDecisionStore() *DecisionStore {
	return &DecisionStore{}
}

func (s *DecisionStore) CreateDecision(ctx context.Context, decision *models.AgentDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *decision
	s.Decisions = append(s.Decisions, &cp)
	return nil
}

func (s *DecisionStore) ListDecisionsByRequest(ctx context.Context, requestID string) ([]*models.AgentDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AgentDecision
	for _, d := range s.Decisions {
		if d.RequestID == requestID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *DecisionStore) SetDecisionOutcome(ctx context.Context, decisionID, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.Decisions {
		if d.ID == decisionID {
			d.Outcome = &outcome
			return nil
		}
	}
	return fmt.Errorf("decision not found: %s", decisionID)
}

// Last 最近一条决策记录
func (s *DecisionStore) Last() *models.AgentDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Decisions) == 0 {
		return nil
	}
	return s.Decisions[len(s.Decisions)-1]
}

// ============================================
// 事件记录 / 触发队列 / 通知 / 决策层
// ============================================

// RecordedEvent Recorder 伪实现捕获的事件
type RecordedEvent struct {
	Type      models.EventType
	RequestID string
	Agent     models.AgentType
	Payload   interface{}
}

// EventRecorder 事件记录伪实现
type EventRecorder struct {
	mu     sync.Mutex
	Events []RecordedEvent
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) Record(ctx context.Context, eventType models.EventType, requestID string, agent models.AgentType, payload interface{}) (*models.AgentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, RecordedEvent{Type: eventType, RequestID: requestID, Agent: agent, Payload: payload})
	return &models.AgentEvent{Type: eventType, RequestID: requestID, ProducingAgent: agent}, nil
}

// HasEvent 是否记录过指定类型事件
func (r *EventRecorder) HasEvent(eventType models.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.Events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

// EnqueuedTrigger Queue 伪实现捕获的触发消息
type EnqueuedTrigger struct {
	Type      dispatch.TriggerType
	RequestID string
	Extra     map[string]string
}

// Queue 触发队列伪实现
type Queue struct {
	mu       sync.Mutex
	Triggers []EnqueuedTrigger
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(ctx context.Context, triggerType dispatch.TriggerType, requestID string, extra map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Triggers = append(q.Triggers, EnqueuedTrigger{Type: triggerType, RequestID: requestID, Extra: extra})
	return nil
}

// Has 是否入队过指定类型触发
func (q *Queue) Has(triggerType dispatch.TriggerType) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.Triggers {
		if t.Type == triggerType {
			return true
		}
	}
	return false
}

// Notifier 通知伪实现；FailFor 中的接收方模拟发送失败
type Notifier struct {
	mu      sync.Mutex
	Sent    []notify.Notification
	FailFor map[string]bool
}

func NewNotifier() *Notifier {
	return &Notifier{FailFor: make(map[string]bool)}
}

func (n *Notifier) Send(ctx context.Context, notification notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailFor[notification.Recipient] {
		return fmt.Errorf("simulated notification failure for %s", notification.Recipient)
	}
	n.Sent = append(n.Sent, notification)
	return nil
}

// SentTo 发送给指定接收方的通知
func (n *Notifier) SentTo(recipient string) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, sent := range n.Sent {
		if sent.Recipient == recipient {
			out = append(out, sent)
		}
	}
	return out
}

// Decider 决策层伪实现；默认返回失败（调用方走兜底）
type Decider struct {
	Outcome *reasoning.Outcome
	Err     error
}

// NewFailingDecider 恒定失败的决策层（测试兜底路径）
func NewFailingDecider() *Decider {
	return &Decider{Err: &reasoning.Error{Stage: "transport", Err: fmt.Errorf("unreachable")}}
}

func (d *Decider) Decide(ctx context.Context, q reasoning.Query) (*reasoning.Outcome, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Outcome, nil
}
