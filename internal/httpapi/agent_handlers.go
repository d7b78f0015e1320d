package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/agents/hospital"
	"bloodlink-coordinator/internal/agents/logistics"
	"bloodlink-coordinator/internal/agents/verification"
	"bloodlink-coordinator/internal/dispatch"
	"bloodlink-coordinator/internal/models"
)

// ============================================
// HospitalHandler 库存告警入口
// ============================================

// HospitalHandler 医院侧库存告警入口
type HospitalHandler struct {
	agent  *hospital.Agent
	logger *zap.Logger
}

// NewHospitalHandler 创建医院 Handler
func NewHospitalHandler(agent *hospital.Agent, logger *zap.Logger) *HospitalHandler {
	return &HospitalHandler{agent: agent, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *HospitalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/hospital/stock-alert" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var alert hospital.StockAlert
	if err := decodeBody(r, &alert); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	req, err := h.agent.ProcessStockAlert(r.Context(), alert)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	if req == nil {
		writeJSON(w, http.StatusOK, Ok(map[string]any{
			"shortage": false,
			"message":  "stock level does not constitute a shortage",
		}))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"shortage":       true,
		"request_id":     req.ID,
		"urgency":        string(req.Urgency),
		"units_needed":   req.UnitsNeeded,
		"priority_score": req.PriorityScore,
	}))
}

// ============================================
// InventoryHandler 库存检索触发入口
// ============================================

// InventoryHandler 手动触发库存检索（入队后立即返回）
type InventoryHandler struct {
	queue  dispatch.Queue
	logger *zap.Logger
}

// NewInventoryHandler 创建库存 Handler
func NewInventoryHandler(queue dispatch.Queue, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{queue: queue, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *InventoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/inventory" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("request_id is required"))
		return
	}

	if err := h.queue.Enqueue(r.Context(), dispatch.TriggerInventorySearch, req.RequestID, map[string]string{"reason": "manual"}); err != nil {
		h.logger.Error("Failed to enqueue inventory search", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to trigger inventory search"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"message": "inventory search triggered"}))
}

// ============================================
// LogisticsHandler 物流动作入口
// ============================================

// LogisticsHandler 物流动作入口
type LogisticsHandler struct {
	agent  *logistics.Agent
	logger *zap.Logger
}

// NewLogisticsHandler 创建物流 Handler
func NewLogisticsHandler(agent *logistics.Agent, logger *zap.Logger) *LogisticsHandler {
	return &LogisticsHandler{agent: agent, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *LogisticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/logistics" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req struct {
		Action      string `json:"action"`
		TransportID string `json:"transport_id,omitempty"`
		DonorID     string `json:"donor_id,omitempty"`
		RequestID   string `json:"request_id,omitempty"`
		Mode        string `json:"mode,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	switch req.Action {
	case "plan_transport":
		if req.TransportID == "" {
			writeJSON(w, http.StatusBadRequest, Fail("transport_id is required"))
			return
		}
		tr, err := h.agent.PlanTransport(r.Context(), req.TransportID)
		if err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		if tr == nil {
			writeJSON(w, http.StatusOK, Ok(map[string]any{
				"planned": false,
				"message": "transport plan rejected, escalated for manual coordination",
			}))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{
			"planned":     true,
			"method":      string(tr.TransportMethod),
			"eta_minutes": tr.ETAMinutes,
		}))

	case "calculate_donor_eta":
		if req.DonorID == "" || req.RequestID == "" {
			writeJSON(w, http.StatusBadRequest, Fail("donor_id and request_id are required"))
			return
		}
		eta, mode, err := h.agent.DonorArrivalEstimate(r.Context(), req.DonorID, req.RequestID, models.TravelMode(req.Mode))
		if err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{
			"eta_minutes": eta,
			"mode":        string(mode),
		}))

	default:
		writeJSON(w, http.StatusBadRequest, Fail("unknown action: "+req.Action))
	}
}

// ============================================
// VerificationHandler 资格审核入口
// ============================================

// VerificationHandler 资格审核入口
type VerificationHandler struct {
	agent  *verification.Agent
	logger *zap.Logger
}

// NewVerificationHandler 创建审核 Handler
func NewVerificationHandler(agent *verification.Agent, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{agent: agent, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *VerificationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/verification/evaluate" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req struct {
		DonorID string `json:"donor_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.DonorID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("donor_id is required"))
		return
	}

	result, err := h.agent.Evaluate(r.Context(), req.DonorID)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, Ok(result))
}
