package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/agents/coordinator"
	"bloodlink-coordinator/internal/agents/logistics"
	"bloodlink-coordinator/internal/models"
)

// DonorHandler 献血者侧入口：响应回调与到院时间估算
type DonorHandler struct {
	coordinator *coordinator.Agent
	logistics   *logistics.Agent
	logger      *zap.Logger
}

// NewDonorHandler 创建献血者 Handler
func NewDonorHandler(coordinatorAgent *coordinator.Agent, logisticsAgent *logistics.Agent, logger *zap.Logger) *DonorHandler {
	return &DonorHandler{
		coordinator: coordinatorAgent,
		logistics:   logisticsAgent,
		logger:      logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *DonorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/donor/respond" && r.Method == http.MethodPost:
		h.Respond(w, r)
	case r.URL.Path == "/api/v1/donor/eta" && r.Method == http.MethodPost:
		h.CalculateETA(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// Respond 处理献血者接受/拒绝回调
func (h *DonorHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		Status string `json:"status"` // "accept" / "decline"
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, Fail("token is required"))
		return
	}

	var accept bool
	switch strings.ToLower(req.Status) {
	case "accept":
		accept = true
	case "decline":
		accept = false
	default:
		writeJSON(w, http.StatusBadRequest, Fail("status must be 'accept' or 'decline'"))
		return
	}

	message, err := h.coordinator.ProcessDonorResponse(r.Context(), req.Token, accept)
	if err != nil {
		h.logger.Warn("Donor response rejected", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"message": message}))
}

// CalculateETA 估算献血者到院时间（五种出行方式 + 推荐方式）
func (h *DonorHandler) CalculateETA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DonorID   string `json:"donor_id"`
		RequestID string `json:"request_id"`
		Mode      string `json:"mode,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.DonorID == "" || req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("donor_id and request_id are required"))
		return
	}

	eta, mode, err := h.logistics.DonorArrivalEstimate(r.Context(), req.DonorID, req.RequestID, models.TravelMode(req.Mode))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"eta_minutes": eta,
		"mode":        string(mode),
	}))
}
