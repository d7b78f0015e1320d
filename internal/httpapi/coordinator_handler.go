package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/agents/coordinator"
)

// CoordinatorHandler 协调动作入口
type CoordinatorHandler struct {
	coordinator *coordinator.Agent
	logger      *zap.Logger
}

// NewCoordinatorHandler 创建协调 Handler
func NewCoordinatorHandler(coordinatorAgent *coordinator.Agent, logger *zap.Logger) *CoordinatorHandler {
	return &CoordinatorHandler{
		coordinator: coordinatorAgent,
		logger:      logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *CoordinatorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/coordinator" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req struct {
		Action    string `json:"action"`
		Token     string `json:"token,omitempty"`
		Status    string `json:"status,omitempty"`
		DonorID   string `json:"donor_id,omitempty"`
		RequestID string `json:"request_id,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	switch req.Action {
	case "process_donor_response":
		if req.Token == "" {
			writeJSON(w, http.StatusBadRequest, Fail("token is required"))
			return
		}
		message, err := h.coordinator.ProcessDonorResponse(r.Context(), req.Token, req.Status == "accept")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"message": message}))

	case "confirm_arrival":
		if req.DonorID == "" || req.RequestID == "" {
			writeJSON(w, http.StatusBadRequest, Fail("donor_id and request_id are required"))
			return
		}
		if err := h.coordinator.ConfirmArrival(r.Context(), req.DonorID, req.RequestID); err != nil {
			writeJSON(w, http.StatusOK, Fail(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"message": "arrival confirmed, request fulfilled"}))

	default:
		writeJSON(w, http.StatusBadRequest, Fail("unknown action: "+req.Action))
	}
}
