package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/agents/coordinator"
	"bloodlink-coordinator/internal/agents/hospital"
	"bloodlink-coordinator/internal/agents/logistics"
	"bloodlink-coordinator/internal/agents/verification"
	"bloodlink-coordinator/internal/dispatch"
)

// NewRouter 组装所有 Handler
func NewRouter(
	hospitalAgent *hospital.Agent,
	coordinatorAgent *coordinator.Agent,
	logisticsAgent *logistics.Agent,
	verificationAgent *verification.Agent,
	queue dispatch.Queue,
	logger *zap.Logger,
) *http.ServeMux {
	mux := http.NewServeMux()

	donorHandler := NewDonorHandler(coordinatorAgent, logisticsAgent, logger)
	mux.Handle("/api/v1/donor/respond", donorHandler)
	mux.Handle("/api/v1/donor/eta", donorHandler)
	mux.Handle("/api/v1/coordinator", NewCoordinatorHandler(coordinatorAgent, logger))
	mux.Handle("/api/v1/hospital/stock-alert", NewHospitalHandler(hospitalAgent, logger))
	mux.Handle("/api/v1/inventory", NewInventoryHandler(queue, logger))
	mux.Handle("/api/v1/logistics", NewLogisticsHandler(logisticsAgent, logger))
	mux.Handle("/api/v1/verification/evaluate", NewVerificationHandler(verificationAgent, logger))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]any{"status": "ok"}))
	})

	return mux
}
