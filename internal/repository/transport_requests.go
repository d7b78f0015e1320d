package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/models"
)

// TransportStore 运输请求存储接口
type TransportStore interface {
	CreateTransport(ctx context.Context, tr *models.TransportRequest) error
	GetTransport(ctx context.Context, transportID string) (*models.TransportRequest, error)
	UpdateTransportPlan(ctx context.Context, transportID string, method models.TransportMethod, etaMinutes float64, pickupTime time.Time) error
	AdvanceTransportStatus(ctx context.Context, transportID string, from, to models.TransportStatus) (bool, error)
}

// TransportRequestsRepository 运输请求仓库
type TransportRequestsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransportRequestsRepository 创建运输请求仓库
func NewTransportRequestsRepository(db *sql.DB, logger *zap.Logger) *TransportRequestsRepository {
	return &TransportRequestsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateTransport 创建运输请求（Inventory Agent 预留库存后发起）
func (r *TransportRequestsRepository) CreateTransport(ctx context.Context, tr *models.TransportRequest) error {
	if tr.ID == "" {
		return fmt.Errorf("transport id is required")
	}
	if tr.FromHospitalID == "" || tr.ToHospitalID == "" {
		return fmt.Errorf("from_hospital_id and to_hospital_id are required")
	}

	query := `
		INSERT INTO transport_requests (
			id, request_id, from_hospital_id, to_hospital_id, blood_type,
			units, transport_method, status, distance_km, eta_minutes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`

	_, err := r.db.ExecContext(ctx, query,
		tr.ID,
		tr.RequestID,
		tr.FromHospitalID,
		tr.ToHospitalID,
		string(tr.BloodType),
		tr.Units,
		string(tr.TransportMethod),
		string(tr.Status),
		tr.DistanceKm,
		tr.ETAMinutes,
	)
	if err != nil {
		return fmt.Errorf("failed to create transport request: %w", err)
	}

	return nil
}

// GetTransport 获取运输请求
func (r *TransportRequestsRepository) GetTransport(ctx context.Context, transportID string) (*models.TransportRequest, error) {
	if transportID == "" {
		return nil, fmt.Errorf("transport_id is required")
	}

	query := `
		SELECT
			id, request_id, from_hospital_id, to_hospital_id, blood_type,
			units, transport_method, status, distance_km, pickup_time,
			eta_minutes, created_at, updated_at
		FROM transport_requests
		WHERE id = $1`

	var tr models.TransportRequest
	var bt, method, status string
	var pickupTime sql.NullTime
	err := r.db.QueryRowContext(ctx, query, transportID).Scan(
		&tr.ID,
		&tr.RequestID,
		&tr.FromHospitalID,
		&tr.ToHospitalID,
		&bt,
		&tr.Units,
		&method,
		&status,
		&tr.DistanceKm,
		&pickupTime,
		&tr.ETAMinutes,
		&tr.CreatedAt,
		&tr.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transport request not found: %s", transportID)
		}
		return nil, fmt.Errorf("failed to get transport request: %w", err)
	}

	tr.BloodType = bloodtype.BloodType(bt)
	tr.TransportMethod = models.TransportMethod(method)
	tr.Status = models.TransportStatus(status)
	if pickupTime.Valid {
		tr.PickupTime = &pickupTime.Time
	}

	return &tr, nil
}

// UpdateTransportPlan 写入物流规划结果（方式/ETA/取货时间）
func (r *TransportRequestsRepository) UpdateTransportPlan(ctx context.Context, transportID string, method models.TransportMethod, etaMinutes float64, pickupTime time.Time) error {
	if transportID == "" {
		return fmt.Errorf("transport_id is required")
	}

	query := `
		UPDATE transport_requests
		SET transport_method = $1, eta_minutes = $2, pickup_time = $3, updated_at = NOW()
		WHERE id = $4`

	_, err := r.db.ExecContext(ctx, query, string(method), etaMinutes, pickupTime, transportID)
	if err != nil {
		return fmt.Errorf("failed to update transport plan: %w", err)
	}

	return nil
}

// AdvanceTransportStatus 条件状态推进
func (r *TransportRequestsRepository) AdvanceTransportStatus(ctx context.Context, transportID string, from, to models.TransportStatus) (bool, error) {
	if transportID == "" {
		return false, fmt.Errorf("transport_id is required")
	}

	query := `
		UPDATE transport_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	result, err := r.db.ExecContext(ctx, query, string(to), transportID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to advance transport status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows == 1, nil
}
