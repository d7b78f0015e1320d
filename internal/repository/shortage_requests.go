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

// ShortageRequestStore 缺血请求存储接口（测试中可用内存伪实现替换）
type ShortageRequestStore interface {
	CreateRequest(ctx context.Context, req *models.ShortageRequest) error
	GetRequest(ctx context.Context, requestID string) (*models.ShortageRequest, error)
	UpdateRequestStatus(ctx context.Context, requestID string, from, to models.RequestStatus) (bool, error)
	HasRecentRequest(ctx context.Context, hospitalID string, bloodType string, since time.Time) (bool, error)
	ListStaleByStatus(ctx context.Context, status models.RequestStatus, updatedBefore time.Time) ([]*models.ShortageRequest, error)
}

// ShortageRequestsRepository 缺血请求仓库
type ShortageRequestsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewShortageRequestsRepository 创建缺血请求仓库
func NewShortageRequestsRepository(db *sql.DB, logger *zap.Logger) *ShortageRequestsRepository {
	return &ShortageRequestsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateRequest 创建缺血请求
func (r *ShortageRequestsRepository) CreateRequest(ctx context.Context, req *models.ShortageRequest) error {
	if req.ID == "" {
		return fmt.Errorf("request id is required")
	}
	if req.HospitalID == "" {
		return fmt.Errorf("hospital_id is required")
	}

	query := `
		INSERT INTO shortage_requests (
			id, hospital_id, blood_type, units_needed, urgency,
			search_radius_km, latitude, longitude, priority_score,
			status, auto_detected, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())`

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.HospitalID,
		string(req.BloodType),
		req.UnitsNeeded,
		string(req.Urgency),
		req.SearchRadiusKm,
		req.Location.Latitude,
		req.Location.Longitude,
		req.PriorityScore,
		string(req.Status),
		req.AutoDetected,
	)
	if err != nil {
		return fmt.Errorf("failed to create shortage request: %w", err)
	}

	return nil
}

// GetRequest 根据ID获取缺血请求
func (r *ShortageRequestsRepository) GetRequest(ctx context.Context, requestID string) (*models.ShortageRequest, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := `
		SELECT
			id, hospital_id, blood_type, units_needed, urgency,
			search_radius_km, latitude, longitude, priority_score,
			status, auto_detected, created_at, updated_at
		FROM shortage_requests
		WHERE id = $1`

	var req models.ShortageRequest
	var bloodType, urgency, status string
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&req.ID,
		&req.HospitalID,
		&bloodType,
		&req.UnitsNeeded,
		&urgency,
		&req.SearchRadiusKm,
		&req.Location.Latitude,
		&req.Location.Longitude,
		&req.PriorityScore,
		&status,
		&req.AutoDetected,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("shortage request not found: %s", requestID)
		}
		return nil, fmt.Errorf("failed to get shortage request: %w", err)
	}

	req.BloodType = bloodtype.BloodType(bloodType)
	req.Urgency = models.Urgency(urgency)
	req.Status = models.RequestStatus(status)

	return &req, nil
}

// UpdateRequestStatus 条件状态推进（当前状态不匹配时不更新，返回 false）
func (r *ShortageRequestsRepository) UpdateRequestStatus(ctx context.Context, requestID string, from, to models.RequestStatus) (bool, error) {
	if requestID == "" {
		return false, fmt.Errorf("request_id is required")
	}

	query := `
		UPDATE shortage_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	result, err := r.db.ExecContext(ctx, query, string(to), requestID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update request status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows == 1, nil
}

// HasRecentRequest 指定医院+血型在 since 之后是否已有未完结请求（自动告警去重）
func (r *ShortageRequestsRepository) HasRecentRequest(ctx context.Context, hospitalID string, bloodType string, since time.Time) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM shortage_requests
		WHERE hospital_id = $1
		  AND blood_type = $2
		  AND status != 'fulfilled'
		  AND created_at > $3`

	var count int
	err := r.db.QueryRowContext(ctx, query, hospitalID, bloodType, since).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check recent requests: %w", err)
	}

	return count > 0, nil
}

// ListStaleByStatus 列出指定状态下、最后更新时间早于 updatedBefore 的请求（超时巡检用）
func (r *ShortageRequestsRepository) ListStaleByStatus(ctx context.Context, status models.RequestStatus, updatedBefore time.Time) ([]*models.ShortageRequest, error) {
	query := `
		SELECT
			id, hospital_id, blood_type, units_needed, urgency,
			search_radius_km, latitude, longitude, priority_score,
			status, auto_detected, created_at, updated_at
		FROM shortage_requests
		WHERE status = $1 AND updated_at < $2
		ORDER BY priority_score DESC`

	rows, err := r.db.QueryContext(ctx, query, string(status), updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.ShortageRequest
	for rows.Next() {
		var req models.ShortageRequest
		var bloodType, urgency, st string
		if err := rows.Scan(
			&req.ID,
			&req.HospitalID,
			&bloodType,
			&req.UnitsNeeded,
			&urgency,
			&req.SearchRadiusKm,
			&req.Location.Latitude,
			&req.Location.Longitude,
			&req.PriorityScore,
			&st,
			&req.AutoDetected,
			&req.CreatedAt,
			&req.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan shortage request: %w", err)
		}
		req.BloodType = bloodtype.BloodType(bloodType)
		req.Urgency = models.Urgency(urgency)
		req.Status = models.RequestStatus(st)
		requests = append(requests, &req)
	}

	return requests, rows.Err()
}
