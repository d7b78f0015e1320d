package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/models"
)

// DonorResponseStore 献血者响应存储接口
type DonorResponseStore interface {
	CreateResponse(ctx context.Context, resp *models.DonorCandidateResponse) error
	GetResponse(ctx context.Context, donorID, requestID string) (*models.DonorCandidateResponse, error)
	RecordResponse(ctx context.Context, donorID, requestID string, status models.ResponseStatus, respondedAt time.Time, responseTimeMs int64) (bool, error)
	ListResponsesByStatus(ctx context.Context, requestID string, status models.ResponseStatus) ([]*models.DonorCandidateResponse, error)
	CountResponsesByStatus(ctx context.Context, requestID string, status models.ResponseStatus) (int, error)
	SetExpectedArrival(ctx context.Context, donorID, requestID string, expectedArrival time.Time) error
	ConfirmArrival(ctx context.Context, donorID, requestID string) (bool, error)
}

// DonorResponsesRepository 献血者响应仓库
type DonorResponsesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDonorResponsesRepository 创建献血者响应仓库
func NewDonorResponsesRepository(db *sql.DB, logger *zap.Logger) *DonorResponsesRepository {
	return &DonorResponsesRepository{
		db:     db,
		logger: logger,
	}
}

// CreateResponse 通知时创建响应记录（notified 状态）
func (r *DonorResponsesRepository) CreateResponse(ctx context.Context, resp *models.DonorCandidateResponse) error {
	if resp.DonorID == "" || resp.RequestID == "" {
		return fmt.Errorf("donor_id and request_id are required")
	}

	query := `
		INSERT INTO donor_responses (
			id, donor_id, request_id, notified_at, status,
			distance_km, score, confirmed, no_show
		) VALUES ($1, $2, $3, $4, $5, $6, $7, false, false)`

	_, err := r.db.ExecContext(ctx, query,
		resp.ID,
		resp.DonorID,
		resp.RequestID,
		resp.NotifiedAt,
		string(resp.Status),
		resp.DistanceKm,
		resp.Score,
	)
	if err != nil {
		return fmt.Errorf("failed to create donor response: %w", err)
	}

	return nil
}

const donorResponseColumns = `
	id, donor_id, request_id, notified_at, responded_at, status,
	response_time_ms, distance_km, score, confirmed, no_show, expected_arrival`

func scanDonorResponse(row interface{ Scan(...interface{}) error }) (*models.DonorCandidateResponse, error) {
	var resp models.DonorCandidateResponse
	var status string
	var respondedAt, expectedArrival sql.NullTime
	var responseTimeMs sql.NullInt64

	err := row.Scan(
		&resp.ID,
		&resp.DonorID,
		&resp.RequestID,
		&resp.NotifiedAt,
		&respondedAt,
		&status,
		&responseTimeMs,
		&resp.DistanceKm,
		&resp.Score,
		&resp.Confirmed,
		&resp.NoShow,
		&expectedArrival,
	)
	if err != nil {
		return nil, err
	}

	resp.Status = models.ResponseStatus(status)
	if respondedAt.Valid {
		resp.RespondedAt = &respondedAt.Time
	}
	if responseTimeMs.Valid {
		resp.ResponseTimeMs = responseTimeMs.Int64
	}
	if expectedArrival.Valid {
		resp.ExpectedArrival = &expectedArrival.Time
	}

	return &resp, nil
}

// GetResponse 按献血者+请求获取响应记录
func (r *DonorResponsesRepository) GetResponse(ctx context.Context, donorID, requestID string) (*models.DonorCandidateResponse, error) {
	if donorID == "" || requestID == "" {
		return nil, fmt.Errorf("donor_id and request_id are required")
	}

	query := `
		SELECT ` + donorResponseColumns + `
		FROM donor_responses
		WHERE donor_id = $1 AND request_id = $2`

	resp, err := scanDonorResponse(r.db.QueryRowContext(ctx, query, donorID, requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("donor response not found: donor=%s request=%s", donorID, requestID)
		}
		return nil, fmt.Errorf("failed to get donor response: %w", err)
	}

	return resp, nil
}

// RecordResponse 记录献血者回复（仅 notified 状态可更新，重复回调不覆盖）
func (r *DonorResponsesRepository) RecordResponse(ctx context.Context, donorID, requestID string, status models.ResponseStatus, respondedAt time.Time, responseTimeMs int64) (bool, error) {
	if donorID == "" || requestID == "" {
		return false, fmt.Errorf("donor_id and request_id are required")
	}

	query := `
		UPDATE donor_responses
		SET status = $1, responded_at = $2, response_time_ms = $3
		WHERE donor_id = $4 AND request_id = $5 AND status = 'notified'`

	result, err := r.db.ExecContext(ctx, query, string(status), respondedAt, responseTimeMs, donorID, requestID)
	if err != nil {
		return false, fmt.Errorf("failed to record donor response: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows == 1, nil
}

// ListResponsesByStatus 查询请求下指定状态的响应列表
func (r *DonorResponsesRepository) ListResponsesByStatus(ctx context.Context, requestID string, status models.ResponseStatus) ([]*models.DonorCandidateResponse, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := `
		SELECT ` + donorResponseColumns + `
		FROM donor_responses
		WHERE request_id = $1 AND status = $2
		ORDER BY notified_at ASC`

	rows, err := r.db.QueryContext(ctx, query, requestID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list donor responses: %w", err)
	}
	defer rows.Close()

	var responses []*models.DonorCandidateResponse
	for rows.Next() {
		resp, err := scanDonorResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan donor response: %w", err)
		}
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donor responses: %w", err)
	}

	return responses, nil
}

// CountResponsesByStatus 统计请求下指定状态的响应数量
func (r *DonorResponsesRepository) CountResponsesByStatus(ctx context.Context, requestID string, status models.ResponseStatus) (int, error) {
	if requestID == "" {
		return 0, fmt.Errorf("request_id is required")
	}

	query := `SELECT COUNT(*) FROM donor_responses WHERE request_id = $1 AND status = $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, requestID, string(status)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count donor responses: %w", err)
	}

	return count, nil
}

// SetExpectedArrival 写入预计到达时间
func (r *DonorResponsesRepository) SetExpectedArrival(ctx context.Context, donorID, requestID string, expectedArrival time.Time) error {
	query := `
		UPDATE donor_responses
		SET expected_arrival = $1
		WHERE donor_id = $2 AND request_id = $3`

	_, err := r.db.ExecContext(ctx, query, expectedArrival, donorID, requestID)
	if err != nil {
		return fmt.Errorf("failed to set expected arrival: %w", err)
	}

	return nil
}

// ConfirmArrival 医院侧确认到达（仅 accepted 状态可确认）
func (r *DonorResponsesRepository) ConfirmArrival(ctx context.Context, donorID, requestID string) (bool, error) {
	if donorID == "" || requestID == "" {
		return false, fmt.Errorf("donor_id and request_id are required")
	}

	query := `
		UPDATE donor_responses
		SET confirmed = true
		WHERE donor_id = $1 AND request_id = $2 AND status = 'accepted' AND confirmed = false`

	result, err := r.db.ExecContext(ctx, query, donorID, requestID)
	if err != nil {
		return false, fmt.Errorf("failed to confirm arrival: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows == 1, nil
}
