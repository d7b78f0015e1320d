package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/models"
)

// DonorStore 献血者存储接口（注册记录归属注册子系统，本服务读取 + 审核状态回写）
type DonorStore interface {
	GetDonor(ctx context.Context, donorID string) (*models.Donor, error)
	FindApprovedByBloodTypes(ctx context.Context, bloodTypes []bloodtype.BloodType) ([]*models.Donor, error)
	RecordNotification(ctx context.Context, donorID string) error
	RecordReply(ctx context.Context, donorID string, accepted bool, responseTimeMin float64) error
	UpdateDonorStatus(ctx context.Context, donorID string, status models.DonorStatus) error
	IncrementFailedAttempts(ctx context.Context, donorID string) (int, error)
	ClearFailedAttempts(ctx context.Context, donorID string) error
	SuspendDonor(ctx context.Context, donorID string, until time.Time) error
}

// DonorsRepository 献血者仓库
type DonorsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDonorsRepository 创建献血者仓库
func NewDonorsRepository(db *sql.DB, logger *zap.Logger) *DonorsRepository {
	return &DonorsRepository{
		db:     db,
		logger: logger,
	}
}

const donorColumns = `
	id, name, gender, age, weight_kg, height_cm, hemoglobin, blood_type,
	status, latitude, longitude, disease_tests, last_donation,
	vaccinated, on_medication, total_notified, total_accepted,
	avg_response_time_min, reliability_score, failed_attempts,
	suspended_until, created_at, updated_at`

func scanDonor(row interface{ Scan(...interface{}) error }) (*models.Donor, error) {
	var d models.Donor
	var bt, status string
	var diseaseTestsJSON string
	var lastDonation, suspendedUntil sql.NullTime

	err := row.Scan(
		&d.ID, &d.Name, &d.Gender, &d.Age, &d.WeightKg, &d.HeightCm,
		&d.Hemoglobin, &bt, &status, &d.Location.Latitude,
		&d.Location.Longitude, &diseaseTestsJSON, &lastDonation,
		&d.Vaccinated, &d.OnMedication, &d.TotalNotified, &d.TotalAccepted,
		&d.AvgResponseTimeMin, &d.ReliabilityScore, &d.FailedAttempts,
		&suspendedUntil, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.BloodType = bloodtype.BloodType(bt)
	d.Status = models.DonorStatus(status)
	if lastDonation.Valid {
		d.LastDonation = &lastDonation.Time
	}
	if suspendedUntil.Valid {
		d.SuspendedUntil = &suspendedUntil.Time
	}
	if err := json.Unmarshal([]byte(diseaseTestsJSON), &d.DiseaseTests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal disease tests: %w", err)
	}

	return &d, nil
}

// GetDonor 获取献血者
func (r *DonorsRepository) GetDonor(ctx context.Context, donorID string) (*models.Donor, error) {
	if donorID == "" {
		return nil, fmt.Errorf("donor_id is required")
	}

	query := `SELECT ` + donorColumns + ` FROM donors WHERE id = $1`

	d, err := scanDonor(r.db.QueryRowContext(ctx, query, donorID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("donor not found: %s", donorID)
		}
		return nil, fmt.Errorf("failed to get donor: %w", err)
	}

	return d, nil
}

// FindApprovedByBloodTypes 检索指定血型集合内已批准的献血者
// 半径/医学资格过滤在匹配Agent内完成（需要请求上下文）
func (r *DonorsRepository) FindApprovedByBloodTypes(ctx context.Context, bloodTypes []bloodtype.BloodType) ([]*models.Donor, error) {
	if len(bloodTypes) == 0 {
		return nil, fmt.Errorf("at least one blood type is required")
	}

	types := make([]string, len(bloodTypes))
	for i, bt := range bloodTypes {
		types[i] = string(bt)
	}

	query := `SELECT ` + donorColumns + ` FROM donors WHERE blood_type = ANY($1) AND status = 'approved'`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(types))
	if err != nil {
		return nil, fmt.Errorf("failed to find donors: %w", err)
	}
	defer rows.Close()

	var donors []*models.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan donor: %w", err)
		}
		donors = append(donors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donors: %w", err)
	}

	return donors, nil
}

// RecordNotification 记录一次通知（响应性统计用）
func (r *DonorsRepository) RecordNotification(ctx context.Context, donorID string) error {
	query := `UPDATE donors SET total_notified = total_notified + 1, updated_at = NOW() WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, donorID)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}

	return nil
}

// RecordReply 记录一次回复，滚动更新平均响应时间
func (r *DonorsRepository) RecordReply(ctx context.Context, donorID string, accepted bool, responseTimeMin float64) error {
	// 平均响应时间按已回复次数滚动更新（单语句内完成，避免读-改-写）
	query := `
		UPDATE donors
		SET total_accepted = total_accepted + CASE WHEN $1 THEN 1 ELSE 0 END,
		    avg_response_time_min = CASE
		        WHEN total_accepted + CASE WHEN $1 THEN 1 ELSE 0 END = 0 THEN avg_response_time_min
		        ELSE (avg_response_time_min * total_accepted + $2) / (total_accepted + 1)
		    END,
		    updated_at = NOW()
		WHERE id = $3`

	_, err := r.db.ExecContext(ctx, query, accepted, responseTimeMin, donorID)
	if err != nil {
		return fmt.Errorf("failed to record reply: %w", err)
	}

	return nil
}

// UpdateDonorStatus 更新账户状态
func (r *DonorsRepository) UpdateDonorStatus(ctx context.Context, donorID string, status models.DonorStatus) error {
	if donorID == "" {
		return fmt.Errorf("donor_id is required")
	}

	query := `UPDATE donors SET status = $1, updated_at = NOW() WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, string(status), donorID)
	if err != nil {
		return fmt.Errorf("failed to update donor status: %w", err)
	}

	return nil
}

// IncrementFailedAttempts 资格审核失败计数+1，返回新计数
func (r *DonorsRepository) IncrementFailedAttempts(ctx context.Context, donorID string) (int, error) {
	if donorID == "" {
		return 0, fmt.Errorf("donor_id is required")
	}

	query := `
		UPDATE donors
		SET failed_attempts = failed_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_attempts`

	var attempts int
	if err := r.db.QueryRowContext(ctx, query, donorID).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to increment failed attempts: %w", err)
	}

	return attempts, nil
}

// ClearFailedAttempts 清零失败计数（审核通过或冷却期结束后）
func (r *DonorsRepository) ClearFailedAttempts(ctx context.Context, donorID string) error {
	query := `UPDATE donors SET failed_attempts = 0, suspended_until = NULL, updated_at = NOW() WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, donorID)
	if err != nil {
		return fmt.Errorf("failed to clear failed attempts: %w", err)
	}

	return nil
}

// SuspendDonor 进入冷却期（重试预算耗尽）
func (r *DonorsRepository) SuspendDonor(ctx context.Context, donorID string, until time.Time) error {
	if donorID == "" {
		return fmt.Errorf("donor_id is required")
	}

	query := `UPDATE donors SET status = 'suspended', suspended_until = $1, updated_at = NOW() WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, until, donorID)
	if err != nil {
		return fmt.Errorf("failed to suspend donor: %w", err)
	}

	return nil
}
