package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/models"
)

// HospitalStore 医院存储接口
type HospitalStore interface {
	GetHospital(ctx context.Context, hospitalID string) (*models.Hospital, error)
	ListHospitals(ctx context.Context) ([]*models.Hospital, error)
}

// HospitalsRepository 医院仓库
type HospitalsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHospitalsRepository 创建医院仓库
func NewHospitalsRepository(db *sql.DB, logger *zap.Logger) *HospitalsRepository {
	return &HospitalsRepository{
		db:     db,
		logger: logger,
	}
}

const hospitalColumns = `
	id, name, address, phone, latitude, longitude,
	has_24x7_dispatch, min_stock_units, created_at`

func scanHospital(row interface{ Scan(...interface{}) error }) (*models.Hospital, error) {
	var h models.Hospital
	var minStockJSON string

	err := row.Scan(
		&h.ID, &h.Name, &h.Address, &h.Phone,
		&h.Location.Latitude, &h.Location.Longitude,
		&h.Has24x7Dispatch, &minStockJSON, &h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(minStockJSON), &h.MinStockUnits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal min stock config: %w", err)
	}

	return &h, nil
}

// GetHospital 获取医院
func (r *HospitalsRepository) GetHospital(ctx context.Context, hospitalID string) (*models.Hospital, error) {
	if hospitalID == "" {
		return nil, fmt.Errorf("hospital_id is required")
	}

	query := `SELECT ` + hospitalColumns + ` FROM hospitals WHERE id = $1`

	h, err := scanHospital(r.db.QueryRowContext(ctx, query, hospitalID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("hospital not found: %s", hospitalID)
		}
		return nil, fmt.Errorf("failed to get hospital: %w", err)
	}

	return h, nil
}

// ListHospitals 获取全部医院（自动告警巡检用）
func (r *HospitalsRepository) ListHospitals(ctx context.Context) ([]*models.Hospital, error) {
	query := `SELECT ` + hospitalColumns + ` FROM hospitals ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list hospitals: %w", err)
	}
	defer rows.Close()

	var hospitals []*models.Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hospital: %w", err)
		}
		hospitals = append(hospitals, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hospitals: %w", err)
	}

	return hospitals, nil
}
