package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/bloodtype"
	"bloodlink-coordinator/internal/models"
)

// InventoryStore 库存存储接口
type InventoryStore interface {
	FindAvailableUnits(ctx context.Context, bloodTypes []bloodtype.BloodType, excludeHospitalID string, minExpiry time.Time) ([]*models.InventoryUnit, error)
	ReserveUnit(ctx context.Context, unitID, requestID string) (bool, error)
	ReleaseUnit(ctx context.Context, unitID, requestID string) (bool, error)
	SumStock(ctx context.Context, hospitalID string, bt bloodtype.BloodType) (int, error)
}

// InventoryUnitsRepository 库存仓库
type InventoryUnitsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInventoryUnitsRepository 创建库存仓库
func NewInventoryUnitsRepository(db *sql.DB, logger *zap.Logger) *InventoryUnitsRepository {
	return &InventoryUnitsRepository{
		db:     db,
		logger: logger,
	}
}

// FindAvailableUnits 检索可调拨库存：相容血型、未预留、保质期晚于 minExpiry、排除请求方机构
func (r *InventoryUnitsRepository) FindAvailableUnits(ctx context.Context, bloodTypes []bloodtype.BloodType, excludeHospitalID string, minExpiry time.Time) ([]*models.InventoryUnit, error) {
	if len(bloodTypes) == 0 {
		return nil, fmt.Errorf("at least one blood type is required")
	}

	types := make([]string, len(bloodTypes))
	for i, bt := range bloodTypes {
		types[i] = string(bt)
	}

	query := `
		SELECT
			id, hospital_id, blood_type, units, expiry_date,
			reserved, reserved_for, created_at, updated_at
		FROM inventory_units
		WHERE blood_type = ANY($1)
		  AND reserved = false
		  AND units > 0
		  AND expiry_date > $2
		  AND hospital_id != $3
		ORDER BY expiry_date ASC`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(types), minExpiry, excludeHospitalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find available units: %w", err)
	}
	defer rows.Close()

	var units []*models.InventoryUnit
	for rows.Next() {
		var unit models.InventoryUnit
		var bt string
		var reservedFor sql.NullString
		err := rows.Scan(
			&unit.ID,
			&unit.HospitalID,
			&bt,
			&unit.Units,
			&unit.ExpiryDate,
			&unit.Reserved,
			&reservedFor,
			&unit.CreatedAt,
			&unit.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory unit: %w", err)
		}
		unit.BloodType = bloodtype.BloodType(bt)
		if reservedFor.Valid {
			unit.ReservedFor = &reservedFor.String
		}
		units = append(units, &unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inventory units: %w", err)
	}

	return units, nil
}

// ReserveUnit 原子预留：条件更新（reserved = false 前置条件），
// 系统中唯一的真互斥点，并发预留恰好一个成功
func (r *InventoryUnitsRepository) ReserveUnit(ctx context.Context, unitID, requestID string) (bool, error) {
	if unitID == "" || requestID == "" {
		return false, fmt.Errorf("unit_id and request_id are required")
	}

	query := `
		UPDATE inventory_units
		SET reserved = true, reserved_for = $1, updated_at = NOW()
		WHERE id = $2 AND reserved = false`

	result, err := r.db.ExecContext(ctx, query, requestID, unitID)
	if err != nil {
		return false, fmt.Errorf("failed to reserve inventory unit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if rows != 1 {
		r.logger.Info("Inventory unit already reserved",
			zap.String("unit_id", unitID),
			zap.String("request_id", requestID),
		)
		return false, nil
	}

	return true, nil
}

// ReleaseUnit 释放预留（仅释放为该请求预留的单位，方案放弃时调用）
func (r *InventoryUnitsRepository) ReleaseUnit(ctx context.Context, unitID, requestID string) (bool, error) {
	if unitID == "" || requestID == "" {
		return false, fmt.Errorf("unit_id and request_id are required")
	}

	query := `
		UPDATE inventory_units
		SET reserved = false, reserved_for = NULL, updated_at = NOW()
		WHERE id = $1 AND reserved = true AND reserved_for = $2`

	result, err := r.db.ExecContext(ctx, query, unitID, requestID)
	if err != nil {
		return false, fmt.Errorf("failed to release inventory unit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows == 1, nil
}

// SumStock 某机构某血型未预留库存总量（自动告警用）
func (r *InventoryUnitsRepository) SumStock(ctx context.Context, hospitalID string, bt bloodtype.BloodType) (int, error) {
	if hospitalID == "" {
		return 0, fmt.Errorf("hospital_id is required")
	}

	query := `
		SELECT COALESCE(SUM(units), 0)
		FROM inventory_units
		WHERE hospital_id = $1 AND blood_type = $2 AND reserved = false AND expiry_date > NOW()`

	var total int
	if err := r.db.QueryRowContext(ctx, query, hospitalID, string(bt)).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum stock: %w", err)
	}

	return total, nil
}
