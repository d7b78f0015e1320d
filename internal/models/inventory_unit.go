package models

import (
	"time"

	"bloodlink-coordinator/internal/bloodtype"
)

// InventoryUnit 某机构持有的某血型库存（对应 inventory_units 表）
type InventoryUnit struct {
	ID          string              `json:"id" db:"id"`
	HospitalID  string              `json:"hospital_id" db:"hospital_id"`
	BloodType   bloodtype.BloodType `json:"blood_type" db:"blood_type"`
	Units       int                 `json:"units" db:"units"`
	ExpiryDate  time.Time           `json:"expiry_date" db:"expiry_date"`
	Reserved    bool                `json:"reserved" db:"reserved"`
	ReservedFor *string             `json:"reserved_for,omitempty" db:"reserved_for"` // requestId
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at" db:"updated_at"`
}

// DaysUntilExpiry 剩余保质期（天，向下取整）
func (u *InventoryUnit) DaysUntilExpiry(now time.Time) int {
	return int(u.ExpiryDate.Sub(now).Hours() / 24)
}
