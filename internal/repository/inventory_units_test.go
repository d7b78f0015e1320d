package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/bloodtype"
)

func setupMockInventoryDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *InventoryUnitsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewInventoryUnitsRepository(db, logger)

	return db, mock, repo
}

func TestReserveUnit_Success(t *testing.T) {
	db, mock, repo := setupMockInventoryDB(t)
	defer db.Close()

	unitID := uuid.New().String()
	requestID := uuid.New().String()

	mock.ExpectExec(`UPDATE inventory_units`).
		WithArgs(requestID, unitID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.ReserveUnit(context.Background(), unitID, requestID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

// 并发预留：前置条件 reserved=false 不满足时 RowsAffected=0，第二次预留必须失败
func TestReserveUnit_AlreadyReserved(t *testing.T) {
	db, mock, repo := setupMockInventoryDB(t)
	defer db.Close()

	unitID := uuid.New().String()
	requestID := uuid.New().String()

	mock.ExpectExec(`UPDATE inventory_units`).
		WithArgs(requestID, unitID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ReserveUnit(context.Background(), unitID, requestID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveUnit_MissingIDs(t *testing.T) {
	db, mock, repo := setupMockInventoryDB(t)
	defer db.Close()

	_, err := repo.ReserveUnit(context.Background(), "", "req-1")
	assert.Error(t, err)

	_, err = repo.ReserveUnit(context.Background(), "unit-1", "")
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseUnit_OnlyOwnReservation(t *testing.T) {
	db, mock, repo := setupMockInventoryDB(t)
	defer db.Close()

	unitID := uuid.New().String()
	requestID := uuid.New().String()

	// 为其他请求预留的单位不可释放
	mock.ExpectExec(`UPDATE inventory_units`).
		WithArgs(unitID, requestID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ReleaseUnit(context.Background(), unitID, requestID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAvailableUnits(t *testing.T) {
	db, mock, repo := setupMockInventoryDB(t)
	defer db.Close()

	now := time.Now()
	expiry := now.AddDate(0, 0, 20)

	rows := sqlmock.NewRows([]string{
		"id", "hospital_id", "blood_type", "units", "expiry_date",
		"reserved", "reserved_for", "created_at", "updated_at",
	}).AddRow(
		"unit-1", "hosp-2", "O-", 4, expiry,
		false, nil, now, now,
	).AddRow(
		"unit-2", "hosp-3", "O+", 2, expiry.AddDate(0, 0, 10),
		false, nil, now, now,
	)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	units, err := repo.FindAvailableUnits(
		context.Background(),
		[]bloodtype.BloodType{bloodtype.ONeg, bloodtype.OPos},
		"hosp-1",
		now.AddDate(0, 0, 7),
	)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, bloodtype.ONeg, units[0].BloodType)
	assert.Equal(t, 4, units[0].Units)
	assert.False(t, units[0].Reserved)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAvailableUnits_NoTypes(t *testing.T) {
	db, mock, repo := setupMockInventoryDB(t)
	defer db.Close()

	_, err := repo.FindAvailableUnits(context.Background(), nil, "hosp-1", time.Now())
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSumStock(t *testing.T) {
	db, mock, repo := setupMockInventoryDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs("hosp-1", "A+").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(12))

	total, err := repo.SumStock(context.Background(), "hosp-1", bloodtype.APos)
	require.NoError(t, err)
	assert.Equal(t, 12, total)

	require.NoError(t, mock.ExpectationsWereMet())
}
