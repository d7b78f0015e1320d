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

	"bloodlink-coordinator/internal/models"
)

func setupMockWorkflowDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *WorkflowStatesRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewWorkflowStatesRepository(db, logger)

	return db, mock, repo
}

func TestCreateState(t *testing.T) {
	db, mock, repo := setupMockWorkflowDB(t)
	defer db.Close()

	requestID := uuid.New().String()

	mock.ExpectExec(`INSERT INTO workflow_states`).
		WithArgs(requestID, "pending", "created", `{}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateState(context.Background(), &models.WorkflowState{
		RequestID:   requestID,
		Status:      models.WorkflowPending,
		CurrentStep: "created",
	})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetState_WithPlan(t *testing.T) {
	db, mock, repo := setupMockWorkflowDB(t)
	defer db.Close()

	requestID := uuid.New().String()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"request_id", "status", "current_step", "metadata", "fulfillment_plan",
		"created_at", "updated_at",
	}).AddRow(
		requestID, "fulfillment_in_progress", "donor_matched",
		`{"matched_donor_id":"donor-7"}`,
		`{"strategy":"donor","matched_donor_id":"donor-7","match_score":82.5}`,
		now, now,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(requestID).
		WillReturnRows(rows)

	state, err := repo.GetState(context.Background(), requestID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowFulfillmentInProgress, state.Status)
	require.NotNil(t, state.FulfillmentPlan)
	assert.Equal(t, "donor-7", state.FulfillmentPlan.MatchedDonorID)
	assert.Equal(t, "donor-7", state.MatchedDonorID())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceState_ConditionalNoOp(t *testing.T) {
	db, mock, repo := setupMockWorkflowDB(t)
	defer db.Close()

	requestID := uuid.New().String()

	// 状态已被并发触发推进过，前置条件不满足 → no-op
	mock.ExpectExec(`UPDATE workflow_states`).
		WithArgs("matching", "first_acceptance", requestID, "donors_notified").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.AdvanceState(context.Background(), requestID,
		models.WorkflowDonorsNotified, models.WorkflowMatching, "first_acceptance")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

// 履约方案条件写入：已有方案时第二次写入必须失败（selectOptimalMatch 幂等护栏）
func TestSetFulfillmentPlan_SecondWriteRejected(t *testing.T) {
	db, mock, repo := setupMockWorkflowDB(t)
	defer db.Close()

	requestID := uuid.New().String()
	plan := &models.FulfillmentPlan{
		Strategy:       "donor",
		MatchedDonorID: "donor-7",
		MatchScore:     82.0,
	}

	mock.ExpectExec(`UPDATE workflow_states`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE workflow_states`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetFulfillmentPlan(context.Background(), requestID, plan)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetFulfillmentPlan(context.Background(), requestID, plan)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetFulfillmentPlan_NilPlan(t *testing.T) {
	db, mock, repo := setupMockWorkflowDB(t)
	defer db.Close()

	_, err := repo.SetFulfillmentPlan(context.Background(), "req-1", nil)
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
