package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/models"
)

// WorkflowStateStore 工作流状态存储接口
type WorkflowStateStore interface {
	CreateState(ctx context.Context, state *models.WorkflowState) error
	GetState(ctx context.Context, requestID string) (*models.WorkflowState, error)
	AdvanceState(ctx context.Context, requestID string, from, to models.WorkflowStatus, currentStep string) (bool, error)
	SetFulfillmentPlan(ctx context.Context, requestID string, plan *models.FulfillmentPlan) (bool, error)
	SetMetadata(ctx context.Context, requestID string, key, value string) error
}

// WorkflowStatesRepository 工作流状态仓库（每个请求一行）
type WorkflowStatesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowStatesRepository 创建工作流状态仓库
func NewWorkflowStatesRepository(db *sql.DB, logger *zap.Logger) *WorkflowStatesRepository {
	return &WorkflowStatesRepository{
		db:     db,
		logger: logger,
	}
}

// CreateState 创建工作流状态（与请求同时创建，1:1）
func (r *WorkflowStatesRepository) CreateState(ctx context.Context, state *models.WorkflowState) error {
	if state.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	metadata := state.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO workflow_states (
			request_id, status, current_step, metadata, fulfillment_plan,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULL, NOW(), NOW())`

	_, err = r.db.ExecContext(ctx, query,
		state.RequestID,
		string(state.Status),
		state.CurrentStep,
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow state: %w", err)
	}

	return nil
}

// GetState 获取工作流状态
func (r *WorkflowStatesRepository) GetState(ctx context.Context, requestID string) (*models.WorkflowState, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := `
		SELECT request_id, status, current_step, metadata, fulfillment_plan,
		       created_at, updated_at
		FROM workflow_states
		WHERE request_id = $1`

	var state models.WorkflowState
	var status string
	var metadataJSON string
	var planJSON sql.NullString
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&state.RequestID,
		&status,
		&state.CurrentStep,
		&metadataJSON,
		&planJSON,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("workflow state not found: %s", requestID)
		}
		return nil, fmt.Errorf("failed to get workflow state: %w", err)
	}

	state.Status = models.WorkflowStatus(status)

	if err := json.Unmarshal([]byte(metadataJSON), &state.Metadata); err != nil {
		r.logger.Warn("Failed to unmarshal workflow metadata",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		state.Metadata = map[string]string{}
	}

	if planJSON.Valid && planJSON.String != "" {
		var plan models.FulfillmentPlan
		if err := json.Unmarshal([]byte(planJSON.String), &plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fulfillment plan: %w", err)
		}
		state.FulfillmentPlan = &plan
	}

	return &state, nil
}

// AdvanceState 条件状态推进：当前状态必须等于 from，否则不更新（并发触发下近似幂等）
func (r *WorkflowStatesRepository) AdvanceState(ctx context.Context, requestID string, from, to models.WorkflowStatus, currentStep string) (bool, error) {
	if requestID == "" {
		return false, fmt.Errorf("request_id is required")
	}

	query := `
		UPDATE workflow_states
		SET status = $1, current_step = $2, updated_at = NOW()
		WHERE request_id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, string(to), currentStep, requestID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to advance workflow state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows == 1, nil
}

// SetFulfillmentPlan 写入履约方案。
// 条件更新：仅当尚无方案时成功（fulfillment_plan IS NULL），
// 在存储层关闭 selectOptimalMatch 的 check-then-act 竞态窗口。
func (r *WorkflowStatesRepository) SetFulfillmentPlan(ctx context.Context, requestID string, plan *models.FulfillmentPlan) (bool, error) {
	if requestID == "" {
		return false, fmt.Errorf("request_id is required")
	}
	if plan == nil {
		return false, fmt.Errorf("fulfillment plan is required")
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return false, fmt.Errorf("failed to marshal fulfillment plan: %w", err)
	}

	query := `
		UPDATE workflow_states
		SET fulfillment_plan = $1, updated_at = NOW()
		WHERE request_id = $2 AND fulfillment_plan IS NULL`

	result, err := r.db.ExecContext(ctx, query, string(planJSON), requestID)
	if err != nil {
		return false, fmt.Errorf("failed to set fulfillment plan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows == 1, nil
}

// SetMetadata 写入单个元数据键（审计/幂等标记用）
func (r *WorkflowStatesRepository) SetMetadata(ctx context.Context, requestID string, key, value string) error {
	if requestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if key == "" {
		return fmt.Errorf("metadata key is required")
	}

	// jsonb_set 单键覆盖写，避免读-改-写竞态
	query := `
		UPDATE workflow_states
		SET metadata = jsonb_set(metadata, $1, to_jsonb($2::text)),
		    updated_at = NOW()
		WHERE request_id = $3`

	_, err := r.db.ExecContext(ctx, query, fmt.Sprintf("{%s}", key), value, requestID)
	if err != nil {
		return fmt.Errorf("failed to set workflow metadata: %w", err)
	}

	return nil
}
