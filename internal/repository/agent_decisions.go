package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/models"
)

// DecisionStore 决策审计存储接口（仅追加）
type DecisionStore interface {
	CreateDecision(ctx context.Context, decision *models.AgentDecision) error
	ListDecisionsByRequest(ctx context.Context, requestID string) ([]*models.AgentDecision, error)
	SetDecisionOutcome(ctx context.Context, decisionID, outcome string) error
}

// AgentDecisionsRepository 决策审计仓库
type AgentDecisionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAgentDecisionsRepository 创建决策审计仓库
func NewAgentDecisionsRepository(db *sql.DB, logger *zap.Logger) *AgentDecisionsRepository {
	return &AgentDecisionsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateDecision 写入决策记录（每个决策点一行，不可变）
func (r *AgentDecisionsRepository) CreateDecision(ctx context.Context, decision *models.AgentDecision) error {
	if decision.ID == "" {
		return fmt.Errorf("decision id is required")
	}

	query := `
		INSERT INTO agent_decisions (
			id, agent_type, event_type, request_id, decision,
			reasoning, confidence, fallback, raw_context, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`

	rawContext := decision.RawContext
	if rawContext == nil {
		rawContext = []byte(`{}`)
	}

	_, err := r.db.ExecContext(ctx, query,
		decision.ID,
		string(decision.AgentType),
		string(decision.EventType),
		decision.RequestID,
		string(decision.Decision),
		decision.Reasoning,
		decision.Confidence,
		decision.Fallback,
		string(rawContext),
	)
	if err != nil {
		return fmt.Errorf("failed to create agent decision: %w", err)
	}

	return nil
}

// ListDecisionsByRequest 按请求查询决策记录（审计/回放）
func (r *AgentDecisionsRepository) ListDecisionsByRequest(ctx context.Context, requestID string) ([]*models.AgentDecision, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := `
		SELECT id, agent_type, event_type, request_id, decision,
		       reasoning, confidence, fallback, raw_context, outcome, created_at
		FROM agent_decisions
		WHERE request_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.AgentDecision
	for rows.Next() {
		var d models.AgentDecision
		var agentType, eventType string
		var decisionJSON, rawContextJSON string
		var outcome sql.NullString
		err := rows.Scan(
			&d.ID, &agentType, &eventType, &d.RequestID,
			&decisionJSON, &d.Reasoning, &d.Confidence, &d.Fallback,
			&rawContextJSON, &outcome, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent decision: %w", err)
		}
		d.AgentType = models.AgentType(agentType)
		d.EventType = models.EventType(eventType)
		d.Decision = []byte(decisionJSON)
		d.RawContext = []byte(rawContextJSON)
		if outcome.Valid {
			d.Outcome = &outcome.String
		}
		decisions = append(decisions, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent decisions: %w", err)
	}

	return decisions, nil
}

// SetDecisionOutcome 事后追加结果追踪字段（决策记录唯一允许的变更）
func (r *AgentDecisionsRepository) SetDecisionOutcome(ctx context.Context, decisionID, outcome string) error {
	if decisionID == "" {
		return fmt.Errorf("decision_id is required")
	}

	query := `UPDATE agent_decisions SET outcome = $1 WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, outcome, decisionID)
	if err != nil {
		return fmt.Errorf("failed to set decision outcome: %w", err)
	}

	return nil
}
