package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/models"
)

// EventStore 事件日志存储接口（仅追加）
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.AgentEvent) error
	ListEventsByRequest(ctx context.Context, requestID string) ([]*models.AgentEvent, error)
	ListEventsByType(ctx context.Context, eventType models.EventType, limit int) ([]*models.AgentEvent, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// AgentEventsRepository 事件日志仓库
type AgentEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAgentEventsRepository 创建事件日志仓库
func NewAgentEventsRepository(db *sql.DB, logger *zap.Logger) *AgentEventsRepository {
	return &AgentEventsRepository{
		db:     db,
		logger: logger,
	}
}

// AppendEvent 追加事件（不可变）
func (r *AgentEventsRepository) AppendEvent(ctx context.Context, event *models.AgentEvent) error {
	if event.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	query := `
		INSERT INTO agent_events (
			id, type, request_id, payload, producing_agent, processed, created_at
		) VALUES ($1, $2, $3, $4, $5, false, NOW())`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.RequestID,
		string(event.Payload),
		string(event.ProducingAgent),
	)
	if err != nil {
		return fmt.Errorf("failed to append agent event: %w", err)
	}

	return nil
}

func scanAgentEvents(rows *sql.Rows) ([]*models.AgentEvent, error) {
	var events []*models.AgentEvent
	for rows.Next() {
		var e models.AgentEvent
		var eventType, producingAgent, payloadJSON string
		err := rows.Scan(
			&e.ID, &eventType, &e.RequestID, &payloadJSON,
			&producingAgent, &e.Processed, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent event: %w", err)
		}
		e.Type = models.EventType(eventType)
		e.ProducingAgent = models.AgentType(producingAgent)
		e.Payload = []byte(payloadJSON)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent events: %w", err)
	}
	return events, nil
}

// ListEventsByRequest 按请求查询事件（审计/回放）
func (r *AgentEventsRepository) ListEventsByRequest(ctx context.Context, requestID string) ([]*models.AgentEvent, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := `
		SELECT id, type, request_id, payload, producing_agent, processed, created_at
		FROM agent_events
		WHERE request_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent events: %w", err)
	}
	defer rows.Close()

	return scanAgentEvents(rows)
}

// ListEventsByType 按事件类型查询（消费端轮询过滤）
func (r *AgentEventsRepository) ListEventsByType(ctx context.Context, eventType models.EventType, limit int) ([]*models.AgentEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, type, request_id, payload, producing_agent, processed, created_at
		FROM agent_events
		WHERE type = $1 AND processed = false
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, string(eventType), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent events by type: %w", err)
	}
	defer rows.Close()

	return scanAgentEvents(rows)
}

// MarkProcessed 尽力而为的消费标记（非锁）
func (r *AgentEventsRepository) MarkProcessed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `UPDATE agent_events SET processed = true WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	return nil
}
