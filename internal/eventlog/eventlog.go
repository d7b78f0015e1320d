// Package eventlog 事件日志：Postgres 仅追加存储（持久化保证）+
// Redis Streams 广播（尽力而为的 pub/sub，消费端自行过滤）。
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	rediscommon "bloodlink-coordinator/internal/common/redis"
	"bloodlink-coordinator/internal/models"
	"bloodlink-coordinator/internal/repository"
)

// Recorder 事件记录器接口
type Recorder interface {
	Record(ctx context.Context, eventType models.EventType, requestID string, agent models.AgentType, payload interface{}) (*models.AgentEvent, error)
}

// EventRecorder 默认实现：先落库，再广播
type EventRecorder struct {
	events      repository.EventStore
	redisClient *redis.Client
	stream      string
	logger      *zap.Logger
}

// NewEventRecorder 创建事件记录器
func NewEventRecorder(events repository.EventStore, redisClient *redis.Client, stream string, logger *zap.Logger) *EventRecorder {
	return &EventRecorder{
		events:      events,
		redisClient: redisClient,
		stream:      stream,
		logger:      logger,
	}
}

// Record 追加一条事件。
// 落库失败返回错误；广播失败只记日志（存储持久性是唯一的投递保证）。
func (r *EventRecorder) Record(ctx context.Context, eventType models.EventType, requestID string, agent models.AgentType, payload interface{}) (*models.AgentEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := &models.AgentEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		RequestID:      requestID,
		Payload:        payloadJSON,
		ProducingAgent: agent,
		CreatedAt:      time.Now(),
	}

	if err := r.events.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	if r.redisClient != nil {
		if _, err := rediscommon.PublishJSONToStream(ctx, r.redisClient, r.stream, event); err != nil {
			r.logger.Warn("Failed to broadcast event to stream",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(eventType)),
				zap.Error(err),
			)
		}
	}

	r.logger.Info("Agent event recorded",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(eventType)),
		zap.String("request_id", requestID),
		zap.String("producing_agent", string(agent)),
	)

	return event, nil
}
