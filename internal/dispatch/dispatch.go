// Package dispatch 跨Agent触发队列：enqueue-and-return 语义，
// Redis Streams 消费者组承载，至少一次投递（处理端必须幂等）。
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	rediscommon "bloodlink-coordinator/internal/common/redis"
)

// TriggerType 触发消息类型（封闭集合）
type TriggerType string

const (
	TriggerDonorMatch      TriggerType = "trigger.donor_match"
	TriggerInventorySearch TriggerType = "trigger.inventory_search"
	TriggerLogisticsPlan   TriggerType = "trigger.logistics_plan"
	TriggerOptimalMatch    TriggerType = "trigger.optimal_match"
)

var knownTriggerTypes = map[TriggerType]struct{}{
	TriggerDonorMatch:      {},
	TriggerInventorySearch: {},
	TriggerLogisticsPlan:   {},
	TriggerOptimalMatch:    {},
}

// ParseTriggerType 解析触发类型
func ParseTriggerType(s string) (TriggerType, error) {
	tt := TriggerType(s)
	if _, ok := knownTriggerTypes[tt]; !ok {
		return "", fmt.Errorf("unknown trigger type: %q", s)
	}
	return tt, nil
}

// Message 触发消息
type Message struct {
	ID        string            `json:"id"`
	Type      TriggerType       `json:"type"`
	RequestID string            `json:"request_id"`
	Extra     map[string]string `json:"extra,omitempty"` // 附加参数（如 transport_id）
	CreatedAt time.Time         `json:"created_at"`
}

// Queue 触发队列接口（测试中可替换）
type Queue interface {
	Enqueue(ctx context.Context, triggerType TriggerType, requestID string, extra map[string]string) error
}

// RedisQueue 基于 Redis Streams 的触发队列
type RedisQueue struct {
	client *redis.Client
	stream string
}

// NewRedisQueue 创建触发队列
func NewRedisQueue(client *redis.Client, stream string) *RedisQueue {
	return &RedisQueue{
		client: client,
		stream: stream,
	}
}

// Enqueue 入队并立即返回（fire-and-forget 的显式化）
func (q *RedisQueue) Enqueue(ctx context.Context, triggerType TriggerType, requestID string, extra map[string]string) error {
	if _, ok := knownTriggerTypes[triggerType]; !ok {
		return fmt.Errorf("unknown trigger type: %q", triggerType)
	}

	msg := Message{
		ID:        uuid.New().String(),
		Type:      triggerType,
		RequestID: requestID,
		Extra:     extra,
		CreatedAt: time.Now(),
	}

	if _, err := rediscommon.PublishJSONToStream(ctx, q.client, q.stream, msg); err != nil {
		return fmt.Errorf("failed to enqueue trigger: %w", err)
	}

	return nil
}
