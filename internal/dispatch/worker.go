package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "bloodlink-coordinator/internal/common/redis"
)

// HandlerFunc 触发消息处理函数
type HandlerFunc func(ctx context.Context, msg Message) error

// Worker 触发消息消费者：消费者组读取 + 工作协程池处理
type Worker struct {
	redisClient  *redis.Client
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	concurrency  int
	handlers     map[TriggerType]HandlerFunc
}

// NewWorker 创建消费者
func NewWorker(
	redisClient *redis.Client,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
	concurrency int,
) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		redisClient:  redisClient,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
		concurrency:  concurrency,
		handlers:     make(map[TriggerType]HandlerFunc),
	}
}

// Register 注册处理函数（每种触发类型一个，重复注册视为编程错误）
func (w *Worker) Register(triggerType TriggerType, handler HandlerFunc) error {
	if _, ok := knownTriggerTypes[triggerType]; !ok {
		return fmt.Errorf("unknown trigger type: %q", triggerType)
	}
	if _, exists := w.handlers[triggerType]; exists {
		return fmt.Errorf("handler already registered for %q", triggerType)
	}
	w.handlers[triggerType] = handler
	return nil
}

// Start 启动消费循环（带指数退避），阻塞直到 ctx 取消
func (w *Worker) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, w.redisClient, w.stream, w.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	w.logger.Info("Dispatch worker started",
		zap.String("stream", w.stream),
		zap.String("consumer_group", w.groupName),
		zap.String("consumer_name", w.consumerName),
		zap.Int("concurrency", w.concurrency),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := w.consumeOnce(ctx); err != nil {
				w.logger.Error("Failed to consume triggers",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeOnce 读取一批消息并并发处理
func (w *Worker) consumeOnce(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		w.redisClient,
		w.stream,
		w.groupName,
		w.consumerName,
		w.batchSize,
	)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	// 协程池：并发处理，单条失败不影响其余消息
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, streamMsg := range messages {
		wg.Add(1)
		sem <- struct{}{}
		go func(sm rediscommon.StreamMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			w.handleStreamMessage(ctx, sm)
		}(streamMsg)
	}
	wg.Wait()

	return nil
}

// handleStreamMessage 解析并分发单条消息
// 处理失败不 ACK（停留在 pending list，等待重投 —— 至少一次语义）
func (w *Worker) handleStreamMessage(ctx context.Context, sm rediscommon.StreamMessage) {
	data, ok := sm.Values["data"].(string)
	if !ok {
		w.logger.Warn("Trigger message missing data field",
			zap.String("stream_id", sm.ID),
		)
		// 无法解析的消息直接 ACK，避免毒消息反复重投
		w.ack(ctx, sm.ID)
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		w.logger.Warn("Failed to unmarshal trigger message",
			zap.String("stream_id", sm.ID),
			zap.Error(err),
		)
		w.ack(ctx, sm.ID)
		return
	}

	handler, exists := w.handlers[msg.Type]
	if !exists {
		w.logger.Warn("No handler registered for trigger type",
			zap.String("trigger_type", string(msg.Type)),
		)
		w.ack(ctx, sm.ID)
		return
	}

	if err := handler(ctx, msg); err != nil {
		w.logger.Error("Trigger handler failed",
			zap.String("trigger_type", string(msg.Type)),
			zap.String("request_id", msg.RequestID),
			zap.Error(err),
		)
		return
	}

	w.ack(ctx, sm.ID)
}

func (w *Worker) ack(ctx context.Context, streamID string) {
	if err := rediscommon.AckMessage(ctx, w.redisClient, w.stream, w.groupName, streamID); err != nil {
		w.logger.Warn("Failed to ack trigger message",
			zap.String("stream_id", streamID),
			zap.Error(err),
		)
	}
}
