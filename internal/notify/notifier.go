// Package notify 通知推送：MQTT 主题承载，外部投递网关（短信/邮件）订阅转发。
// 投递是尽力而为 + 可重复的（至少一次模型下可能重复推送）。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	commonmqtt "bloodlink-coordinator/internal/common/mqtt"
)

// Kind 通知类别
type Kind string

const (
	KindDonorCandidate  Kind = "donor_candidate"   // 匹配通知（含响应令牌）
	KindHospitalDetails Kind = "hospital_details"  // 接受后的医院信息
	KindSelected        Kind = "selected"          // 最终选中 + 物流信息
	KindCourtesyDecline Kind = "courtesy_decline"  // 未选中的礼貌性通知
	KindOpsEscalation   Kind = "ops_escalation"    // 人工介入升级
)

// Notification 一条出站通知
type Notification struct {
	Kind      Kind           `json:"kind"`
	Recipient string         `json:"recipient"` // 献血者ID或医院ID
	RequestID string         `json:"request_id"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"` // 结构化附加数据（令牌、地址等）
	SentAt    time.Time      `json:"sent_at"`
}

// Notifier 通知发送接口（测试中可替换）
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// MQTTNotifier 基于 MQTT 的通知发送器
type MQTTNotifier struct {
	client *commonmqtt.Client
	qos    byte
	logger *zap.Logger
}

// NewMQTTNotifier 创建 MQTT 通知发送器
func NewMQTTNotifier(client *commonmqtt.Client, qos byte, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		qos:    qos,
		logger: logger,
	}
}

// Send 发布通知到接收方主题
func (n *MQTTNotifier) Send(ctx context.Context, notification Notification) error {
	if notification.Recipient == "" {
		return fmt.Errorf("notification recipient is required")
	}

	notification.SentAt = time.Now()
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	topic := fmt.Sprintf("bloodlink/notify/%s", notification.Recipient)
	if err := n.client.Publish(topic, n.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.logger.Info("Notification sent",
		zap.String("kind", string(notification.Kind)),
		zap.String("recipient", notification.Recipient),
		zap.String("request_id", notification.RequestID),
	)

	return nil
}
