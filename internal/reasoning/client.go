// Package reasoning 封装外部决策服务。
// 每个决策点只尝试一次外部调用；任何失败（网络、超时、响应不合规）
// 返回 *Error，由调用方执行确定性兜底 —— 工作流绝不因该依赖阻塞。
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/models"
)

// Error 外部决策失败（调用方据此走兜底路径）
type Error struct {
	Stage string // "transport" / "status" / "decode" / "validate" / "disabled"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reasoning %s failure: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Query 一次决策请求
type Query struct {
	AgentType models.AgentType `json:"agent_type"`
	EventType models.EventType `json:"event_type"`
	RequestID string           `json:"request_id"`
	Prompt    string           `json:"prompt"`
	Context   map[string]any   `json:"context"`
}

// Outcome 外部决策结果
type Outcome struct {
	Decision   json.RawMessage `json:"decision"`
	Reasoning  string          `json:"reasoning"`
	Confidence float64         `json:"confidence"`
}

// Decider 决策接口（测试中可替换）
type Decider interface {
	Decide(ctx context.Context, q Query) (*Outcome, error)
}

// apiRequest 决策服务 API 请求体
type apiRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Context map[string]any `json:"context,omitempty"`
}

// apiResponse 决策服务 API 响应体
type apiResponse struct {
	Decision   json.RawMessage `json:"decision"`
	Reasoning  string          `json:"reasoning"`
	Confidence float64         `json:"confidence"`
}

// Client 外部决策服务客户端
type Client struct {
	httpClient *resty.Client
	model      string
	enabled    bool
	logger     *zap.Logger
}

// NewClient 创建决策服务客户端
func NewClient(cfg *config.ReasoningConfig, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSec) * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Client{
		httpClient: client,
		model:      cfg.Model,
		enabled:    cfg.Enabled,
		logger:     logger,
	}
}

// Decide 执行一次决策调用（单次尝试，不重试）
func (c *Client) Decide(ctx context.Context, q Query) (*Outcome, error) {
	if !c.enabled {
		return nil, &Error{Stage: "disabled", Err: fmt.Errorf("reasoning service disabled by config")}
	}

	request := apiRequest{
		Model:   c.model,
		Prompt:  q.Prompt,
		Context: q.Context,
	}

	var response apiResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/v1/decisions")

	if err != nil {
		c.logger.Warn("Reasoning service call failed",
			zap.String("agent_type", string(q.AgentType)),
			zap.String("event_type", string(q.EventType)),
			zap.String("request_id", q.RequestID),
			zap.Error(err),
		)
		return nil, &Error{Stage: "transport", Err: err}
	}

	if resp.StatusCode() != 200 {
		c.logger.Warn("Reasoning service returned non-200",
			zap.String("agent_type", string(q.AgentType)),
			zap.String("request_id", q.RequestID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, &Error{Stage: "status", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}

	if len(response.Decision) == 0 {
		return nil, &Error{Stage: "decode", Err: fmt.Errorf("empty decision payload")}
	}

	return &Outcome{
		Decision:   response.Decision,
		Reasoning:  response.Reasoning,
		Confidence: response.Confidence,
	}, nil
}

// DecodeDecision 将外部决策解码为具体变体结构
// 解码失败同样视为外部失败（调用方走兜底）
func DecodeDecision(outcome *Outcome, v interface{}) error {
	if outcome == nil || len(outcome.Decision) == 0 {
		return &Error{Stage: "decode", Err: fmt.Errorf("no decision to decode")}
	}
	if err := json.Unmarshal(outcome.Decision, v); err != nil {
		return &Error{Stage: "decode", Err: err}
	}
	return nil
}
