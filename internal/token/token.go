// Package token 实现响应令牌的签发与校验。
// 线格式固定为 "{donorId}-{requestId}-{epochMillis}"，有效期4小时。
package token

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL 令牌有效期
const DefaultTTL = 4 * time.Hour

const uuidLen = 36

// Token 解析后的响应令牌
type Token struct {
	DonorID   string
	RequestID string
	IssuedAt  time.Time
}

// Mint 签发令牌
func Mint(donorID, requestID string, issuedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d", donorID, requestID, issuedAt.UnixMilli())
}

// Parse 解析令牌。连字符分段少于3段视为格式错误。
// donorId/requestId 为标准UUID，按固定长度切分后逐一校验。
func Parse(raw string) (*Token, error) {
	parts := strings.Split(raw, "-")
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed token: expected at least 3 hyphen-delimited parts, got %d", len(parts))
	}

	millisPart := parts[len(parts)-1]
	millis, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed token: invalid timestamp %q", millisPart)
	}

	ids := raw[:len(raw)-len(millisPart)-1]
	if len(ids) != uuidLen*2+1 || ids[uuidLen] != '-' {
		return nil, fmt.Errorf("malformed token: invalid id segment")
	}

	donorID := ids[:uuidLen]
	requestID := ids[uuidLen+1:]
	if _, err := uuid.Parse(donorID); err != nil {
		return nil, fmt.Errorf("malformed token: invalid donor id: %w", err)
	}
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, fmt.Errorf("malformed token: invalid request id: %w", err)
	}

	return &Token{
		DonorID:   donorID,
		RequestID: requestID,
		IssuedAt:  time.UnixMilli(millis),
	}, nil
}

// Expired 令牌是否过期（恰好到期视为过期）
func (t *Token) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.IssuedAt) >= ttl
}

// Validate 一步完成解析+过期检查
func Validate(raw string, now time.Time, ttl time.Duration) (*Token, error) {
	tok, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if tok.Expired(now, ttl) {
		return nil, fmt.Errorf("token expired: issued at %s", tok.IssuedAt.Format(time.RFC3339))
	}
	return tok, nil
}
