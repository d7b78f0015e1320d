package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndParse_RoundTrip(t *testing.T) {
	donorID := uuid.New().String()
	requestID := uuid.New().String()
	issuedAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	raw := Mint(donorID, requestID, issuedAt)

	tok, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, donorID, tok.DonorID)
	assert.Equal(t, requestID, tok.RequestID)
	assert.Equal(t, issuedAt.UnixMilli(), tok.IssuedAt.UnixMilli())
}

func TestParse_Malformed(t *testing.T) {
	cases := []string{
		"",
		"abc",
		"abc-def", // 少于3段
		"not-a-uuid-12345",
		Mint(uuid.New().String(), uuid.New().String(), time.Now()) + "x", // 时间戳后缀非数字
	}
	for _, raw := range cases {
		_, err := Parse(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestExpired_Boundaries(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	donorID := uuid.New().String()
	requestID := uuid.New().String()

	// 5小时前签发 → 过期
	old := Mint(donorID, requestID, now.Add(-5*time.Hour))
	_, err := Validate(old, now, DefaultTTL)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expired")

	// 1小时前签发 → 有效
	fresh := Mint(donorID, requestID, now.Add(-1*time.Hour))
	tok, err := Validate(fresh, now, DefaultTTL)
	require.NoError(t, err)
	assert.Equal(t, donorID, tok.DonorID)

	// 恰好4小时 → 过期（边界取拒绝侧）
	exact := Mint(donorID, requestID, now.Add(-4*time.Hour))
	_, err = Validate(exact, now, DefaultTTL)
	assert.Error(t, err)

	// 差1毫秒不到4小时 → 有效
	almost := Mint(donorID, requestID, now.Add(-4*time.Hour+time.Millisecond))
	_, err = Validate(almost, now, DefaultTTL)
	assert.NoError(t, err)
}
