package reasoning

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, enabled bool) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.ReasoningConfig{
		Enabled:    enabled,
		BaseURL:    server.URL,
		Model:      "decision-v1",
		TimeoutSec: 2,
	}
	return NewClient(cfg, zap.NewNop()), server
}

func TestDecide_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/decisions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"decision":{"urgency":"high","priority_score":72},"reasoning":"low stock of rare type","confidence":0.9}`))
	}, true)

	outcome, err := client.Decide(context.Background(), Query{
		AgentType: models.AgentHospital,
		EventType: models.EventShortageRequest,
		RequestID: "req-1",
		Prompt:    "classify urgency",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, outcome.Confidence)

	var decision models.UrgencyDecision
	require.NoError(t, DecodeDecision(outcome, &decision))
	assert.Equal(t, "high", decision.Urgency)
	assert.Equal(t, 72.0, decision.PriorityScore)
}

func TestDecide_Disabled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not be called when disabled")
	}, false)

	_, err := client.Decide(context.Background(), Query{})
	require.Error(t, err)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "disabled", rerr.Stage)
}

func TestDecide_Non200(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, true)

	_, err := client.Decide(context.Background(), Query{RequestID: "req-1"})
	require.Error(t, err)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "status", rerr.Stage)
}

func TestDecide_EmptyDecision(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reasoning":"no decision field","confidence":0.5}`))
	}, true)

	_, err := client.Decide(context.Background(), Query{})
	require.Error(t, err)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "decode", rerr.Stage)
}

func TestDecodeDecision_Malformed(t *testing.T) {
	outcome := &Outcome{Decision: []byte(`{"urgency":`)}

	var decision models.UrgencyDecision
	err := DecodeDecision(outcome, &decision)
	require.Error(t, err)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "decode", rerr.Stage)
}
