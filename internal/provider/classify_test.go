package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"clanker/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  domain.AgentErrorKind
		retryable bool
	}{
		{401, domain.AgentAuth, false},
		{403, domain.AgentAuth, false},
		{429, domain.AgentRateLimited, true},
		{500, domain.AgentProvider, true},
		{502, domain.AgentProvider, true},
		{529, domain.AgentProvider, true},
		{400, domain.AgentInvalidResponse, false},
		{404, domain.AgentInvalidResponse, false},
	}
	for _, tt := range tests {
		ae := classifyStatus("anthropic", tt.status, "body", 0)
		assert.Equal(t, tt.wantKind, ae.Kind, "status %d", tt.status)
		assert.Equal(t, tt.retryable, ae.Retryable(), "status %d", tt.status)
		assert.Equal(t, "anthropic", ae.Provider)
	}
}

func TestClassifyStatusCarriesRetryAfter(t *testing.T) {
	ae := classifyStatus("groq", 429, "slow down", 7*time.Second)
	assert.Equal(t, domain.AgentRateLimited, ae.Kind)
	assert.Equal(t, 7*time.Second, ae.RetryAfter)
}

func TestClassifyTransport(t *testing.T) {
	ae, ok := domain.AsAgentError(classifyTransport("openai", errors.New("dial tcp: refused")))
	require.True(t, ok)
	assert.Equal(t, domain.AgentNetwork, ae.Kind)
	assert.True(t, ae.Retryable())
}

func TestClassifyTransportPassesCancellation(t *testing.T) {
	// Shutdown cancellation must stay distinguishable from network trouble.
	err := classifyTransport("openai", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := domain.AsAgentError(err)
	assert.False(t, ok)
}

func TestClassifyTransportDeadlineIsNetwork(t *testing.T) {
	// A timed-out call is a retryable network failure, not an abort.
	ae, ok := domain.AsAgentError(classifyTransport("openai", context.DeadlineExceeded))
	require.True(t, ok)
	assert.Equal(t, domain.AgentNetwork, ae.Kind)
	assert.True(t, ae.Retryable())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
	assert.Equal(t, 12*time.Second, parseRetryAfter("12"))
}
