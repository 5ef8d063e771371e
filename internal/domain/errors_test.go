package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentErrorRetryable(t *testing.T) {
	tests := []struct {
		kind      AgentErrorKind
		retryable bool
	}{
		{AgentAuth, false},
		{AgentRateLimited, true},
		{AgentProvider, true},
		{AgentNetwork, true},
		{AgentInvalidResponse, false},
	}
	for _, tt := range tests {
		err := NewAgentError(tt.kind, "anthropic", errors.New("boom"))
		assert.Equal(t, tt.retryable, err.Retryable(), "kind %s", tt.kind)
	}
}

func TestAgentErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := fmt.Errorf("chat: %w", NewAgentError(AgentNetwork, "openai", cause))

	ae, ok := AsAgentError(wrapped)
	require.True(t, ok)
	assert.Equal(t, AgentNetwork, ae.Kind)
	assert.Equal(t, "openai", ae.Provider)
	assert.ErrorIs(t, wrapped, cause)
}

func TestAgentErrorRetryAfter(t *testing.T) {
	err := &AgentError{
		Kind:       AgentRateLimited,
		Provider:   "groq",
		RetryAfter: 5 * time.Second,
		Err:        errors.New("429"),
	}
	assert.True(t, err.Retryable())
	assert.Equal(t, 5*time.Second, err.RetryAfter)
	assert.Contains(t, err.Error(), "rate_limited")
}

func TestChannelErrorTransient(t *testing.T) {
	transient := NewChannelError(ChannelTransient, KindTelegram, errors.New("timeout"))
	permanent := NewChannelError(ChannelPermanent, KindDiscord, errors.New("bad token"))

	assert.True(t, transient.Transient())
	assert.False(t, permanent.Transient())
	assert.Contains(t, transient.Error(), "transient")
	assert.Contains(t, permanent.Error(), "permanent")
}

func TestAsChannelError(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	wrapped := fmt.Errorf("listen: %w", NewChannelError(ChannelTransient, KindTelegram, inner))

	ce, ok := AsChannelError(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindTelegram, ce.Channel)
	assert.True(t, ce.Transient())

	_, ok = AsChannelError(errors.New("plain"))
	assert.False(t, ok)
}
