package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clanker/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompatibleChatTimesOut(t *testing.T) {
	// A hung provider must not hang the caller with it.
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-stall
	}))
	defer srv.Close()
	defer close(stall)

	c := NewOpenAI(OpenAIConfig{
		APIKey:      "k",
		BaseURL:     srv.URL,
		HTTPTimeout: 50 * time.Millisecond,
		Logger:      discard(),
	})

	start := time.Now()
	_, err := c.Chat(context.Background(), turns())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second, "call must abort at the client timeout")

	ae, ok := domain.AsAgentError(err)
	require.True(t, ok, "timeout must classify into the agent taxonomy, got %v", err)
	assert.Equal(t, domain.AgentNetwork, ae.Kind)
	assert.True(t, ae.Retryable())
}

func TestCompatibleDefaults(t *testing.T) {
	tests := []struct {
		agent *OpenAICompatible
		name  string
		model string
	}{
		{NewOpenAI(OpenAIConfig{APIKey: "k", Logger: discard()}), "openai", openaiDefaultModel},
		{NewGroq(OpenAIConfig{APIKey: "k", Logger: discard()}), "groq", groqDefaultModel},
		{NewGrok(OpenAIConfig{APIKey: "k", Logger: discard()}), "grok", grokDefaultModel},
		{NewZai(OpenAIConfig{APIKey: "k", Logger: discard()}), "zai", zaiDefaultModel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.agent.Provider())
		assert.Equal(t, tt.model, tt.agent.Model())
		assert.True(t, tt.agent.Healthy(context.Background()))
	}

	noKey := NewZai(OpenAIConfig{Logger: discard()})
	assert.False(t, noKey.Healthy(context.Background()))
}
