package provider

import (
	"context"
	"testing"

	"clanker/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupported(t *testing.T) {
	for _, name := range Supported() {
		assert.True(t, IsSupported(name), name)
	}
	assert.False(t, IsSupported("llama-at-home"))
	assert.False(t, IsSupported(""))
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"anthropic", "anthropic"},
		{"openai", "openai"},
		{"groq", "groq"},
		{"grok", "grok"},
		{"zai", "zai"},
		{"something-else", "placeholder"},
		{"", "placeholder"},
	}
	for _, tt := range tests {
		agent := New(Settings{Provider: tt.provider, APIKey: "k"}, discard())
		assert.Equal(t, tt.want, agent.Provider(), "provider %q", tt.provider)
	}
}

func TestPlaceholderEchoesLastUserTurn(t *testing.T) {
	p := NewPlaceholder("", discard())
	reply, err := p.Chat(context.Background(), []domain.Turn{
		{Role: domain.RoleSystem, Content: "be helpful"},
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: "ok"},
		{Role: domain.RoleUser, Content: "second"},
	})
	require.NoError(t, err)

	assert.Contains(t, reply.Content, "second")
	assert.NotContains(t, reply.Content, "first")
	assert.Equal(t, "stop", reply.FinishReason)
	assert.Equal(t, "placeholder-1", reply.Model)
	assert.True(t, p.Healthy(context.Background()))
}
