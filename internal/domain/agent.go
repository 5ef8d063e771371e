package domain

import "context"

// Turn roles accepted by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry in the conversation sent to a provider.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is a completed provider response.
type Reply struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
}

// Agent is a completion provider client. Implementations classify every
// failure into an *AgentError before returning it.
type Agent interface {
	// Chat sends the conversation and returns the completion.
	Chat(ctx context.Context, turns []Turn) (*Reply, error)

	// Provider returns the provider name ("anthropic", "openai", ...).
	Provider() string

	// Model returns the configured model name.
	Model() string

	// Healthy reports whether the client is usable (credentials present,
	// upstream reachable).
	Healthy(ctx context.Context) bool
}
