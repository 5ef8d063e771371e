package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"clanker/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

// Base URLs for the OpenAI-compatible providers.
const (
	groqBaseURL = "https://api.groq.com/openai/v1"
	grokBaseURL = "https://api.x.ai/v1"
	zaiBaseURL  = "https://api.z.ai/api/paas/v4"
)

// Default models per provider.
const (
	openaiDefaultModel = "gpt-4o"
	groqDefaultModel   = "llama-3.3-70b-versatile"
	grokDefaultModel   = "grok-2-latest"
	zaiDefaultModel    = "glm-4.7"
)

// OpenAICompatible implements domain.Agent for every provider speaking the
// OpenAI chat/completions dialect: OpenAI itself, Groq, Grok (xAI), and
// Z.ai.
type OpenAICompatible struct {
	name      string
	model     string
	maxTokens int
	client    *openai.Client
	hasKey    bool
	logger    *slog.Logger
}

type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	HTTPTimeout time.Duration
	Logger      *slog.Logger
}

// NewOpenAI creates a client for api.openai.com.
func NewOpenAI(cfg OpenAIConfig) *OpenAICompatible {
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	return newCompatible("openai", cfg)
}

// NewGroq creates a client for Groq's OpenAI-compatible endpoint.
func NewGroq(cfg OpenAIConfig) *OpenAICompatible {
	if cfg.Model == "" {
		cfg.Model = groqDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = groqBaseURL
	}
	return newCompatible("groq", cfg)
}

// NewGrok creates a client for xAI's OpenAI-compatible endpoint.
func NewGrok(cfg OpenAIConfig) *OpenAICompatible {
	if cfg.Model == "" {
		cfg.Model = grokDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = grokBaseURL
	}
	return newCompatible("grok", cfg)
}

// NewZai creates a client for Z.ai's OpenAI-compatible endpoint (GLM models).
func NewZai(cfg OpenAIConfig) *OpenAICompatible {
	if cfg.Model == "" {
		cfg.Model = zaiDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = zaiBaseURL
	}
	return newCompatible("zai", cfg)
}

func newCompatible(name string, cfg OpenAIConfig) *OpenAICompatible {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	// Every completion call gets a bounded timeout; a hung provider must not
	// pin a router worker. Hitting it classifies as a network failure.
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	return &OpenAICompatible{
		name:      name,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    openai.NewClientWithConfig(clientCfg),
		hasKey:    cfg.APIKey != "",
		logger:    cfg.Logger,
	}
}

func (o *OpenAICompatible) Provider() string { return o.name }
func (o *OpenAICompatible) Model() string    { return o.model }

func (o *OpenAICompatible) Healthy(ctx context.Context) bool {
	return o.hasKey
}

func (o *OpenAICompatible) Chat(ctx context.Context, turns []domain.Turn) (*domain.Reply, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  msgs,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return nil, o.classify(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, domain.NewAgentError(domain.AgentInvalidResponse, o.name,
			fmt.Errorf("response carried no choices"))
	}

	choice := resp.Choices[0]
	finishReason := string(choice.FinishReason)
	if finishReason == "" {
		finishReason = "stop"
	}

	return &domain.Reply{
		Content:      choice.Message.Content,
		FinishReason: finishReason,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model:    o.model,
		Provider: o.name,
	}, nil
}

// classify maps go-openai errors onto the agent error taxonomy.
func (o *OpenAICompatible) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(o.name, apiErr.HTTPStatusCode, apiErr.Message, 0)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(o.name, reqErr.HTTPStatusCode, reqErr.Error(), 0)
	}
	return classifyTransport(o.name, err)
}
