package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clanker/internal/domain"
)

const (
	anthropicAPIURL       = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-5-20250514"
	defaultMaxTokens      = 4096
	defaultHTTPTimeout    = 120 * time.Second
)

// Anthropic implements domain.Agent against the Anthropic Messages API.
type Anthropic struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
	logger    *slog.Logger
}

type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Logger    *slog.Logger
}

// NewAnthropic creates a new Anthropic agent client.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicAPIURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Anthropic{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		baseURL:   cfg.BaseURL,
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:    cfg.Logger,
	}
}

func (a *Anthropic) Provider() string { return "anthropic" }
func (a *Anthropic) Model() string    { return a.model }

func (a *Anthropic) Healthy(ctx context.Context) bool {
	return a.apiKey != ""
}

type anthropicRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []anthropicMsg `json:"messages"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Anthropic) Chat(ctx context.Context, turns []domain.Turn) (*domain.Reply, error) {
	// The Messages API takes the system prompt as a top-level field,
	// not as a conversation turn.
	var systemPrompt string
	var msgs []anthropicMsg
	for _, t := range turns {
		if t.Role == domain.RoleSystem {
			systemPrompt = t.Content
			continue
		}
		msgs = append(msgs, anthropicMsg{Role: t.Role, Content: t.Content})
	}

	body := anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    systemPrompt,
		Messages:  msgs,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport("anthropic", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus("anthropic", resp.StatusCode, string(respBody),
			parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, domain.NewAgentError(domain.AgentInvalidResponse, "anthropic",
			fmt.Errorf("decode: %w", err))
	}

	var textParts []string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	content := strings.Join(textParts, "")
	if content == "" {
		return nil, domain.NewAgentError(domain.AgentInvalidResponse, "anthropic",
			fmt.Errorf("response carried no text content"))
	}

	finishReason := apiResp.StopReason
	if finishReason == "" {
		finishReason = "stop"
	}

	return &domain.Reply{
		Content:      content,
		FinishReason: finishReason,
		Usage: domain.Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Model:    a.model,
		Provider: "anthropic",
	}, nil
}
