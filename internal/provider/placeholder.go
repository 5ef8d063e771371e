package provider

import (
	"context"
	"fmt"
	"log/slog"

	"clanker/internal/domain"
)

// Placeholder implements domain.Agent without calling anything. It stands in
// when no real provider is configured and keeps the gateway exercisable end
// to end without credentials.
type Placeholder struct {
	model  string
	logger *slog.Logger
}

func NewPlaceholder(model string, logger *slog.Logger) *Placeholder {
	if model == "" {
		model = "placeholder-1"
	}
	return &Placeholder{model: model, logger: logger}
}

func (p *Placeholder) Provider() string                 { return "placeholder" }
func (p *Placeholder) Model() string                    { return p.model }
func (p *Placeholder) Healthy(ctx context.Context) bool { return true }

func (p *Placeholder) Chat(ctx context.Context, turns []domain.Turn) (*domain.Reply, error) {
	var last string
	for _, t := range turns {
		if t.Role == domain.RoleUser {
			last = t.Content
		}
	}
	content := fmt.Sprintf("I received your message: %q. Configure a real provider to get actual completions.", last)
	return &domain.Reply{
		Content:      content,
		FinishReason: "stop",
		Usage:        domain.Usage{},
		Model:        p.model,
		Provider:     "placeholder",
	}, nil
}
