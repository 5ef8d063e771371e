// Package router implements the consume/complete/reply loop between the
// inbound queue, the agent client, and the channel adapters.
package router

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"clanker/internal/domain"
	"clanker/internal/metrics"
)

const (
	defaultWorkers       = 4
	defaultMaxAttempts   = 3
	defaultBackoffBase   = time.Second
	defaultHistoryWindow = 20
	maxBackoff           = 30 * time.Second
)

// apologyText is the reply sent when the agent cannot produce a completion.
// The user always gets an answer, even a disappointing one.
const apologyText = "Sorry, I'm having trouble responding right now. Please try again later."

// Source is the read side of the inbound queue.
type Source interface {
	Subscribe() <-chan domain.Message
}

// Broadcaster receives every inbound message and every reply for fan-out.
type Broadcaster interface {
	Publish(msg domain.Message)
}

// Router consumes inbound messages, obtains completions, and routes replies
// back to the channel each message came from.
type Router struct {
	source   Source
	hub      Broadcaster
	agent    domain.Agent
	channels map[domain.ChannelKind]domain.Channel
	history  domain.HistoryStore
	logger   *slog.Logger

	workers       int
	maxAttempts   int
	backoffBase   time.Duration
	historyWindow int
}

// Config holds all dependencies and tuning parameters for the router.
type Config struct {
	Source   Source
	Hub      Broadcaster
	Agent    domain.Agent
	Channels []domain.Channel
	History  domain.HistoryStore // nil disables conversation history
	Logger   *slog.Logger

	Workers       int           // parallel workers, messages partitioned by conversation (default 4)
	MaxAttempts   int           // agent call budget per message (default 3)
	BackoffBase   time.Duration // base unit for retry backoff (default 1s)
	HistoryWindow int           // stored messages handed to the agent (default 20)
}

// New creates a Router.
func New(cfg Config) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}

	channels := make(map[domain.ChannelKind]domain.Channel, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels[ch.Kind()] = ch
	}

	return &Router{
		source:        cfg.Source,
		hub:           cfg.Hub,
		agent:         cfg.Agent,
		channels:      channels,
		history:       cfg.History,
		logger:        cfg.Logger,
		workers:       cfg.Workers,
		maxAttempts:   cfg.MaxAttempts,
		backoffBase:   cfg.BackoffBase,
		historyWindow: cfg.HistoryWindow,
	}
}

// Run consumes the inbound queue until it is closed, then drains whatever is
// still buffered and returns. Messages are partitioned across workers by
// conversation, so each conversation is processed in arrival order with at
// most one completion in flight.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("router started", "workers", r.workers, "provider", r.agent.Provider())

	queues := make([]chan domain.Message, r.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan domain.Message, 32)
		wg.Add(1)
		go func(q <-chan domain.Message) {
			defer wg.Done()
			for msg := range q {
				r.process(ctx, msg)
			}
		}(queues[i])
	}

	for msg := range r.source.Subscribe() {
		queues[r.partition(msg.ChannelID)] <- msg
	}

	// Inbound queue closed: let the workers drain their partitions.
	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	r.logger.Info("router stopped")
}

func (r *Router) partition(channelID string) int {
	h := fnv.New32a()
	h.Write([]byte(channelID))
	return int(h.Sum32() % uint32(r.workers))
}

// process runs one message through the full pipeline. It never returns an
// error: every failure path still produces a reply for the user.
func (r *Router) process(ctx context.Context, msg domain.Message) {
	metrics.MessagesTotal.Inc()
	r.hub.Publish(msg)

	if strings.TrimSpace(msg.Text) == "" {
		r.logger.Debug("dropping empty message", "id", msg.ID, "channel", msg.Channel)
		return
	}

	r.logger.Info("processing message",
		"id", msg.ID,
		"channel", msg.Channel,
		"sender", msg.Sender,
		"text_len", len(msg.Text),
	)

	turns := r.buildTurns(ctx, msg)
	r.saveHistory(ctx, msg)

	var text string
	reply, err := r.complete(ctx, turns)
	if err != nil {
		metrics.AgentFailures.Inc()
		r.logger.Error("completion failed, sending fallback reply", "id", msg.ID, "error", err)
		text = apologyText
	} else {
		text = reply.Content
		metrics.TokensTotal.Add(int64(reply.Usage.TotalTokens))
		r.logger.Info("completion finished",
			"id", msg.ID,
			"provider", reply.Provider,
			"finish_reason", reply.FinishReason,
			"total_tokens", reply.Usage.TotalTokens,
		)
	}

	out := msg.Reply(text)
	r.saveHistory(ctx, out)
	metrics.RepliesTotal.Inc()
	r.hub.Publish(out)
	r.deliver(ctx, out)
}

// complete calls the agent with the retry budget. Auth and invalid-response
// failures abort immediately; everything else backs off and retries until
// the budget runs out.
func (r *Router) complete(ctx context.Context, turns []domain.Turn) (*domain.Reply, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.AgentRetriesTotal.Inc()
			backoff := r.backoff(attempt, lastErr)
			r.logger.Warn("retrying completion", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		reply, err := r.agent.Chat(ctx, turns)
		metrics.AgentLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			return reply, nil
		}
		lastErr = err

		ae, ok := domain.AsAgentError(err)
		if !ok || !ae.Retryable() {
			return nil, err
		}
	}

	return nil, lastErr
}

// backoff computes the wait before retry attempt. Exponential with jitter,
// raised to an upstream Retry-After hint when one was given, capped overall.
func (r *Router) backoff(attempt int, lastErr error) time.Duration {
	base := time.Duration(attempt*attempt) * r.backoffBase
	jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
	backoff := base + jitter

	if ae, ok := domain.AsAgentError(lastErr); ok && ae.RetryAfter > backoff {
		backoff = ae.RetryAfter
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// buildTurns assembles the conversation for the agent: channel system
// prompt, recent stored history, then the new user text.
func (r *Router) buildTurns(ctx context.Context, msg domain.Message) []domain.Turn {
	turns := []domain.Turn{{Role: domain.RoleSystem, Content: systemPrompt(msg.Channel)}}

	if r.history != nil && r.historyWindow > 0 {
		stored, err := r.history.Recent(ctx, msg.ConversationKey(), r.historyWindow)
		if err != nil {
			r.logger.Warn("failed to load history, continuing without it", "error", err)
		}
		for _, m := range stored {
			role := domain.RoleUser
			if m.Sender == domain.AssistantSender {
				role = domain.RoleAssistant
			}
			turns = append(turns, domain.Turn{Role: role, Content: m.Text})
		}
	}

	return append(turns, domain.Turn{Role: domain.RoleUser, Content: msg.Text})
}

func (r *Router) saveHistory(ctx context.Context, msg domain.Message) {
	if r.history == nil {
		return
	}
	if err := r.history.SaveMessage(ctx, msg); err != nil {
		r.logger.Warn("failed to save message", "id", msg.ID, "error", err)
	}
}

// deliver hands the reply to the adapter serving its channel. Kinds without
// an adapter (websocket) are already served by the hub publication.
func (r *Router) deliver(ctx context.Context, out domain.Message) {
	ch, ok := r.channels[out.Channel]
	if !ok {
		r.logger.Debug("no adapter for channel, hub delivery only", "channel", out.Channel)
		return
	}
	if err := ch.Send(ctx, out); err != nil {
		if ce, ok := domain.AsChannelError(err); ok && ce.Transient() {
			r.logger.Warn("transient send failure", "channel", out.Channel, "error", err)
			return
		}
		r.logger.Error("send failed", "channel", out.Channel, "error", err)
	}
}
