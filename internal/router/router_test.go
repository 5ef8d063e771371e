package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"clanker/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource feeds a fixed set of messages and then closes, mimicking the
// inbound queue during shutdown drain.
type fakeSource struct {
	ch chan domain.Message
}

func newFakeSource(msgs ...domain.Message) *fakeSource {
	ch := make(chan domain.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeSource{ch: ch}
}

func (s *fakeSource) Subscribe() <-chan domain.Message { return s.ch }

// recordingHub captures every published message.
type recordingHub struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (h *recordingHub) Publish(msg domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *recordingHub) all() []domain.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Message(nil), h.msgs...)
}

// scriptedAgent returns the scripted errors in order, then succeeds.
type scriptedAgent struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	content string
}

func (a *scriptedAgent) Chat(ctx context.Context, turns []domain.Turn) (*domain.Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.Reply{
		Content:      a.content,
		FinishReason: "stop",
		Provider:     "fake",
		Model:        "fake-1",
	}, nil
}

func (a *scriptedAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *scriptedAgent) Provider() string                 { return "fake" }
func (a *scriptedAgent) Model() string                    { return "fake-1" }
func (a *scriptedAgent) Healthy(ctx context.Context) bool { return true }

// recordingChannel captures every Send.
type recordingChannel struct {
	kind domain.ChannelKind
	mu   sync.Mutex
	sent []domain.Message
}

func (c *recordingChannel) Kind() domain.ChannelKind { return c.kind }
func (c *recordingChannel) Healthy() bool            { return true }
func (c *recordingChannel) Listen(ctx context.Context, sink domain.Publisher) error {
	<-ctx.Done()
	return nil
}
func (c *recordingChannel) Send(ctx context.Context, msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}
func (c *recordingChannel) all() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message(nil), c.sent...)
}

func runRouter(t *testing.T, cfg Config) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	r := New(cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("router did not finish draining")
	}
}

func TestReplyTargetsOriginChannel(t *testing.T) {
	msg := domain.NewMessage(domain.KindTelegram, "12345", "alice", "hello")
	agent := &scriptedAgent{content: "hi alice"}
	tg := &recordingChannel{kind: domain.KindTelegram}
	other := &recordingChannel{kind: domain.KindDiscord}
	h := &recordingHub{}

	runRouter(t, Config{
		Source:   newFakeSource(msg),
		Hub:      h,
		Agent:    agent,
		Channels: []domain.Channel{tg, other},
	})

	sent := tg.all()
	if len(sent) != 1 {
		t.Fatalf("expected 1 telegram send, got %d", len(sent))
	}
	reply := sent[0]
	if reply.Channel != domain.KindTelegram || reply.ChannelID != "12345" {
		t.Errorf("reply misrouted: channel=%s channel_id=%s", reply.Channel, reply.ChannelID)
	}
	if reply.Sender != domain.AssistantSender {
		t.Errorf("expected assistant sender, got %q", reply.Sender)
	}
	if reply.Text != "hi alice" {
		t.Errorf("unexpected reply text: %q", reply.Text)
	}
	if reply.ID == msg.ID {
		t.Error("reply must carry a fresh message ID")
	}
	if len(other.all()) != 0 {
		t.Errorf("discord channel received %d sends, expected none", len(other.all()))
	}
}

func TestAuthErrorNotRetried(t *testing.T) {
	msg := domain.NewMessage(domain.KindTelegram, "1", "u", "hi")
	agent := &scriptedAgent{errs: []error{
		domain.NewAgentError(domain.AgentAuth, "fake", fmt.Errorf("bad key")),
	}}
	tg := &recordingChannel{kind: domain.KindTelegram}

	runRouter(t, Config{
		Source:   newFakeSource(msg),
		Hub:      &recordingHub{},
		Agent:    agent,
		Channels: []domain.Channel{tg},
	})

	if got := agent.callCount(); got != 1 {
		t.Fatalf("auth error must not be retried: expected 1 call, got %d", got)
	}
	sent := tg.all()
	if len(sent) != 1 || sent[0].Text != apologyText {
		t.Fatalf("expected apology reply, got %+v", sent)
	}
}

func TestInvalidResponseNotRetried(t *testing.T) {
	msg := domain.NewMessage(domain.KindDiscord, "c1", "u", "hi")
	agent := &scriptedAgent{errs: []error{
		domain.NewAgentError(domain.AgentInvalidResponse, "fake", fmt.Errorf("garbage body")),
	}}
	dc := &recordingChannel{kind: domain.KindDiscord}

	runRouter(t, Config{
		Source:   newFakeSource(msg),
		Hub:      &recordingHub{},
		Agent:    agent,
		Channels: []domain.Channel{dc},
	})

	if got := agent.callCount(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestNetworkErrorsRetriedUntilSuccess(t *testing.T) {
	msg := domain.NewMessage(domain.KindTelegram, "1", "u", "hi")
	agent := &scriptedAgent{
		content: "finally",
		errs: []error{
			domain.NewAgentError(domain.AgentNetwork, "fake", fmt.Errorf("conn refused")),
			domain.NewAgentError(domain.AgentNetwork, "fake", fmt.Errorf("conn refused")),
		},
	}
	tg := &recordingChannel{kind: domain.KindTelegram}

	runRouter(t, Config{
		Source:      newFakeSource(msg),
		Hub:         &recordingHub{},
		Agent:       agent,
		Channels:    []domain.Channel{tg},
		MaxAttempts: 3,
	})

	if got := agent.callCount(); got != 3 {
		t.Fatalf("expected 3 calls (2 failures + success), got %d", got)
	}
	sent := tg.all()
	if len(sent) != 1 || sent[0].Text != "finally" {
		t.Fatalf("expected real reply after retries, got %+v", sent)
	}
}

func TestBudgetExhaustedSendsApology(t *testing.T) {
	msg := domain.NewMessage(domain.KindTelegram, "1", "u", "hi")
	agent := &scriptedAgent{errs: []error{
		domain.NewAgentError(domain.AgentProvider, "fake", fmt.Errorf("500")),
		domain.NewAgentError(domain.AgentProvider, "fake", fmt.Errorf("500")),
		domain.NewAgentError(domain.AgentProvider, "fake", fmt.Errorf("500")),
	}}
	tg := &recordingChannel{kind: domain.KindTelegram}

	runRouter(t, Config{
		Source:      newFakeSource(msg),
		Hub:         &recordingHub{},
		Agent:       agent,
		Channels:    []domain.Channel{tg},
		MaxAttempts: 3,
	})

	if got := agent.callCount(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	sent := tg.all()
	if len(sent) != 1 || sent[0].Text != apologyText {
		t.Fatalf("expected apology after exhausted budget, got %+v", sent)
	}
}

func TestNoAdapterStillPublishesReply(t *testing.T) {
	// WebSocket messages have no adapter; the hub publication is the
	// delivery path.
	msg := domain.NewMessage(domain.KindWebSocket, "conn-1", "client", "hello")
	agent := &scriptedAgent{content: "hi there"}
	h := &recordingHub{}

	runRouter(t, Config{
		Source: newFakeSource(msg),
		Hub:    h,
		Agent:  agent,
	})

	published := h.all()
	if len(published) != 2 {
		t.Fatalf("expected inbound + reply on hub, got %d messages", len(published))
	}
	reply := published[1]
	if reply.Channel != domain.KindWebSocket || reply.ChannelID != "conn-1" {
		t.Errorf("reply misrouted: channel=%s channel_id=%s", reply.Channel, reply.ChannelID)
	}
	if reply.Text != "hi there" {
		t.Errorf("unexpected reply text: %q", reply.Text)
	}
}

func TestEmptyTextSkipsAgent(t *testing.T) {
	msg := domain.NewMessage(domain.KindTelegram, "1", "u", "   ")
	agent := &scriptedAgent{content: "unused"}
	tg := &recordingChannel{kind: domain.KindTelegram}

	runRouter(t, Config{
		Source:   newFakeSource(msg),
		Hub:      &recordingHub{},
		Agent:    agent,
		Channels: []domain.Channel{tg},
	})

	if got := agent.callCount(); got != 0 {
		t.Fatalf("empty message must not reach the agent, got %d calls", got)
	}
	if len(tg.all()) != 0 {
		t.Fatal("empty message must not produce a reply")
	}
}

func TestDrainProcessesQueuedMessagesAfterClose(t *testing.T) {
	msgs := make([]domain.Message, 5)
	for i := range msgs {
		msgs[i] = domain.NewMessage(domain.KindTelegram, "1", "u", fmt.Sprintf("msg %d", i))
	}
	agent := &scriptedAgent{content: "ok"}
	tg := &recordingChannel{kind: domain.KindTelegram}

	// The source is already closed: everything it buffered must still be
	// processed before Run returns.
	runRouter(t, Config{
		Source:   newFakeSource(msgs...),
		Hub:      &recordingHub{},
		Agent:    agent,
		Channels: []domain.Channel{tg},
	})

	if got := len(tg.all()); got != 5 {
		t.Fatalf("expected all 5 queued messages drained, got %d replies", got)
	}
}

func TestConversationOrderPreserved(t *testing.T) {
	msgs := []domain.Message{
		domain.NewMessage(domain.KindTelegram, "chat-A", "u", "first"),
		domain.NewMessage(domain.KindTelegram, "chat-A", "u", "second"),
		domain.NewMessage(domain.KindTelegram, "chat-A", "u", "third"),
	}
	agent := &scriptedAgent{content: "ok"}
	h := &recordingHub{}

	runRouter(t, Config{
		Source:  newFakeSource(msgs...),
		Hub:     h,
		Agent:   agent,
		Workers: 4,
	})

	// Same ChannelID lands on the same worker, so inbound hub publications
	// for the conversation must appear in arrival order.
	var inbound []string
	for _, m := range h.all() {
		if m.Sender == "u" {
			inbound = append(inbound, m.Text)
		}
	}
	want := []string{"first", "second", "third"}
	if len(inbound) != len(want) {
		t.Fatalf("expected %d inbound publications, got %d", len(want), len(inbound))
	}
	for i := range want {
		if inbound[i] != want[i] {
			t.Fatalf("conversation order broken: got %v", inbound)
		}
	}
}

func TestSystemPromptPerChannel(t *testing.T) {
	tests := []struct {
		kind domain.ChannelKind
		want string
	}{
		{domain.KindTelegram, "Telegram"},
		{domain.KindDiscord, "Discord"},
		{domain.KindWebSocket, defaultSystemPrompt},
	}
	for _, tt := range tests {
		got := systemPrompt(tt.kind)
		if tt.kind == domain.KindWebSocket {
			if got != tt.want {
				t.Errorf("%s: expected default prompt, got %q", tt.kind, got)
			}
			continue
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("%s: prompt %q does not mention %s", tt.kind, got, tt.want)
		}
	}
}
