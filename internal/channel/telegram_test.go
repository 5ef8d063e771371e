package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"clanker/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// fakeBotSender scripts the outcome of every outbound API call.
type fakeBotSender struct {
	err   error
	calls int
}

func (f *fakeBotSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	return tgbotapi.Message{}, nil
}

func newTestTelegram(allowFrom []string) *Telegram {
	return NewTelegram(TelegramConfig{
		Token:     "test-token",
		AllowFrom: allowFrom,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestTelegramAllowFromParsing(t *testing.T) {
	tg := newTestTelegram([]string{"123", " 456 ", "not-a-number"})

	if !tg.isAllowed(123) || !tg.isAllowed(456) {
		t.Error("listed user IDs must be allowed")
	}
	if tg.isAllowed(789) {
		t.Error("unlisted user must be rejected")
	}
}

func TestTelegramEmptyAllowListAllowsEveryone(t *testing.T) {
	tg := newTestTelegram(nil)
	if !tg.isAllowed(42) {
		t.Error("empty allow list must allow all users")
	}
}

func TestTelegramSendWhenDisconnected(t *testing.T) {
	tg := newTestTelegram(nil)
	msg := domain.NewMessage(domain.KindTelegram, "12345", "u", "hi")

	err := tg.Send(context.Background(), msg)
	ce, ok := domain.AsChannelError(err)
	if !ok {
		t.Fatalf("expected channel error, got %v", err)
	}
	if !ce.Transient() {
		t.Error("disconnected send must be transient")
	}
}

func TestTelegramSendRejectsBadChatID(t *testing.T) {
	tg := newTestTelegram(nil)
	tg.connected.Store(true)
	msg := domain.NewMessage(domain.KindTelegram, "not-a-chat-id", "u", "hi")

	err := tg.Send(context.Background(), msg)
	ce, ok := domain.AsChannelError(err)
	if !ok {
		t.Fatalf("expected channel error, got %v", err)
	}
	if ce.Transient() {
		t.Error("malformed chat ID must be a permanent failure")
	}
}

func TestTelegramSendPropagatesChunkFailure(t *testing.T) {
	tg := newTestTelegram(nil)
	tg.connected.Store(true)
	tg.retryDelay = time.Millisecond
	sender := &fakeBotSender{err: errors.New("chat not found")}
	tg.api = sender

	err := tg.Send(context.Background(), domain.NewMessage(domain.KindTelegram, "12345", "u", "hi"))
	ce, ok := domain.AsChannelError(err)
	if !ok {
		t.Fatalf("failed sends must surface a channel error, got %v", err)
	}
	if !ce.Transient() {
		t.Error("send failure must be transient")
	}
	if sender.calls != telegramMaxSendRetries+1 {
		t.Errorf("expected %d attempts, got %d", telegramMaxSendRetries+1, sender.calls)
	}
}

func TestTelegramSendSucceeds(t *testing.T) {
	tg := newTestTelegram(nil)
	tg.connected.Store(true)
	sender := &fakeBotSender{}
	tg.api = sender

	if err := tg.Send(context.Background(), domain.NewMessage(domain.KindTelegram, "12345", "u", "hi")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sender.calls != 1 {
		t.Errorf("expected 1 API call, got %d", sender.calls)
	}
}

func TestTelegramKind(t *testing.T) {
	if newTestTelegram(nil).Kind() != domain.KindTelegram {
		t.Error("wrong kind")
	}
	d := NewDiscord(DiscordConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if d.Kind() != domain.KindDiscord {
		t.Error("wrong kind")
	}
}
