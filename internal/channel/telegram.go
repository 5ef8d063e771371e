// Package channel contains the transport adapters that normalize external
// chat services into canonical messages.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"clanker/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30
)

// botSender is the slice of the Telegram API used for outbound sends.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Channel for the Telegram Bot API.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	parseMode string

	bot        *tgbotapi.BotAPI
	api        botSender
	retryDelay time.Duration
	connected  atomic.Bool
	logger     *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	return &Telegram{
		token:      cfg.Token,
		allowFrom:  allowed,
		parseMode:  cfg.ParseMode,
		retryDelay: time.Second,
		logger:     cfg.Logger,
	}
}

func (t *Telegram) Kind() domain.ChannelKind { return domain.KindTelegram }

func (t *Telegram) Healthy() bool { return t.connected.Load() }

// Listen connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Listen(ctx context.Context, sink domain.Publisher) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return domain.NewChannelError(domain.ChannelPermanent, domain.KindTelegram,
			fmt.Errorf("bot init: %w", err))
	}
	t.bot = bot
	t.api = bot
	t.connected.Store(true)
	defer t.connected.Store(false)

	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return domain.NewChannelError(domain.ChannelTransient, domain.KindTelegram,
					fmt.Errorf("update stream closed"))
			}
			t.handleUpdate(update, sink)
		}
	}
}

// Send delivers a reply to the Telegram chat named by msg.ChannelID.
func (t *Telegram) Send(ctx context.Context, msg domain.Message) error {
	if !t.connected.Load() {
		return domain.NewChannelError(domain.ChannelTransient, domain.KindTelegram,
			fmt.Errorf("bot is not connected"))
	}
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return domain.NewChannelError(domain.ChannelPermanent, domain.KindTelegram,
			fmt.Errorf("invalid chat ID %q: %w", msg.ChannelID, err))
	}
	if err := t.sendMessage(chatID, msg.Text); err != nil {
		return domain.NewChannelError(domain.ChannelTransient, domain.KindTelegram,
			fmt.Errorf("send to %d: %w", chatID, err))
	}
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update, sink domain.Publisher) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.api.Send(typing)

	msg := domain.NewMessage(domain.KindTelegram,
		strconv.FormatInt(chatID, 10),
		strconv.FormatInt(userID, 10),
		text,
	)
	if update.Message.Date > 0 {
		msg.Timestamp = time.Unix(int64(update.Message.Date), 0).UTC()
	}
	if err := sink.Publish(msg); err != nil {
		t.logger.Warn("failed to publish telegram message", "err", err)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendMessage chunks text to the Telegram size limit and sends every chunk.
// Returns the last chunk failure so the caller can see a dead conversation.
func (t *Telegram) sendMessage(chatID int64, text string) error {
	var lastErr error
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(chatID, chunk); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try Markdown first, on parse error fall back to plain text, then
// retry with backoff.
func (t *Telegram) sendChunk(chatID int64, text string) error {
	const maxRetries = telegramMaxSendRetries

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (parse mode may be malformed).

		_, err := t.api.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * t.retryDelay
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt: immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.api.Send(plainMsg); err2 == nil {
				return nil
			}
			// Plain also failed, fall through to backoff loop.
		}

		// Exponential backoff for other transient errors.
		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * t.retryDelay
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
	return lastErr
}
