package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"clanker/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel for Discord.
type Discord struct {
	token   string
	guildID string

	session   *discordgo.Session
	connected atomic.Bool
	logger    *slog.Logger
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord adapter.
func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Kind() domain.ChannelKind { return domain.KindDiscord }

func (d *Discord) Healthy() bool { return d.connected.Load() }

// Listen connects to Discord with a bot token and forwards messages until
// ctx is cancelled.
func (d *Discord) Listen(ctx context.Context, sink domain.Publisher) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return domain.NewChannelError(domain.ChannelPermanent, domain.KindDiscord,
			fmt.Errorf("session: %w", err))
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Ignore the bot's own messages.
		if m.Author.ID == s.State.User.ID {
			return
		}

		// If guildID is set, filter messages.
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}

		text := strings.TrimSpace(m.Content)
		if text == "" {
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(m.Content),
		)

		if err := sink.Publish(domain.NewMessage(domain.KindDiscord, m.ChannelID, m.Author.ID, text)); err != nil {
			d.logger.Warn("failed to publish discord message", "err", err)
		}
	})

	if err := session.Open(); err != nil {
		return domain.NewChannelError(domain.ChannelTransient, domain.KindDiscord,
			fmt.Errorf("connect: %w", err))
	}
	d.connected.Store(true)
	defer d.connected.Store(false)

	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	// Wait for context cancellation.
	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// Send delivers a reply to the Discord channel named by msg.ChannelID.
func (d *Discord) Send(ctx context.Context, msg domain.Message) error {
	if !d.connected.Load() {
		return domain.NewChannelError(domain.ChannelTransient, domain.KindDiscord,
			fmt.Errorf("session is not connected"))
	}

	// Split long messages.
	chunks := splitMessage(msg.Text, discordMaxMsgLen)
	for _, chunk := range chunks {
		if _, err := d.session.ChannelMessageSend(msg.ChannelID, chunk); err != nil {
			return domain.NewChannelError(domain.ChannelTransient, domain.KindDiscord,
				fmt.Errorf("send to %s: %w", msg.ChannelID, err))
		}
	}
	return nil
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible. Cuts land on rune boundaries so
// a chunk never ships a torn code point.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		// Try to split on a newline.
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
