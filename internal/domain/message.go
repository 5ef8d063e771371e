package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxTextRunes bounds the text of a single message. Longer inbound text is
// truncated at construction so no adapter or provider sees unbounded input.
const MaxTextRunes = 16384

// AssistantSender is the sender recorded on every gateway-generated reply.
const AssistantSender = "assistant"

// ChannelKind identifies the transport a message belongs to.
type ChannelKind string

const (
	KindTelegram  ChannelKind = "telegram"
	KindDiscord   ChannelKind = "discord"
	KindWebSocket ChannelKind = "websocket"
)

// ParseChannelKind parses a wire name into a ChannelKind.
func ParseChannelKind(s string) (ChannelKind, error) {
	switch ChannelKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTelegram:
		return KindTelegram, nil
	case KindDiscord:
		return KindDiscord, nil
	case KindWebSocket:
		return KindWebSocket, nil
	}
	return "", fmt.Errorf("unknown channel kind: %q", s)
}

func (k ChannelKind) String() string { return string(k) }

// Metadata carries optional transport context for a message.
type Metadata struct {
	Attachments []string `json:"attachments,omitempty"`
	ReplyTo     *string  `json:"reply_to,omitempty"`
	Mentions    []string `json:"mentions,omitempty"`
}

// Empty reports whether the metadata carries nothing.
func (m Metadata) Empty() bool {
	return len(m.Attachments) == 0 && m.ReplyTo == nil && len(m.Mentions) == 0
}

// Message is the canonical unit routed through the gateway. Every adapter
// normalizes its transport payload into this shape, and every reply leaves
// the router in this shape.
type Message struct {
	ID        string      `json:"id"`
	Channel   ChannelKind `json:"channel"`
	ChannelID string      `json:"channel_id"`
	Sender    string      `json:"sender"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	Metadata  *Metadata   `json:"metadata,omitempty"`
}

// NewMessage builds a Message with a fresh UUID and a UTC timestamp.
// Text beyond MaxTextRunes is truncated.
func NewMessage(kind ChannelKind, channelID, sender, text string) Message {
	if r := []rune(text); len(r) > MaxTextRunes {
		text = string(r[:MaxTextRunes])
	}
	return Message{
		ID:        uuid.NewString(),
		Channel:   kind,
		ChannelID: channelID,
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// Reply builds the assistant reply to m: a new message with its own ID and
// timestamp, addressed to the same channel and conversation.
func (m Message) Reply(text string) Message {
	return NewMessage(m.Channel, m.ChannelID, AssistantSender, text)
}

// ConversationKey identifies the conversation a message belongs to,
// shared by the router and the history store.
func (m Message) ConversationKey() string {
	return fmt.Sprintf("%s:%s", m.Channel, m.ChannelID)
}
