package router

import "clanker/internal/domain"

const defaultSystemPrompt = "You are a helpful AI assistant."

// systemPrompt returns the system prompt tuned for the channel the message
// arrived on.
func systemPrompt(kind domain.ChannelKind) string {
	switch kind {
	case domain.KindTelegram:
		return "You are a helpful AI assistant for Telegram. Keep responses concise and engaging."
	case domain.KindDiscord:
		return "You are a helpful AI assistant for Discord. Be conversational and use Discord-friendly formatting."
	default:
		return defaultSystemPrompt
	}
}
