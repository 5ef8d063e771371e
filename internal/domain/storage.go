package domain

import (
	"context"
	"time"
)

// StoredMessage is one persisted conversation entry.
type StoredMessage struct {
	ID        int64
	Key       string // conversation key, "<kind>:<channel_id>"
	Sender    string
	Text      string
	CreatedAt time.Time
}

// HistoryStore persists conversation history so the router can give the
// provider recent context. A nil store disables history entirely.
type HistoryStore interface {
	// SaveMessage appends msg to its conversation.
	SaveMessage(ctx context.Context, msg Message) error

	// Recent returns up to limit messages for the conversation key,
	// oldest first.
	Recent(ctx context.Context, key string, limit int) ([]StoredMessage, error)

	// Prune removes messages older than before. Returns rows removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
