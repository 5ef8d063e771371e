// Package memory persists conversation history so the router can hand the
// provider recent context for each conversation.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"clanker/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id       TEXT NOT NULL,
		conversation_key TEXT NOT NULL,
		sender           TEXT NOT NULL,
		text             TEXT,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_key ON messages(conversation_key, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveMessage appends msg to its conversation.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg domain.Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_key, sender, text, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationKey(), msg.Sender, msg.Text, ts,
	)
	return err
}

// Recent returns the last limit messages for the conversation key,
// oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, key string, limit int) ([]domain.StoredMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_key, sender, text, created_at
		 FROM messages WHERE conversation_key = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, key, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.StoredMessage
	for rows.Next() {
		var m domain.StoredMessage
		if err := rows.Scan(&m.ID, &m.Key, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Prune removes messages older than before. Returns rows removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE created_at < ?`, before,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned conversation history", "removed", n, "before", before)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
