// ABOUTME: SQLite implementation of the history Store using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parleyhq/parley/internal/chat"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// per-conversation locks so concurrent turns on the same id serialize
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLiteStore creates a store at the given path. The schema is created
// if it doesn't exist and parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "history"),
		locks:  make(map[string]*sync.Mutex),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("history store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			last_response_id TEXT,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			attachments TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// lockFor returns the mutex guarding one conversation id.
func (s *SQLiteStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Load returns the conversation for id, or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*chat.Conversation, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	var updatedAt time.Time
	var lastResponseID sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT last_response_id, updated_at FROM conversations WHERE id = ?", id,
	).Scan(&lastResponseID, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, tool_calls, attachments, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	conv := &chat.Conversation{ID: id, LastResponseID: lastResponseID.String, UpdatedAt: updatedAt}
	for rows.Next() {
		var msg chat.Message
		var role string
		var toolCalls, attachments sql.NullString
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCalls, &attachments, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = chat.Role(role)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls for message %s: %w", msg.ID, err)
			}
		}
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("decoding attachments for message %s: %w", msg.ID, err)
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return conv, nil
}

// Save writes the conversation, replacing any prior rows for its id in one
// transaction.
func (s *SQLiteStore) Save(ctx context.Context, conv *chat.Conversation) error {
	lock := s.lockFor(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, last_response_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_response_id = excluded.last_response_id,
			updated_at = excluded.updated_at`,
		conv.ID, nullString(conv.LastResponseID), conv.UpdatedAt); err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM messages WHERE conversation_id = ?", conv.ID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}

	for seq, msg := range conv.Messages {
		toolCalls, err := encodeJSON(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encoding tool calls for message %s: %w", msg.ID, err)
		}
		attachments, err := encodeJSON(msg.Attachments)
		if err != nil {
			return fmt.Errorf("encoding attachments for message %s: %w", msg.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, seq, role, content, tool_calls, attachments, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, conv.ID, seq, string(msg.Role), msg.Content, toolCalls, attachments, msg.CreatedAt); err != nil {
			return fmt.Errorf("inserting message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("conversation saved", "conversation_id", conv.ID, "messages", len(conv.Messages))
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString maps "" to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// encodeJSON marshals v, returning NULL-able empty for nil slices.
func encodeJSON(v any) (any, error) {
	switch val := v.(type) {
	case []chat.ToolCall:
		if len(val) == 0 {
			return nil, nil
		}
	case []chat.AttachmentRef:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
