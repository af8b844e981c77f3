// ABOUTME: In-memory Store for tests and the websocket relay
// ABOUTME: Keeps deep copies so callers cannot mutate stored history

package history

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/chat"
)

// MemoryStore implements Store with a mutex-guarded map.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*chat.Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*chat.Conversation)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, id string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, conv *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyConversation(conv)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	s.conversations[conv.ID] = stored
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func copyConversation(conv *chat.Conversation) *chat.Conversation {
	out := &chat.Conversation{ID: conv.ID, LastResponseID: conv.LastResponseID, UpdatedAt: conv.UpdatedAt}
	out.Messages = make([]chat.Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	for i := range out.Messages {
		if len(conv.Messages[i].ToolCalls) > 0 {
			out.Messages[i].ToolCalls = append([]chat.ToolCall(nil), conv.Messages[i].ToolCalls...)
		}
		if len(conv.Messages[i].Attachments) > 0 {
			out.Messages[i].Attachments = append([]chat.AttachmentRef(nil), conv.Messages[i].Attachments...)
		}
	}
	return out
}
