// ABOUTME: Store interface for conversation history persistence
// ABOUTME: Defines the Load/Save contract shared by the SQLite and in-memory backends

package history

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/chat"
)

// ErrNotFound is returned by Load when no conversation exists for the id.
// The first turn of every conversation sees it.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversation history. Implementations must serialize
// concurrent Load/Save calls for the same conversation id, so a turn never
// observes a half-written history.
type Store interface {
	// Load returns the conversation for id, or ErrNotFound.
	Load(ctx context.Context, id string) (*chat.Conversation, error)

	// Save writes the conversation, replacing any prior state for its id.
	Save(ctx context.Context, conv *chat.Conversation) error

	// Close releases backend resources.
	Close() error
}
