// ABOUTME: Tests for the SQLite history store
// ABOUTME: Covers round-trips, replacement semantics and tool call metadata

package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := &chat.Conversation{ID: "conv-1", LastResponseID: "resp_42"}
	conv.Append(chat.NewMessage(chat.RoleSystem, "You are helpful."))
	conv.Append(chat.NewMessage(chat.RoleUser, "What time is it?"))

	assistant := chat.NewMessage(chat.RoleAssistant, "It is noon.")
	assistant.ToolCalls = []chat.ToolCall{{
		CallID:    "call_1",
		Name:      "current_time",
		Arguments: map[string]any{"tz": "UTC"},
		Status:    chat.ToolCallCompleted,
		Result:    "12:00",
	}}
	assistant.Attachments = []chat.AttachmentRef{{FileID: "file_1", Name: "notes.txt"}}
	conv.Append(assistant)

	require.NoError(t, store.Save(ctx, conv))

	loaded, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "resp_42", loaded.LastResponseID)
	require.Len(t, loaded.Messages, 3)

	assert.Equal(t, chat.RoleSystem, loaded.Messages[0].Role)
	assert.Equal(t, "What time is it?", loaded.Messages[1].Content)

	got := loaded.Messages[2]
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, "call_1", got.ToolCalls[0].CallID)
	assert.Equal(t, chat.ToolCallCompleted, got.ToolCalls[0].Status)
	assert.Equal(t, "12:00", got.ToolCalls[0].Result)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "file_1", got.Attachments[0].FileID)
}

func TestSQLiteStore_SaveReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := &chat.Conversation{ID: "conv-2"}
	for i := 0; i < 6; i++ {
		conv.Append(chat.NewMessage(chat.RoleUser, "msg"))
	}
	require.NoError(t, store.Save(ctx, conv))

	conv.Trim(4)
	require.NoError(t, store.Save(ctx, conv))

	loaded, err := store.Load(ctx, "conv-2")
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 4, "save must replace prior rows, not accumulate")
}

func TestSQLiteStore_OrderPreserved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := &chat.Conversation{ID: "conv-3"}
	contents := []string{"first", "second", "third", "fourth"}
	for _, c := range contents {
		conv.Append(chat.NewMessage(chat.RoleUser, c))
	}
	require.NoError(t, store.Save(ctx, conv))

	loaded, err := store.Load(ctx, "conv-3")
	require.NoError(t, err)
	require.Len(t, loaded.Messages, len(contents))
	for i, c := range contents {
		assert.Equal(t, c, loaded.Messages[i].Content)
	}
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv := &chat.Conversation{ID: "conv-4"}
	conv.Append(chat.NewMessage(chat.RoleUser, "original"))
	require.NoError(t, store.Save(ctx, conv))

	// mutating the caller's copy must not leak into the store
	conv.Messages[0].Content = "mutated"

	loaded, err := store.Load(ctx, "conv-4")
	require.NoError(t, err)
	assert.Equal(t, "original", loaded.Messages[0].Content)
}
