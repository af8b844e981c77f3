// ABOUTME: Core conversation data model for parley-gateway
// ABOUTME: Defines Message, ToolCall, Conversation and turn request types

package chat

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Protocol selects which upstream wire protocol a turn uses.
type Protocol string

const (
	// ProtocolSimple is the stateless chat-completions protocol. The full
	// history travels with every request.
	ProtocolSimple Protocol = "simple"
	// ProtocolStateful is the response-chaining protocol. The upstream keeps
	// state and turns reference a previous response id.
	ProtocolStateful Protocol = "stateful"
)

// ToolCallStatus tracks the lifecycle of a single tool invocation.
type ToolCallStatus string

const (
	ToolCallRequested ToolCallStatus = "requested"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// ToolCall records one upstream-requested tool invocation and its outcome.
type ToolCall struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    ToolCallStatus `json:"status"`
	Result    string         `json:"result,omitempty"`
}

// AttachmentRef points at an uploaded file by upstream file id.
type AttachmentRef struct {
	FileID string `json:"file_id"`
	Name   string `json:"name,omitempty"`
}

// Message is one entry in a conversation. Messages are immutable once
// persisted.
type Message struct {
	ID          string          `json:"id"`
	Role        Role            `json:"role"`
	Content     string          `json:"content"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	ToolCalls   []ToolCall      `json:"tool_calls,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Conversation is an ordered message history for one conversation id.
// LastResponseID chains stateful turns to the upstream's stored state.
type Conversation struct {
	ID             string    `json:"id"`
	Messages       []Message `json:"messages"`
	LastResponseID string    `json:"last_response_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Append adds messages to the end of the history.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now().UTC()
}

// Trim drops the oldest messages until at most max remain. A non-positive
// max leaves the conversation untouched.
func (c *Conversation) Trim(max int) {
	if max <= 0 || len(c.Messages) <= max {
		return
	}
	c.Messages = append([]Message(nil), c.Messages[len(c.Messages)-max:]...)
}

// RecordToolResult marks the tool call with the given call id as finished.
// Recording the same result twice is a no-op, so replays after a retry do
// not duplicate state.
func (m *Message) RecordToolResult(callID string, status ToolCallStatus, result string) bool {
	for i := range m.ToolCalls {
		tc := &m.ToolCalls[i]
		if tc.CallID != callID {
			continue
		}
		if tc.Status == ToolCallCompleted || tc.Status == ToolCallFailed {
			return false
		}
		tc.Status = status
		tc.Result = result
		return true
	}
	return false
}

// ToolSpec describes a callable tool in the request payload.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Attachment is raw file content supplied with a turn, uploaded before the
// turn is submitted upstream. Data arrives base64-encoded on the wire;
// encoding/json decodes it into raw bytes.
type Attachment struct {
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Data []byte `json:"base64"`
}

// TurnRequest is one inbound chat turn from a client.
type TurnRequest struct {
	ConversationID     string       `json:"conversation_id,omitempty"`
	Message            string       `json:"message"`
	Protocol           Protocol     `json:"protocol,omitempty"`
	Model              string       `json:"model,omitempty"`
	Temperature        *float64     `json:"temperature,omitempty"`
	PromptRef          string       `json:"prompt_ref,omitempty"`
	PromptVersion      string       `json:"prompt_version,omitempty"`
	Tools              []ToolSpec   `json:"tools,omitempty"`
	KnowledgeStoreRefs []string     `json:"knowledge_store_refs,omitempty"`
	Attachments        []Attachment `json:"attachments,omitempty"`
	Stream             *bool        `json:"stream,omitempty"`
}

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidConversationID reports whether id is usable as a conversation key.
func ValidConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// NewConversationID generates a fresh conversation id.
func NewConversationID() string {
	return uuid.New().String()
}

// ValidateToolSpecs rejects malformed client tool overrides before anything
// is sent upstream.
func ValidateToolSpecs(specs []ToolSpec) error {
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if s.Name == "" {
			return fmt.Errorf("tool %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("tool %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
