// ABOUTME: Client-facing stream event contract shared by HTTP and websocket transports
// ABOUTME: Every turn yields start, then chunks and notices, then exactly one done or error

package chat

// EventType enumerates the client event vocabulary.
type EventType string

const (
	EventStart    EventType = "start"
	EventChunk    EventType = "chunk"
	EventToolCall EventType = "tool_call"
	EventNotice   EventType = "notice"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// StreamEvent is one frame in a turn's event stream. Fields are populated
// per type: start carries the conversation id, chunk and notice carry
// content, tool_call carries the call identity and status, error carries a
// message, done carries the finish reason.
type StreamEvent struct {
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Content        string         `json:"content,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
	CallID         string         `json:"call_id,omitempty"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	Status         ToolCallStatus `json:"status,omitempty"`
	FinishReason   string         `json:"finish_reason,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// StartEvent opens a turn's stream.
func StartEvent(conversationID string) StreamEvent {
	return StreamEvent{Type: EventStart, ConversationID: conversationID}
}

// ChunkEvent carries one increment of assistant text.
func ChunkEvent(content string) StreamEvent {
	return StreamEvent{Type: EventChunk, Content: content}
}

// ToolCallEvent reports a tool invocation transition.
func ToolCallEvent(call ToolCall) StreamEvent {
	return StreamEvent{
		Type:      EventToolCall,
		ToolName:  call.Name,
		CallID:    call.CallID,
		Arguments: call.Arguments,
		Status:    call.Status,
	}
}

// NoticeEvent reports a non-fatal degradation, such as a fallback applied
// mid turn. Notice text travels in the content field like chunk text.
func NoticeEvent(content string) StreamEvent {
	return StreamEvent{Type: EventNotice, Content: content}
}

// DoneEvent closes a successful turn.
func DoneEvent(finishReason string) StreamEvent {
	return StreamEvent{Type: EventDone, FinishReason: finishReason}
}

// ErrorEvent closes a failed turn.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}
