// ABOUTME: Wire types for the two upstream protocols
// ABOUTME: Simple chat completions and stateful chained responses share one event union

package upstream

import "github.com/parleyhq/parley/internal/chat"

// EventKind identifies what a stream event carries.
type EventKind int

const (
	// EventTextDelta carries an increment of assistant text.
	EventTextDelta EventKind = iota
	// EventToolCall carries a fully-assembled tool invocation request.
	EventToolCall
	// EventCreated carries the upstream response id, emitted once per
	// stateful stream before any output.
	EventCreated
	// EventFinish closes a successful stream with a finish reason.
	EventFinish
	// EventError closes a failed stream.
	EventError
)

// Event is one item in an upstream stream. Exactly one of the payload
// fields is meaningful for a given kind.
type Event struct {
	Kind         EventKind
	Text         string
	ToolCall     *ToolInvocation
	ResponseID   string
	FinishReason string
	Err          error
}

// ToolInvocation is a tool call requested by the model.
type ToolInvocation struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// CompletionRequest is one simple-protocol turn. The caller supplies the
// full history; the upstream keeps no state.
type CompletionRequest struct {
	Model            string
	Messages         []chat.Message
	Temperature      float64
	TopP             float64
	MaxTokens        int
	FrequencyPenalty float64
	PresencePenalty  float64
}

// ToolResult feeds a locally-executed tool's output back into a stateful
// resubmission.
type ToolResult struct {
	CallID string
	Output string
}

// PromptRef points at a server-side prompt template.
type PromptRef struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// ResponseRequest is one stateful-protocol turn. State lives upstream;
// continuation happens through PreviousResponseID.
type ResponseRequest struct {
	Model              string
	Input              string
	Instructions       string
	PreviousResponseID string
	Prompt             *PromptRef
	Tools              []chat.ToolSpec
	KnowledgeStoreRefs []string
	ToolResults        []ToolResult
	Attachments        []chat.AttachmentRef
	Temperature        *float64
}

// Response is the non-streaming result of a stateful turn.
type Response struct {
	ID         string
	OutputText string
	Status     string
}

// wire shapes for the simple protocol

type completionPayload struct {
	Model            string              `json:"model"`
	Messages         []completionMessage `json:"messages"`
	Temperature      float64             `json:"temperature"`
	TopP             float64             `json:"top_p,omitempty"`
	MaxTokens        int                 `json:"max_tokens,omitempty"`
	FrequencyPenalty float64             `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64             `json:"presence_penalty,omitempty"`
	Stream           bool                `json:"stream"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// wire shapes for the stateful protocol

type responsePayload struct {
	Model              string         `json:"model,omitempty"`
	Input              []inputItem    `json:"input"`
	Instructions       string         `json:"instructions,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Prompt             *PromptRef     `json:"prompt,omitempty"`
	Tools              []responseTool `json:"tools,omitempty"`
	Temperature        *float64       `json:"temperature,omitempty"`
	Stream             bool           `json:"stream"`
	Store              bool           `json:"store"`
}

type inputItem struct {
	// message items
	Type    string        `json:"type,omitempty"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	// function_call_output items
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

type contentPart struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

type responseTool struct {
	Type string `json:"type"`
	// function tools
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// file_search tools
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
}

type responseObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output []struct {
		Type    string `json:"type"`
		CallID  string `json:"call_id"`
		Name    string `json:"name"`
		Args    string `json:"arguments"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type responseStreamFrame struct {
	Type     string         `json:"type"`
	Delta    string         `json:"delta"`
	Response responseObject `json:"response"`
	Item     *struct {
		Type      string `json:"type"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"item"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
