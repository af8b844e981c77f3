// ABOUTME: HTTP client for the upstream model provider
// ABOUTME: Streams both protocols over SSE and handles file uploads

package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/config"
)

// Client talks to the upstream model provider over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// New creates a client from the upstream configuration section.
func New(cfg config.UpstreamConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger.With("component", "upstream"),
	}
}

// StreamCompletion starts a simple-protocol turn. A nil error means the
// stream opened; all subsequent outcomes arrive on the returned channel,
// which is closed after the terminal event.
func (c *Client) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Event, error) {
	payload := completionPayload{
		Model:            req.Model,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxTokens,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stream:           true,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, completionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.postSSE(ctx, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go c.consumeCompletionStream(ctx, resp.Body, events)
	return events, nil
}

// consumeCompletionStream parses "data:" frames terminated by the [DONE]
// sentinel. Streamed tool-call arguments arrive as string fragments keyed
// by index and are assembled before emission.
func (c *Client) consumeCompletionStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	calls := make(map[int]*partialCall)
	var order []int

	flushCalls := func() bool {
		for _, idx := range order {
			pc := calls[idx]
			args, err := parseArguments(pc.args.String())
			if err != nil {
				c.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("parsing tool arguments for %s: %w", pc.name, err)})
				return false
			}
			ev := Event{Kind: EventToolCall, ToolCall: &ToolInvocation{
				CallID:    pc.id,
				Name:      pc.name,
				Arguments: args,
			}}
			if !c.emit(ctx, events, ev) {
				return false
			}
		}
		calls = make(map[int]*partialCall)
		order = nil
		return true
	}

	finishReason := ""
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("skipping malformed stream chunk", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !c.emit(ctx, events, Event{Kind: EventTextDelta, Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			pc, ok := calls[tc.Index]
			if !ok {
				pc = &partialCall{}
				calls[tc.Index] = pc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		c.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("reading stream: %w", err)})
		return
	}

	if !flushCalls() {
		return
	}
	if finishReason == "" {
		finishReason = "stop"
	}
	c.emit(ctx, events, Event{Kind: EventFinish, FinishReason: finishReason})
}

// StreamResponse starts a stateful-protocol turn.
func (c *Client) StreamResponse(ctx context.Context, req ResponseRequest) (<-chan Event, error) {
	payload := buildResponsePayload(req, true)

	resp, err := c.postSSE(ctx, "/responses", payload)
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go c.consumeResponseStream(ctx, resp.Body, events)
	return events, nil
}

// CreateResponse runs a stateful turn without streaming. The retry path
// uses it to probe whether a request shape is accepted at all.
func (c *Client) CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error) {
	payload := buildResponsePayload(req, false)

	resp, err := c.post(ctx, "/responses", payload, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var obj responseObject
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if obj.Error != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Type: obj.Error.Code, Message: obj.Error.Message}
	}

	out := &Response{ID: obj.ID, Status: obj.Status}
	for _, item := range obj.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" {
				out.OutputText += part.Text
			}
		}
	}
	return out, nil
}

func buildResponsePayload(req ResponseRequest, stream bool) responsePayload {
	payload := responsePayload{
		Model:              req.Model,
		Instructions:       req.Instructions,
		PreviousResponseID: req.PreviousResponseID,
		Prompt:             req.Prompt,
		Temperature:        req.Temperature,
		Stream:             stream,
		Store:              true,
	}

	if req.Input != "" || len(req.Attachments) > 0 {
		parts := []contentPart{{Type: "input_text", Text: req.Input}}
		for _, att := range req.Attachments {
			parts = append(parts, contentPart{Type: "input_file", FileID: att.FileID})
		}
		payload.Input = append(payload.Input, inputItem{Role: "user", Content: parts})
	}
	for _, tr := range req.ToolResults {
		payload.Input = append(payload.Input, inputItem{
			Type:   "function_call_output",
			CallID: tr.CallID,
			Output: tr.Output,
		})
	}

	for _, t := range req.Tools {
		payload.Tools = append(payload.Tools, responseTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	if len(req.KnowledgeStoreRefs) > 0 {
		payload.Tools = append(payload.Tools, responseTool{
			Type:           "file_search",
			VectorStoreIDs: req.KnowledgeStoreRefs,
		})
	}

	return payload
}

// consumeResponseStream parses the typed event/data frame pairs of the
// stateful protocol.
func (c *Client) consumeResponseStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var frame responseStreamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			c.logger.Warn("skipping malformed stream frame", "error", err)
			continue
		}

		switch frame.Type {
		case "response.created":
			if !c.emit(ctx, events, Event{Kind: EventCreated, ResponseID: frame.Response.ID}) {
				return
			}
		case "response.output_text.delta":
			if !c.emit(ctx, events, Event{Kind: EventTextDelta, Text: frame.Delta}) {
				return
			}
		case "response.output_item.done":
			if frame.Item == nil || frame.Item.Type != "function_call" {
				continue
			}
			args, err := parseArguments(frame.Item.Arguments)
			if err != nil {
				c.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("parsing tool arguments for %s: %w", frame.Item.Name, err)})
				return
			}
			ev := Event{Kind: EventToolCall, ToolCall: &ToolInvocation{
				CallID:    frame.Item.CallID,
				Name:      frame.Item.Name,
				Arguments: args,
			}}
			if !c.emit(ctx, events, ev) {
				return
			}
		case "response.completed":
			c.emit(ctx, events, Event{Kind: EventFinish, ResponseID: frame.Response.ID, FinishReason: "stop"})
			return
		case "response.incomplete":
			c.emit(ctx, events, Event{Kind: EventFinish, ResponseID: frame.Response.ID, FinishReason: "incomplete"})
			return
		case "response.failed", "error":
			msg := frame.Message
			if msg == "" && frame.Response.Error != nil {
				msg = frame.Response.Error.Message
			}
			if msg == "" {
				msg = "upstream reported failure"
			}
			c.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("upstream stream failed: %s", msg)})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("reading stream: %w", err)})
		return
	}
	c.emit(ctx, events, Event{Kind: EventError, Err: fmt.Errorf("stream ended without completion")})
}

// UploadFile sends raw attachment bytes to the provider's file store and
// returns the assigned file id. The multipart buffer lives only within
// this call.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("writing purpose field: %w", err)
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("writing file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("uploading file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", parseErrorResponse(resp)
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if uploaded.ID == "" {
		return "", fmt.Errorf("upload response missing file id")
	}

	c.logger.Debug("uploaded attachment", "name", name, "file_id", uploaded.ID, "bytes", len(data))
	return uploaded.ID, nil
}

// postSSE issues a streaming POST and verifies the stream opened. On a
// non-2xx status the body is consumed into an *APIError and no stream is
// returned.
func (c *Client) postSSE(ctx context.Context, path string, payload any) (*http.Response, error) {
	resp, err := c.post(ctx, path, payload, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseErrorResponse(resp)
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

// emit delivers an event unless the consumer has gone away.
func (c *Client) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseArguments decodes a tool-call argument blob. Empty input means no
// arguments.
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
