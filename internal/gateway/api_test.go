// ABOUTME: Tests for the chat HTTP API
// ABOUTME: Covers SSE framing, JSON aggregation and pre-stream error mapping

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/orchestrator"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/upstream"
)

type mockRunner struct {
	err    error
	events []chat.StreamEvent

	gotCaller string
	gotReq    chat.TurnRequest
}

func (m *mockRunner) Run(_ context.Context, caller string, req chat.TurnRequest) (<-chan chat.StreamEvent, error) {
	m.gotCaller = caller
	m.gotReq = req
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan chat.StreamEvent, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newTestGateway(runner TurnRunner) *Gateway {
	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Relay:  config.RelayConfig{Path: "/ws"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, runner, nil, logger)
}

func postChat(t *testing.T, g *Gateway, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

// parseSSE splits a response body into (event, data) pairs.
func parseSSE(t *testing.T, body string) [][2]string {
	t.Helper()
	var frames [][2]string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var event, data string
		for _, line := range strings.Split(block, "\n") {
			if after, ok := strings.CutPrefix(line, "event: "); ok {
				event = after
			}
			if after, ok := strings.CutPrefix(line, "data: "); ok {
				data = after
			}
		}
		frames = append(frames, [2]string{event, data})
	}
	return frames
}

func TestHandleChat_SSE(t *testing.T) {
	runner := &mockRunner{events: []chat.StreamEvent{
		chat.StartEvent("conv-1"),
		chat.ChunkEvent("Hel"),
		chat.ChunkEvent("lo"),
		chat.DoneEvent("stop"),
	}}
	g := newTestGateway(runner)

	rec := postChat(t, g, `{"message":"hi","conversation_id":"conv-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 4)
	assert.Equal(t, "start", frames[0][0])
	assert.Equal(t, "chunk", frames[1][0])
	assert.Equal(t, "done", frames[3][0])

	var start chat.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(frames[0][1]), &start))
	assert.Equal(t, "conv-1", start.ConversationID)

	assert.Equal(t, "hi", runner.gotReq.Message)
}

func TestHandleChat_SSEErrorEvent(t *testing.T) {
	runner := &mockRunner{events: []chat.StreamEvent{
		chat.StartEvent("conv-1"),
		chat.ErrorEvent("upstream service unavailable"),
	}}
	g := newTestGateway(runner)

	rec := postChat(t, g, `{"message":"hi"}`)

	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "error", frames[1][0])

	var errEv chat.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(frames[1][1]), &errEv))
	assert.Equal(t, "upstream service unavailable", errEv.Message)
}

func TestHandleChat_Aggregate(t *testing.T) {
	runner := &mockRunner{events: []chat.StreamEvent{
		chat.StartEvent("conv-2"),
		chat.NoticeEvent("switched to fallback model gpt-4o-mini"),
		chat.ChunkEvent("Hello "),
		chat.ChunkEvent("world"),
		chat.ToolCallEvent(chat.ToolCall{CallID: "call_1", Name: "current_time", Status: chat.ToolCallRequested}),
		chat.ToolCallEvent(chat.ToolCall{CallID: "call_1", Name: "current_time", Status: chat.ToolCallCompleted}),
		chat.DoneEvent("stop"),
	}}
	g := newTestGateway(runner)

	rec := postChat(t, g, `{"message":"hi","stream":false}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out struct {
		ConversationID string          `json:"conversation_id"`
		Response       string          `json:"response"`
		FinishReason   string          `json:"finish_reason"`
		Notices        []string        `json:"notices"`
		ToolCalls      []chat.ToolCall `json:"tool_calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "conv-2", out.ConversationID)
	assert.Equal(t, "Hello world", out.Response)
	assert.Equal(t, "stop", out.FinishReason)
	require.Len(t, out.Notices, 1)
	require.Len(t, out.ToolCalls, 1, "tool call transitions collapse to the final state")
	assert.Equal(t, chat.ToolCallCompleted, out.ToolCalls[0].Status)
}

func TestHandleChat_AggregateError(t *testing.T) {
	runner := &mockRunner{events: []chat.StreamEvent{
		chat.StartEvent("conv-3"),
		chat.ErrorEvent("upstream service unavailable"),
	}}
	g := newTestGateway(runner)

	rec := postChat(t, g, `{"message":"hi","stream":false}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream service unavailable")
}

func TestHandleChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", &orchestrator.ValidationError{Msg: "message must not be empty"}, http.StatusBadRequest},
		{"rate limited", ratelimit.ErrRateLimited, http.StatusTooManyRequests},
		{"upstream client", &upstream.APIError{StatusCode: 404, Message: "nope"}, http.StatusBadGateway},
		{"upstream server", &upstream.APIError{StatusCode: 503, Message: "down"}, http.StatusBadGateway},
		{"internal", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(&mockRunner{err: tt.err})

			rec := postChat(t, g, `{"message":"hi"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	g := newTestGateway(&mockRunner{})

	rec := postChat(t, g, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestHandleChat_MethodNotAllowed(t *testing.T) {
	g := newTestGateway(&mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCallerKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", callerKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", callerKey(r))
}

func TestHealthEndpoints(t *testing.T) {
	g := newTestGateway(&mockRunner{})

	for _, path := range []string{"/health", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
