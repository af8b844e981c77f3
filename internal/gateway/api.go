// ABOUTME: HTTP API handler exposing chat turns to external clients
// ABOUTME: POST /v1/chat streams SSE by default and aggregates JSON on stream:false

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/orchestrator"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/upstream"
)

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseChatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := g.runner.Run(r.Context(), callerKey(r), *req)
	if err != nil {
		g.sendTurnError(w, err)
		return
	}

	if req.Stream != nil && !*req.Stream {
		g.respondAggregate(w, events)
		return
	}
	g.streamEvents(w, r, events)
}

// streamEvents writes each turn event as one SSE frame.
func (g *Gateway) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan chat.StreamEvent) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case <-r.Context().Done():
			// client went away; the orchestrator sees the same context
			return
		case ev, open := <-events:
			if !open {
				return
			}
			g.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// aggregateResponse is the JSON body returned when the client opts out of
// streaming.
type aggregateResponse struct {
	ConversationID string          `json:"conversation_id"`
	Response       string          `json:"response"`
	FinishReason   string          `json:"finish_reason"`
	Notices        []string        `json:"notices,omitempty"`
	ToolCalls      []chat.ToolCall `json:"tool_calls,omitempty"`
}

// respondAggregate drains the event stream and replies with one JSON body.
func (g *Gateway) respondAggregate(w http.ResponseWriter, events <-chan chat.StreamEvent) {
	var (
		out      aggregateResponse
		response strings.Builder
		calls    = map[string]chat.ToolCall{}
		order    []string
	)

	for ev := range events {
		switch ev.Type {
		case chat.EventStart:
			out.ConversationID = ev.ConversationID
		case chat.EventChunk:
			response.WriteString(ev.Content)
		case chat.EventNotice:
			out.Notices = append(out.Notices, ev.Content)
		case chat.EventToolCall:
			if _, seen := calls[ev.CallID]; !seen {
				order = append(order, ev.CallID)
			}
			calls[ev.CallID] = chat.ToolCall{
				CallID:    ev.CallID,
				Name:      ev.ToolName,
				Arguments: ev.Arguments,
				Status:    ev.Status,
			}
		case chat.EventDone:
			out.FinishReason = ev.FinishReason
		case chat.EventError:
			g.sendJSONError(w, http.StatusBadGateway, ev.Message)
			return
		}
	}

	out.Response = response.String()
	for _, id := range order {
		out.ToolCalls = append(out.ToolCalls, calls[id])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// sendTurnError maps pre-stream orchestration failures onto status codes.
func (g *Gateway) sendTurnError(w http.ResponseWriter, err error) {
	switch {
	case orchestrator.IsValidationError(err):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ratelimit.ErrRateLimited):
		g.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
	default:
		if apiErr, ok := upstream.AsAPIError(err); ok {
			g.logger.Warn("upstream rejected turn", "status", apiErr.StatusCode, "error", apiErr.Message)
			g.sendJSONError(w, http.StatusBadGateway, "upstream request failed")
			return
		}
		g.logger.Error("turn failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseChatRequest parses a TurnRequest from the given reader. Field-level
// validation happens in the orchestrator; this only rejects malformed JSON.
func parseChatRequest(r io.Reader) (*chat.TurnRequest, error) {
	var req chat.TurnRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return &req, nil
}

// callerKey identifies the caller for rate limiting. Proxied requests are
// keyed by the first forwarded address.
func callerKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
