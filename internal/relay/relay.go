// ABOUTME: Websocket relay for simple-protocol chat without the full orchestrator
// ABOUTME: Each connection keeps its own in-memory history; no tools, no retries

package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/upstream"
)

// CompletionStreamer is the slice of the upstream client the relay uses.
type CompletionStreamer interface {
	StreamCompletion(ctx context.Context, req upstream.CompletionRequest) (<-chan upstream.Event, error)
}

// Relay serves websocket chat sessions over the simple protocol.
type Relay struct {
	upstream CompletionStreamer
	limiter  *ratelimit.Limiter
	cfg      *config.Config
	logger   *slog.Logger
}

// New builds a relay.
func New(up CompletionStreamer, limiter *ratelimit.Limiter, cfg *config.Config, logger *slog.Logger) *Relay {
	return &Relay{
		upstream: up,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger.With("component", "relay"),
	}
}

// inbound is one client message on the socket. A conversation id renames
// the connection's history so the client sees its own id echoed back.
type inbound struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ServeHTTP upgrades the connection and serves turns until the client
// disconnects.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		rl.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	conv := &chat.Conversation{ID: chat.NewConversationID()}
	if rl.cfg.Chat.SystemPrompt != "" {
		conv.Append(chat.NewMessage(chat.RoleSystem, rl.cfg.Chat.SystemPrompt))
	}
	caller := r.RemoteAddr

	rl.logger.Info("connection opened", "conversation_id", conv.ID, "remote", caller)
	for {
		var in inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			rl.logger.Debug("connection closed", "conversation_id", conv.ID)
			return
		}

		if !rl.serveTurn(ctx, conn, conv, caller, in) {
			return
		}
	}
}

// serveTurn runs one message through the upstream and writes the event
// stream back. Returns false when the connection is unusable.
func (rl *Relay) serveTurn(ctx context.Context, conn *websocket.Conn, conv *chat.Conversation, caller string, in inbound) bool {
	send := func(ev chat.StreamEvent) bool {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			rl.logger.Debug("write failed", "conversation_id", conv.ID, "error", err)
			return false
		}
		return true
	}

	if in.ConversationID != "" {
		if !chat.ValidConversationID(in.ConversationID) {
			return send(chat.ErrorEvent("invalid conversation id"))
		}
		conv.ID = in.ConversationID
	}

	message := in.Message
	if strings.TrimSpace(message) == "" {
		return send(chat.ErrorEvent("message must not be empty"))
	}
	if len(message) > rl.cfg.Chat.MaxMessageLength {
		return send(chat.ErrorEvent("message exceeds maximum length"))
	}
	if err := rl.limiter.Allow(caller); err != nil {
		return send(chat.ErrorEvent("rate limit exceeded"))
	}

	if !send(chat.StartEvent(conv.ID)) {
		return false
	}

	messages := append(append([]chat.Message(nil), conv.Messages...), chat.NewMessage(chat.RoleUser, message))
	events, err := rl.upstream.StreamCompletion(ctx, upstream.CompletionRequest{
		Model:            rl.cfg.Simple.Model,
		Messages:         messages,
		Temperature:      rl.cfg.Simple.Temperature,
		TopP:             rl.cfg.Simple.TopP,
		MaxTokens:        rl.cfg.Simple.MaxTokens,
		FrequencyPenalty: rl.cfg.Simple.FrequencyPenalty,
		PresencePenalty:  rl.cfg.Simple.PresencePenalty,
	})
	if err != nil {
		rl.logger.Warn("completion rejected", "conversation_id", conv.ID, "error", err)
		return send(chat.ErrorEvent("upstream request failed"))
	}

	var text strings.Builder
	finishReason := "stop"
	for ev := range events {
		switch ev.Kind {
		case upstream.EventTextDelta:
			text.WriteString(ev.Text)
			if !send(chat.ChunkEvent(ev.Text)) {
				return false
			}
		case upstream.EventFinish:
			finishReason = ev.FinishReason
		case upstream.EventError:
			rl.logger.Warn("stream failed", "conversation_id", conv.ID, "error", ev.Err)
			return send(chat.ErrorEvent("upstream stream failed"))
		}
	}

	// failed turns leave the per-connection history untouched
	conv.Append(chat.NewMessage(chat.RoleUser, message))
	conv.Append(chat.NewMessage(chat.RoleAssistant, text.String()))
	conv.Trim(rl.cfg.Chat.MaxMessages)

	return send(chat.DoneEvent(finishReason))
}
