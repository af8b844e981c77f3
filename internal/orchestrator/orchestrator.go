// ABOUTME: Turn orchestration: validation, admission, streaming, tool loops and persistence
// ABOUTME: Pre-stream failures return errors; once streaming begins every outcome is an event

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/upstream"
)

// UpstreamClient is the slice of the provider client the orchestrator uses.
type UpstreamClient interface {
	StreamCompletion(ctx context.Context, req upstream.CompletionRequest) (<-chan upstream.Event, error)
	StreamResponse(ctx context.Context, req upstream.ResponseRequest) (<-chan upstream.Event, error)
	CreateResponse(ctx context.Context, req upstream.ResponseRequest) (*upstream.Response, error)
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
}

// Orchestrator drives one turn at a time from validation through
// persistence.
type Orchestrator struct {
	upstream UpstreamClient
	history  history.Store
	limiter  *ratelimit.Limiter
	tools    *tools.Registry
	cfg      *config.Config
	logger   *slog.Logger
}

// New wires an orchestrator from its collaborators.
func New(up UpstreamClient, store history.Store, limiter *ratelimit.Limiter, registry *tools.Registry, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		upstream: up,
		history:  store,
		limiter:  limiter,
		tools:    registry,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Run executes one turn for caller. A nil error means the stream opened:
// the returned channel carries a start event, then chunks, tool calls and
// notices, and is closed after exactly one done or error event. A non-nil
// error means nothing was streamed and nothing was persisted.
func (o *Orchestrator) Run(ctx context.Context, caller string, req chat.TurnRequest) (<-chan chat.StreamEvent, error) {
	if err := o.validate(&req); err != nil {
		return nil, err
	}

	if err := o.limiter.Allow(caller); err != nil {
		return nil, err
	}

	conv, err := o.loadConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	attachmentRefs, err := o.uploadAttachments(ctx, req.Attachments)
	if err != nil {
		return nil, fmt.Errorf("uploading attachments: %w", err)
	}

	events := make(chan chat.StreamEvent)
	go o.runTurn(ctx, events, conv, req, attachmentRefs)
	return events, nil
}

// validate normalizes and checks the request in place.
func (o *Orchestrator) validate(req *chat.TurnRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return validationErrorf("message must not be empty")
	}
	if max := o.cfg.Chat.MaxMessageLength; len(req.Message) > max {
		return validationErrorf("message exceeds maximum length of %d", max)
	}

	switch req.Protocol {
	case "":
		req.Protocol = chat.ProtocolSimple
	case chat.ProtocolSimple, chat.ProtocolStateful:
	default:
		return validationErrorf("unknown protocol %q", req.Protocol)
	}

	if req.ConversationID == "" {
		req.ConversationID = chat.NewConversationID()
	} else if !chat.ValidConversationID(req.ConversationID) {
		return validationErrorf("invalid conversation id %q", req.ConversationID)
	}

	if err := chat.ValidateToolSpecs(req.Tools); err != nil {
		return &ValidationError{Msg: err.Error()}
	}

	for i, att := range req.Attachments {
		if att.Name == "" {
			return validationErrorf("attachment %d: name is required", i)
		}
		if len(att.Data) == 0 {
			return validationErrorf("attachment %q: data is empty", att.Name)
		}
	}

	return nil
}

// loadConversation fetches history or seeds a fresh conversation with the
// configured system prompt.
func (o *Orchestrator) loadConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	conv, err := o.history.Load(ctx, id)
	if err == nil {
		return conv, nil
	}
	if err != history.ErrNotFound {
		return nil, err
	}

	conv = &chat.Conversation{ID: id}
	if o.cfg.Chat.SystemPrompt != "" {
		conv.Append(chat.NewMessage(chat.RoleSystem, o.cfg.Chat.SystemPrompt))
	}
	return conv, nil
}

func (o *Orchestrator) uploadAttachments(ctx context.Context, attachments []chat.Attachment) ([]chat.AttachmentRef, error) {
	var refs []chat.AttachmentRef
	for _, att := range attachments {
		fileID, err := o.upstream.UploadFile(ctx, att.Name, att.Data)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", att.Name, err)
		}
		refs = append(refs, chat.AttachmentRef{FileID: fileID, Name: att.Name})
	}
	return refs, nil
}

// turnResult carries what a completed protocol run produced.
type turnResult struct {
	text         string
	finishReason string
	toolCalls    []chat.ToolCall
	responseID   string
}

func (o *Orchestrator) runTurn(ctx context.Context, events chan<- chat.StreamEvent, conv *chat.Conversation, req chat.TurnRequest, refs []chat.AttachmentRef) {
	defer close(events)

	emit := func(ev chat.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(chat.StartEvent(conv.ID)) {
		return
	}

	var result *turnResult
	switch req.Protocol {
	case chat.ProtocolStateful:
		result = o.runStateful(ctx, emit, conv, req, refs)
	default:
		result = o.runSimple(ctx, emit, conv, req)
	}
	if result == nil {
		// terminal error already emitted; nothing is persisted
		return
	}

	userMsg := chat.NewMessage(chat.RoleUser, req.Message)
	userMsg.Attachments = refs
	conv.Append(userMsg)

	assistantMsg := chat.NewMessage(chat.RoleAssistant, result.text)
	assistantMsg.ToolCalls = result.toolCalls
	conv.Append(assistantMsg)

	if result.responseID != "" {
		conv.LastResponseID = result.responseID
	}
	conv.Trim(o.cfg.Chat.MaxMessages)

	if err := o.history.Save(ctx, conv); err != nil {
		o.logger.Error("persisting conversation failed", "conversation_id", conv.ID, "error", err)
		emit(chat.ErrorEvent("failed to persist conversation"))
		return
	}

	emit(chat.DoneEvent(result.finishReason))
}

// runSimple executes one simple-protocol turn: the full history travels
// with the request and no tools are offered.
func (o *Orchestrator) runSimple(ctx context.Context, emit func(chat.StreamEvent) bool, conv *chat.Conversation, req chat.TurnRequest) *turnResult {
	messages := append(append([]chat.Message(nil), conv.Messages...), chat.NewMessage(chat.RoleUser, req.Message))

	upReq := upstream.CompletionRequest{
		Model:            o.cfg.Simple.Model,
		Messages:         messages,
		Temperature:      o.cfg.Simple.Temperature,
		TopP:             o.cfg.Simple.TopP,
		MaxTokens:        o.cfg.Simple.MaxTokens,
		FrequencyPenalty: o.cfg.Simple.FrequencyPenalty,
		PresencePenalty:  o.cfg.Simple.PresencePenalty,
	}
	if req.Model != "" {
		upReq.Model = req.Model
	}
	if req.Temperature != nil {
		upReq.Temperature = *req.Temperature
	}

	upEvents, err := o.upstream.StreamCompletion(ctx, upReq)
	if err != nil {
		o.logger.Warn("completion stream rejected", "conversation_id", conv.ID, "error", err)
		emit(chat.ErrorEvent(publicError(err)))
		return nil
	}

	var text strings.Builder
	finishReason := "stop"
	for ev := range upEvents {
		switch ev.Kind {
		case upstream.EventTextDelta:
			text.WriteString(ev.Text)
			if !emit(chat.ChunkEvent(ev.Text)) {
				return nil
			}
		case upstream.EventFinish:
			finishReason = ev.FinishReason
		case upstream.EventError:
			o.logger.Warn("completion stream failed", "conversation_id", conv.ID, "error", ev.Err)
			emit(chat.ErrorEvent(publicError(ev.Err)))
			return nil
		}
	}

	return &turnResult{text: text.String(), finishReason: finishReason}
}

// runStateful executes one stateful-protocol turn, looping through tool
// rounds until the upstream finishes with text. Client-class rejections
// before the first byte go through the fallback ladder.
func (o *Orchestrator) runStateful(ctx context.Context, emit func(chat.StreamEvent) bool, conv *chat.Conversation, req chat.TurnRequest, refs []chat.AttachmentRef) *turnResult {
	streamReq := o.buildStatefulRequest(conv, req, refs)
	ladder := &fallbackLadder{fallbackModel: o.cfg.Stateful.FallbackModel}

	var text strings.Builder
	var callRecord chat.Message
	finishReason := "stop"
	responseID := ""

	streamed := false
	rounds := 0
	for {
		upEvents, err := o.upstream.StreamResponse(ctx, streamReq)
		if err != nil {
			if !streamed {
				err = o.classify(ctx, streamReq, err)
				if notice, ok := ladder.apply(&streamReq, err); ok {
					o.logger.Info("degrading request after upstream rejection",
						"conversation_id", conv.ID, "notice", notice, "error", err)
					if !emit(chat.NoticeEvent(notice)) {
						return nil
					}
					continue
				}
			}
			o.logger.Warn("response stream rejected", "conversation_id", conv.ID, "error", err)
			emit(chat.ErrorEvent(publicError(err)))
			return nil
		}
		streamed = true

		var pending []*upstream.ToolInvocation
		finished := false
		for ev := range upEvents {
			switch ev.Kind {
			case upstream.EventCreated:
				responseID = ev.ResponseID
			case upstream.EventTextDelta:
				text.WriteString(ev.Text)
				if !emit(chat.ChunkEvent(ev.Text)) {
					return nil
				}
			case upstream.EventToolCall:
				pending = append(pending, ev.ToolCall)
			case upstream.EventFinish:
				finished = true
				finishReason = ev.FinishReason
				if ev.ResponseID != "" {
					responseID = ev.ResponseID
				}
			case upstream.EventError:
				o.logger.Warn("response stream failed", "conversation_id", conv.ID, "error", ev.Err)
				emit(chat.ErrorEvent(publicError(ev.Err)))
				return nil
			}
		}

		if len(pending) == 0 {
			if !finished {
				emit(chat.ErrorEvent("upstream stream ended unexpectedly"))
				return nil
			}
			return &turnResult{
				text:         text.String(),
				finishReason: finishReason,
				toolCalls:    callRecord.ToolCalls,
				responseID:   responseID,
			}
		}

		rounds++
		if rounds > o.cfg.Chat.MaxToolRounds {
			o.logger.Warn("tool round limit reached", "conversation_id", conv.ID, "rounds", rounds)
			emit(chat.ErrorEvent("tool invocation limit reached"))
			return nil
		}

		var results []upstream.ToolResult
		for _, call := range pending {
			if hasToolCall(callRecord.ToolCalls, call.CallID) {
				continue
			}

			tc := chat.ToolCall{
				CallID:    call.CallID,
				Name:      call.Name,
				Arguments: call.Arguments,
				Status:    chat.ToolCallRequested,
			}
			callRecord.ToolCalls = append(callRecord.ToolCalls, tc)
			if !emit(chat.ToolCallEvent(tc)) {
				return nil
			}

			// tools run one at a time, never concurrently with each other
			out, err := o.tools.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				o.logger.Warn("tool execution failed", "tool", call.Name, "call_id", call.CallID, "error", err)
				tc.Status = chat.ToolCallFailed
				tc.Result = err.Error()
				out = "error: " + err.Error()
			} else {
				tc.Status = chat.ToolCallCompleted
				tc.Result = out
			}
			callRecord.RecordToolResult(call.CallID, tc.Status, tc.Result)
			if !emit(chat.ToolCallEvent(tc)) {
				return nil
			}

			results = append(results, upstream.ToolResult{CallID: call.CallID, Output: out})
		}

		streamReq = upstream.ResponseRequest{
			Model:              streamReq.Model,
			PreviousResponseID: responseID,
			Tools:              streamReq.Tools,
			KnowledgeStoreRefs: streamReq.KnowledgeStoreRefs,
			Temperature:        streamReq.Temperature,
			ToolResults:        results,
		}
	}
}

// buildStatefulRequest merges request overrides over configured defaults.
// Configured and request-supplied tool lists are unioned, de-duplicated by
// name with the request spec winning. Configured knowledge-store refs ride
// along only when the request leaves tool selection to the gateway; refs
// supplied with the request are always honored.
func (o *Orchestrator) buildStatefulRequest(conv *chat.Conversation, req chat.TurnRequest, refs []chat.AttachmentRef) upstream.ResponseRequest {
	out := upstream.ResponseRequest{
		Model:              o.cfg.Stateful.Model,
		Input:              req.Message,
		PreviousResponseID: conv.LastResponseID,
		Attachments:        refs,
		Temperature:        req.Temperature,
	}
	if req.Model != "" {
		out.Model = req.Model
	}

	if conv.LastResponseID == "" && o.cfg.Chat.SystemPrompt != "" {
		out.Instructions = o.cfg.Chat.SystemPrompt
	}

	promptRef := o.cfg.Stateful.PromptRef
	promptVersion := o.cfg.Stateful.PromptVersion
	if req.PromptRef != "" {
		promptRef = req.PromptRef
		promptVersion = req.PromptVersion
	}
	if promptRef != "" {
		out.Prompt = &upstream.PromptRef{ID: promptRef, Version: promptVersion}
	}

	out.Tools = mergeToolSpecs(o.tools.Specs(o.cfg.Stateful.Tools), req.Tools)

	out.KnowledgeStoreRefs = req.KnowledgeStoreRefs
	if len(out.KnowledgeStoreRefs) == 0 && len(req.Tools) == 0 {
		out.KnowledgeStoreRefs = o.cfg.Stateful.KnowledgeStoreRefs
	}
	return out
}

// mergeToolSpecs unions configured and request-supplied tool lists,
// de-duplicated by name. A request spec replaces a configured spec with the
// same name.
func mergeToolSpecs(configured, requested []chat.ToolSpec) []chat.ToolSpec {
	if len(requested) == 0 {
		return configured
	}
	merged := make([]chat.ToolSpec, 0, len(configured)+len(requested))
	byName := make(map[string]int, len(configured))
	for _, s := range configured {
		byName[s.Name] = len(merged)
		merged = append(merged, s)
	}
	for _, s := range requested {
		if i, ok := byName[s.Name]; ok {
			merged[i] = s
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// classify resolves an ambiguous stream rejection. A failure that carries
// no upstream status is repeated as a single non-streaming call so the
// fallback ladder decides on the definitive upstream error rather than a
// transport-level one.
func (o *Orchestrator) classify(ctx context.Context, req upstream.ResponseRequest, err error) error {
	if _, ok := upstream.AsAPIError(err); ok {
		return err
	}
	if _, probeErr := o.upstream.CreateResponse(ctx, req); probeErr != nil {
		return probeErr
	}
	return err
}

func hasToolCall(calls []chat.ToolCall, callID string) bool {
	for _, tc := range calls {
		if tc.CallID == callID {
			return true
		}
	}
	return false
}

// publicError reduces an upstream failure to a client-safe message.
func publicError(err error) string {
	if apiErr, ok := upstream.AsAPIError(err); ok {
		if apiErr.IsServerError() {
			return "upstream service unavailable"
		}
		return fmt.Sprintf("upstream rejected the request: %s", apiErr.Message)
	}
	return err.Error()
}
